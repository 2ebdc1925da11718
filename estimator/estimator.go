// Package estimator drives a simulated battery and an extended Kalman filter
// together, one time step at a time, and reports how well the filter tracks
// the battery's state of charge.
package estimator

import (
	"fmt"

	"github.com/TheCacophonyProject/soc-estimator/battery"
	"github.com/TheCacophonyProject/soc-estimator/ekf"
)

// Sample is everything known about one time step.
type Sample struct {
	Time               float64 // seconds since the start of the run
	Current            float64
	TrueVoltage        float64
	MeasuredVoltage    float64
	TrueSoC            float64
	EstimatedSoC       float64
	EstimatedRCVoltage float64
}

// SoCError is estimated minus true state of charge.
func (s Sample) SoCError() float64 {
	return s.EstimatedSoC - s.TrueSoC
}

// Recorder is given every sample the estimator produces.
type Recorder interface {
	Record(Sample) error
}

// Estimator owns a battery and the filter tracking it.
type Estimator struct {
	battery   *battery.Battery
	filter    *ekf.Filter
	noise     NoiseSource
	timeStep  float64
	elapsed   float64
	steps     int
	recorders []Recorder
}

// New builds the filter for b from c. A nil noise source means measurements
// are the true terminal voltage.
func New(b *battery.Battery, c FilterConfig, noise NoiseSource, recorders ...Recorder) (*Estimator, error) {
	filter, err := NewFilter(b.Params(), b.OCV(), c)
	if err != nil {
		return nil, err
	}
	if noise == nil {
		noise = NoNoise{}
	}
	return &Estimator{
		battery:   b,
		filter:    filter,
		noise:     noise,
		timeStep:  c.TimeStep,
		recorders: recorders,
	}, nil
}

// Step applies current for one time step:
// the battery is advanced, a noisy terminal voltage is measured, then the
// filter predicts with the current and updates with the measurement.
func (e *Estimator) Step(current float64) (Sample, error) {
	if err := e.battery.SetCurrent(current); err != nil {
		return Sample{}, err
	}
	if err := e.battery.Update(e.timeStep); err != nil {
		return Sample{}, err
	}
	e.elapsed += e.timeStep
	e.steps++

	trueVoltage := e.battery.TerminalVoltage()
	measured := trueVoltage + e.noise.Sample()

	if err := e.filter.PredictScalar(current); err != nil {
		return Sample{}, fmt.Errorf("step %d predict: %w", e.steps, err)
	}
	// The measurement model has no R0, so put the ohmic drop back.
	if err := e.filter.UpdateScalar(measured + e.battery.Params().R0*current); err != nil {
		return Sample{}, fmt.Errorf("step %d update: %w", e.steps, err)
	}

	s := e.sample(measured)
	for _, r := range e.recorders {
		if err := r.Record(s); err != nil {
			return s, fmt.Errorf("step %d record: %w", e.steps, err)
		}
	}
	return s, nil
}

// StepCallback runs a step and returns the true terminal voltage. It is the
// hook a charge/discharge protocol drives the simulation with.
func (e *Estimator) StepCallback(current float64) (float64, error) {
	s, err := e.Step(current)
	if err != nil {
		return 0, err
	}
	return s.TrueVoltage, nil
}

// Snapshot returns the current state without stepping. The measured voltage
// is the true voltage.
func (e *Estimator) Snapshot() Sample {
	return e.sample(e.battery.TerminalVoltage())
}

// Estimate returns the estimated state of charge and RC branch voltage.
func (e *Estimator) Estimate() (soc, rcVoltage float64) {
	x := e.filter.State()
	return x.AtVec(socIndex), x.AtVec(rcIndex)
}

func (e *Estimator) Battery() *battery.Battery {
	return e.battery
}

func (e *Estimator) Filter() *ekf.Filter {
	return e.filter
}

// TimeToEmpty is how long the estimated charge lasts at the present current,
// in seconds. ok is false when the battery is not discharging.
func (e *Estimator) TimeToEmpty() (seconds float64, ok bool) {
	current := e.battery.Current()
	if current <= 0 {
		return 0, false
	}
	soc, _ := e.Estimate()
	if soc <= 0 {
		return 0, true
	}
	return soc * e.battery.TotalCapacity() / current, true
}

// Elapsed is the simulated time in seconds.
func (e *Estimator) Elapsed() float64 {
	return e.elapsed
}

func (e *Estimator) Steps() int {
	return e.steps
}

func (e *Estimator) sample(measured float64) Sample {
	soc, rc := e.Estimate()
	return Sample{
		Time:               e.elapsed,
		Current:            e.battery.Current(),
		TrueVoltage:        e.battery.TerminalVoltage(),
		MeasuredVoltage:    measured,
		TrueSoC:            e.battery.StateOfCharge(),
		EstimatedSoC:       soc,
		EstimatedRCVoltage: rc,
	}
}
