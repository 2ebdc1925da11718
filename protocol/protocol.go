// Package protocol runs a scripted charge and discharge experiment against a
// battery, one time step at a time.
package protocol

import (
	"errors"
	"fmt"
)

var ErrStepLimit = errors.New("step limit reached")

// StepFunc applies a current for one time step and returns the terminal
// voltage afterwards. Positive current discharges.
type StepFunc func(current float64) (float64, error)

type Stage string

const (
	StageChargeCC     Stage = "charge-cc"
	StageChargeCV     Stage = "charge-cv"
	StageDischarge    Stage = "discharge"
	StagePulses       Stage = "pulses"
	StageDischargeEnd Stage = "discharge-end"
)

// Config describes the experiment. Rates are in C, times in seconds.
type Config struct {
	ChargeRate           float64 `mapstructure:"charge-rate"`
	DischargeRate        float64 `mapstructure:"discharge-rate"`
	DischargeStageTime   float64 `mapstructure:"discharge-stage-time"`
	PulseTime            float64 `mapstructure:"pulse-time"`
	TotalPulseTime       float64 `mapstructure:"total-pulse-time"`
	HighCutoffVoltage    float64 `mapstructure:"high-cutoff-voltage"`
	LowCutoffVoltage     float64 `mapstructure:"low-cutoff-voltage"`
	CVCurrentStep        float64 `mapstructure:"cv-current-step"`
	CVTerminationCurrent float64 `mapstructure:"cv-termination-current"`
	MaxSteps             int     `mapstructure:"max-steps"` // 0 is no limit
}

// DefaultConfig is a CC-CV charge at 0.5C followed by 1C discharges with a
// pulsed section in the middle.
func DefaultConfig() Config {
	return Config{
		ChargeRate:           0.5,
		DischargeRate:        1,
		DischargeStageTime:   20 * 60,
		PulseTime:            60,
		TotalPulseTime:       40 * 60,
		HighCutoffVoltage:    4.2,
		LowCutoffVoltage:     2.5,
		CVCurrentStep:        0.01,
		CVTerminationCurrent: 0.1,
		MaxSteps:             100000,
	}
}

// Validate rejects settings that would never finish a stage.
func (c Config) Validate() error {
	if c.CVCurrentStep <= 0 {
		return fmt.Errorf("CV current step must be positive, got %v", c.CVCurrentStep)
	}
	if c.TotalPulseTime > 0 && c.PulseTime <= 0 {
		return fmt.Errorf("pulse time must be positive, got %v", c.PulseTime)
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("max steps can't be negative, got %d", c.MaxSteps)
	}
	return nil
}

// Protocol steps through the stages of an experiment.
type Protocol struct {
	config     Config
	capacityAh float64
	timeStep   float64
	step       StepFunc

	// OnStage, if set, is called as each stage starts.
	OnStage func(Stage)

	steps int
}

func New(config Config, capacityAh, timeStep float64, step StepFunc) (*Protocol, error) {
	if capacityAh <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %v", capacityAh)
	}
	if timeStep <= 0 {
		return nil, fmt.Errorf("time step must be positive, got %v", timeStep)
	}
	if step == nil {
		return nil, errors.New("no step function")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Protocol{
		config:     config,
		capacityAh: capacityAh,
		timeStep:   timeStep,
		step:       step,
	}, nil
}

// Run builds a Protocol and runs it.
func Run(config Config, capacityAh, timeStep float64, step StepFunc) error {
	p, err := New(config, capacityAh, timeStep, step)
	if err != nil {
		return err
	}
	return p.Run()
}

// Steps is how many times the step function has been called.
func (p *Protocol) Steps() int {
	return p.steps
}

// Run executes every stage in order and stops at the first error.
func (p *Protocol) Run() error {
	voltage, err := p.chargeCC()
	if err != nil {
		return err
	}
	if err := p.chargeCV(voltage); err != nil {
		return err
	}
	if err := p.discharge(StageDischarge); err != nil {
		return err
	}
	if err := p.pulses(); err != nil {
		return err
	}
	return p.discharge(StageDischargeEnd)
}

// chargeCC charges at a constant current until the high cutoff is reached.
func (p *Protocol) chargeCC() (float64, error) {
	p.startStage(StageChargeCC)
	current := -p.config.ChargeRate * p.capacityAh
	voltage := 0.0
	for voltage < p.config.HighCutoffVoltage {
		v, err := p.apply(StageChargeCC, current)
		if err != nil {
			return 0, err
		}
		voltage = v
	}
	return voltage, nil
}

// chargeCV holds the voltage near the high cutoff by backing the charge
// current off, until it falls below the termination current.
func (p *Protocol) chargeCV(voltage float64) error {
	p.startStage(StageChargeCV)
	current := -p.config.ChargeRate * p.capacityAh
	for current < -p.config.CVTerminationCurrent {
		if voltage > p.config.HighCutoffVoltage*1.001 {
			current += p.config.CVCurrentStep * p.capacityAh
		}
		v, err := p.apply(StageChargeCV, current)
		if err != nil {
			return err
		}
		voltage = v
	}
	return nil
}

func (p *Protocol) discharge(s Stage) error {
	p.startStage(s)
	return p.hold(s, p.config.DischargeRate*p.capacityAh, p.config.DischargeStageTime)
}

// pulses alternates a rest with a discharge, each PulseTime long.
func (p *Protocol) pulses() error {
	p.startStage(StagePulses)
	for elapsed := 0.0; elapsed < p.config.TotalPulseTime; {
		if err := p.hold(StagePulses, 0, p.config.PulseTime); err != nil {
			return err
		}
		if err := p.hold(StagePulses, p.config.DischargeRate*p.capacityAh, p.config.PulseTime); err != nil {
			return err
		}
		elapsed += 2 * p.config.PulseTime
	}
	return nil
}

// hold applies current for at least duration seconds.
func (p *Protocol) hold(s Stage, current, duration float64) error {
	for t := 0.0; t < duration; t += p.timeStep {
		if _, err := p.apply(s, current); err != nil {
			return err
		}
	}
	return nil
}

func (p *Protocol) startStage(s Stage) {
	if p.OnStage != nil {
		p.OnStage(s)
	}
}

// apply runs one step, counting it against MaxSteps.
func (p *Protocol) apply(s Stage, current float64) (float64, error) {
	if p.config.MaxSteps > 0 && p.steps >= p.config.MaxSteps {
		return 0, fmt.Errorf("%s: %w (%d)", s, ErrStepLimit, p.config.MaxSteps)
	}
	p.steps++
	v, err := p.step(current)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", s, err)
	}
	return v, nil
}
