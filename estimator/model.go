package estimator

import (
	"fmt"
	"math"

	"github.com/TheCacophonyProject/soc-estimator/battery"
	"github.com/TheCacophonyProject/soc-estimator/ekf"
	"github.com/TheCacophonyProject/soc-estimator/polynomial"
	"gonum.org/v1/gonum/mat"
)

// Positions in the filter state vector.
const (
	socIndex = iota
	rcIndex
	stateLen
)

// OCVModel is the filter's view of the terminal voltage, OCV(soc) - V_rc.
// The series resistance drop is left out, the caller adds it back to the
// measurement before updating.
type OCVModel struct {
	ocv  polynomial.Polynomial
	docv polynomial.Polynomial
}

func NewOCVModel(ocv polynomial.Polynomial) OCVModel {
	return OCVModel{
		ocv:  ocv,
		docv: ocv.Derivative(),
	}
}

func (m OCVModel) Predict(x mat.Vector) (mat.Vector, error) {
	if x.Len() != stateLen {
		return nil, fmt.Errorf("%w: OCV model needs a state of length %d, got %d", ekf.ErrDimensionMismatch, stateLen, x.Len())
	}
	return mat.NewVecDense(1, []float64{m.ocv.Evaluate(x.AtVec(socIndex)) - x.AtVec(rcIndex)}), nil
}

// Jacobian is [dOCV/dsoc, -1].
func (m OCVModel) Jacobian(x mat.Vector) (mat.Matrix, error) {
	if x.Len() != stateLen {
		return nil, fmt.Errorf("%w: OCV model needs a state of length %d, got %d", ekf.ErrDimensionMismatch, stateLen, x.Len())
	}
	return mat.NewDense(1, stateLen, []float64{m.docv.Evaluate(x.AtVec(socIndex)), -1}), nil
}

// FilterConfig holds the estimator settings that are not physical constants
// of the battery.
type FilterConfig struct {
	TimeStep          float64 `mapstructure:"time-step"`
	NoiseStdDev       float64 `mapstructure:"noise-std-dev"`
	InitialSoC        float64 `mapstructure:"initial-soc"`
	InitialRCVoltage  float64 `mapstructure:"initial-rc-voltage"`
	ProcessNoiseScale float64 `mapstructure:"process-noise-scale"`
}

// DefaultFilterConfig starts the estimate at half charge with 15mV of
// measurement noise.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		TimeStep:          10,
		NoiseStdDev:       0.015,
		InitialSoC:        0.5,
		InitialRCVoltage:  0,
		ProcessNoiseScale: 50,
	}
}

func (c FilterConfig) Validate() error {
	if !(c.TimeStep > 0) || math.IsInf(c.TimeStep, 0) {
		return fmt.Errorf("%w: time step must be positive, got %v", battery.ErrInvalidParameter, c.TimeStep)
	}
	if !(c.NoiseStdDev > 0) || math.IsInf(c.NoiseStdDev, 0) {
		return fmt.Errorf("%w: noise standard deviation must be positive, got %v", battery.ErrInvalidParameter, c.NoiseStdDev)
	}
	if !(c.ProcessNoiseScale > 0) || math.IsInf(c.ProcessNoiseScale, 0) {
		return fmt.Errorf("%w: process noise scale must be positive, got %v", battery.ErrInvalidParameter, c.ProcessNoiseScale)
	}
	return nil
}

// NewFilter builds the two state [soc, V_rc] filter for a battery.
//
//	F = [1 0; 0 k]          k = exp(-dt/(R1*C1))
//	B = [-dt/Q; R1*(1-k)]   Q = capacity in ampere seconds
//	P = R = var, Q = var/scale
func NewFilter(params battery.Params, ocv polynomial.Polynomial, c FilterConfig) (*ekf.Filter, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	k := math.Exp(-c.TimeStep / params.TimeConstant())
	variance := c.NoiseStdDev * c.NoiseStdDev
	processVariance := variance / c.ProcessNoiseScale

	return ekf.New(ekf.Config{
		X: mat.NewVecDense(stateLen, []float64{c.InitialSoC, c.InitialRCVoltage}),
		F: mat.NewDense(stateLen, stateLen, []float64{
			1, 0,
			0, k,
		}),
		B: mat.NewDense(stateLen, 1, []float64{
			-c.TimeStep / (params.TotalCapacityAh * 3600),
			params.R1 * (1 - k),
		}),
		P: mat.NewDiagDense(stateLen, []float64{variance, variance}),
		Q: mat.NewDiagDense(stateLen, []float64{processVariance, processVariance}),
		R: mat.NewDense(1, 1, []float64{variance}),

		Model: NewOCVModel(ocv),
	})
}
