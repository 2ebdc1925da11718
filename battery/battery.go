// Package battery simulates a cell with a Thevenin equivalent circuit: an open
// circuit voltage source, a series resistance R0 and a single R1||C1
// relaxation branch.
package battery

import (
	"errors"
	"fmt"
	"math"

	"github.com/TheCacophonyProject/soc-estimator/polynomial"
)

const secondsPerHour = 3600

var (
	ErrInvalidParameter = errors.New("invalid battery parameter")
	ErrInvalidInput     = errors.New("invalid battery input")
)

// Params are the fixed physical constants of a battery.
type Params struct {
	TotalCapacityAh float64 `mapstructure:"total-capacity-ah"`
	R0              float64 `mapstructure:"r0"`
	R1              float64 `mapstructure:"r1"`
	C1              float64 `mapstructure:"c1"`
}

// DefaultParams is a 3.2Ah Li-ion cell.
func DefaultParams() Params {
	return Params{
		TotalCapacityAh: 3.2,
		R0:              0.062,
		R1:              0.01,
		C1:              3000,
	}
}

// Validate checks that the RC time constant and capacity are usable.
func (p Params) Validate() error {
	for name, v := range map[string]float64{
		"total capacity": p.TotalCapacityAh,
		"R0":             p.R0,
		"R1":             p.R1,
		"C1":             p.C1,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is %v", ErrInvalidParameter, name, v)
		}
	}
	if p.TotalCapacityAh <= 0 {
		return fmt.Errorf("%w: total capacity must be positive, got %v", ErrInvalidParameter, p.TotalCapacityAh)
	}
	if p.R0 < 0 {
		return fmt.Errorf("%w: R0 can't be negative, got %v", ErrInvalidParameter, p.R0)
	}
	if p.R1 <= 0 {
		return fmt.Errorf("%w: R1 must be positive, got %v", ErrInvalidParameter, p.R1)
	}
	if p.C1 <= 0 {
		return fmt.Errorf("%w: C1 must be positive, got %v", ErrInvalidParameter, p.C1)
	}
	return nil
}

// TimeConstant is R1*C1 in seconds.
func (p Params) TimeConstant() float64 {
	return p.R1 * p.C1
}

// Battery holds the true internal state of a simulated cell.
// Capacities are in ampere seconds. Current is positive when discharging.
type Battery struct {
	params Params
	ocv    polynomial.Polynomial

	totalCapacity     float64
	remainingCapacity float64
	rcVoltage         float64
	current           float64
}

// New makes a fully charged battery with no current flowing.
func New(params Params, ocv polynomial.Polynomial) (*Battery, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if ocv.Degree() < 0 {
		return nil, fmt.Errorf("%w: empty OCV curve", ErrInvalidParameter)
	}
	total := params.TotalCapacityAh * secondsPerHour
	return &Battery{
		params:            params,
		ocv:               ocv,
		totalCapacity:     total,
		remainingCapacity: total,
	}, nil
}

func (b *Battery) Params() Params {
	return b.params
}

// OCV returns the open circuit voltage curve of the cell.
func (b *Battery) OCV() polynomial.Polynomial {
	return b.ocv
}

func (b *Battery) Current() float64 {
	return b.current
}

// SetCurrent sets the applied current. Positive discharges the battery.
func (b *Battery) SetCurrent(current float64) error {
	if !isFinite(current) {
		return fmt.Errorf("%w: current %v", ErrInvalidInput, current)
	}
	b.current = current
	return nil
}

// Update advances the battery by dt seconds with the current applied.
// The RC branch uses the exact exponential step so large dt stays stable.
func (b *Battery) Update(dt float64) error {
	if !isFinite(dt) || dt <= 0 {
		return fmt.Errorf("%w: time step %v", ErrInvalidInput, dt)
	}
	b.remainingCapacity -= b.current * dt
	k := math.Exp(-dt / b.params.TimeConstant())
	b.rcVoltage = b.rcVoltage*k + b.params.R1*(1-k)*b.current
	return nil
}

// StateOfCharge is remaining/total. It is not clamped, values below 0 or
// above 1 mean the cell is over discharged or over charged.
func (b *Battery) StateOfCharge() float64 {
	return b.remainingCapacity / b.totalCapacity
}

// SetStateOfCharge moves the remaining capacity to soc*total.
func (b *Battery) SetStateOfCharge(soc float64) error {
	if !isFinite(soc) {
		return fmt.Errorf("%w: state of charge %v", ErrInvalidInput, soc)
	}
	b.remainingCapacity = soc * b.totalCapacity
	return nil
}

func (b *Battery) OpenCircuitVoltage() float64 {
	return b.ocv.Evaluate(b.StateOfCharge())
}

// TerminalVoltage is OCV - R0*I - V_rc.
func (b *Battery) TerminalVoltage() float64 {
	return b.OpenCircuitVoltage() - b.params.R0*b.current - b.rcVoltage
}

func (b *Battery) RCVoltage() float64 {
	return b.rcVoltage
}

// RemainingCapacity is in ampere seconds.
func (b *Battery) RemainingCapacity() float64 {
	return b.remainingCapacity
}

// TotalCapacity is in ampere seconds.
func (b *Battery) TotalCapacity() float64 {
	return b.totalCapacity
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
