package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCell reaches the high cutoff after a few charge steps and then sits
// above it.
type fakeCell struct {
	calls    int
	currents []float64
	stages   []Stage
	current  Stage
	perStage map[Stage]int
}

func newFakeCell() *fakeCell {
	return &fakeCell{perStage: map[Stage]int{}}
}

func (f *fakeCell) step(current float64) (float64, error) {
	f.calls++
	f.currents = append(f.currents, current)
	f.perStage[f.current]++
	if f.calls < 5 {
		return 4.0, nil
	}
	return 4.3, nil
}

func (f *fakeCell) onStage(s Stage) {
	f.current = s
	f.stages = append(f.stages, s)
}

func TestRunStages(t *testing.T) {
	cell := newFakeCell()
	p, err := New(DefaultConfig(), 3.2, 10, cell.step)
	require.NoError(t, err)
	p.OnStage = cell.onStage

	require.NoError(t, p.Run())

	assert.Equal(t, []Stage{StageChargeCC, StageChargeCV, StageDischarge, StagePulses, StageDischargeEnd}, cell.stages)
	assert.Equal(t, 5, cell.perStage[StageChargeCC])
	assert.Equal(t, 47, cell.perStage[StageChargeCV])
	assert.Equal(t, 120, cell.perStage[StageDischarge])
	assert.Equal(t, 240, cell.perStage[StagePulses])
	assert.Equal(t, 120, cell.perStage[StageDischargeEnd])
	assert.Equal(t, 532, p.Steps())
	assert.Equal(t, 532, cell.calls)

	// Charge current is 0.5C.
	assert.Equal(t, -1.6, cell.currents[0])
	// CV backs off by 0.01C per step while over the cutoff.
	assert.InDelta(t, -1.6+0.032, cell.currents[5], 1e-12)
	assert.InDelta(t, -0.096, cell.currents[51], 1e-9)
	// Discharge is 1C.
	assert.Equal(t, 3.2, cell.currents[52])

	// Pulses rest for a minute then discharge for a minute.
	pulses := cell.currents[172:412]
	for i, c := range pulses {
		if (i/6)%2 == 0 {
			assert.Equal(t, 0.0, c, "step %d", i)
		} else {
			assert.Equal(t, 3.2, c, "step %d", i)
		}
	}
}

func TestCVHoldsCurrentAtCutoff(t *testing.T) {
	var currents []float64
	calls := 0
	step := func(current float64) (float64, error) {
		calls++
		currents = append(currents, current)
		switch {
		case calls == 1:
			return 4.2, nil
		case calls <= 3:
			// Within 0.1% of the cutoff, so no back off.
			return 4.203, nil
		default:
			return 4.3, nil
		}
	}
	c := DefaultConfig()
	c.DischargeStageTime = 0
	c.TotalPulseTime = 0
	require.NoError(t, Run(c, 3.2, 10, step))

	assert.Equal(t, -1.6, currents[1])
	assert.Equal(t, -1.6, currents[2])
	assert.Equal(t, -1.6, currents[3])
	assert.InDelta(t, -1.6+0.032, currents[4], 1e-12)
	assert.Len(t, currents, 1+3+47)
}

func TestStepLimit(t *testing.T) {
	c := DefaultConfig()
	c.MaxSteps = 50
	p, err := New(c, 3.2, 10, func(float64) (float64, error) { return 3.0, nil })
	require.NoError(t, err)

	err = p.Run()
	assert.ErrorIs(t, err, ErrStepLimit)
	assert.Contains(t, err.Error(), string(StageChargeCC))
	assert.Equal(t, 50, p.Steps())
}

func TestCallbackErrorNamesStage(t *testing.T) {
	cell := newFakeCell()
	stepErr := errors.New("cell disconnected")
	step := func(current float64) (float64, error) {
		if cell.calls == 9 {
			return 0, stepErr
		}
		return cell.step(current)
	}
	p, err := New(DefaultConfig(), 3.2, 10, step)
	require.NoError(t, err)
	p.OnStage = cell.onStage

	err = p.Run()
	assert.ErrorIs(t, err, stepErr)
	assert.Contains(t, err.Error(), string(StageChargeCV))
	assert.Equal(t, []Stage{StageChargeCC, StageChargeCV}, cell.stages)
	assert.Equal(t, 10, p.Steps())
}

func TestNewRejectsBadSettings(t *testing.T) {
	step := func(float64) (float64, error) { return 0, nil }
	tests := []struct {
		name     string
		capacity float64
		timeStep float64
		step     StepFunc
		modify   func(c *Config)
	}{
		{"zero capacity", 0, 10, step, nil},
		{"negative time step", 3.2, -1, step, nil},
		{"no step function", 3.2, 10, nil, nil},
		{"zero CV step", 3.2, 10, step, func(c *Config) { c.CVCurrentStep = 0 }},
		{"zero pulse time", 3.2, 10, step, func(c *Config) { c.PulseTime = 0 }},
		{"negative max steps", 3.2, 10, step, func(c *Config) { c.MaxSteps = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			if tc.modify != nil {
				tc.modify(&c)
			}
			_, err := New(c, tc.capacity, tc.timeStep, tc.step)
			assert.Error(t, err)
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}
