package protocol_test

import (
	"testing"

	"github.com/TheCacophonyProject/soc-estimator/battery"
	"github.com/TheCacophonyProject/soc-estimator/estimator"
	"github.com/TheCacophonyProject/soc-estimator/polynomial"
	"github.com/TheCacophonyProject/soc-estimator/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullRunWithEstimator(t *testing.T) {
	b, err := battery.New(battery.DefaultParams(), polynomial.DefaultOCV)
	require.NoError(t, err)
	require.NoError(t, b.SetStateOfCharge(0))

	stats := &estimator.ErrorStats{}
	e, err := estimator.New(b, estimator.DefaultFilterConfig(), estimator.NewGaussianNoise(0.015, 3), stats)
	require.NoError(t, err)

	perStage := map[protocol.Stage]int{}
	var stage protocol.Stage
	p, err := protocol.New(protocol.DefaultConfig(), b.Params().TotalCapacityAh, 10, func(current float64) (float64, error) {
		perStage[stage]++
		return e.StepCallback(current)
	})
	require.NoError(t, err)
	p.OnStage = func(s protocol.Stage) { stage = s }

	require.NoError(t, p.Run())

	assert.InDelta(t, 645, perStage[protocol.StageChargeCC], 5)
	assert.InDelta(t, 209, perStage[protocol.StageChargeCV], 5)
	assert.Equal(t, 120, perStage[protocol.StageDischarge])
	assert.Equal(t, 240, perStage[protocol.StagePulses])
	assert.Equal(t, 120, perStage[protocol.StageDischargeEnd])
	assert.Equal(t, p.Steps(), e.Steps())

	// The run ends close to empty and the filter is still tracking.
	assert.InDelta(t, 0.012, b.StateOfCharge(), 0.005)
	summary := stats.Summary()
	assert.Equal(t, e.Steps(), summary.Steps)
	assert.Less(t, summary.MaxAbsError, 0.6)
	assert.Less(t, summary.FinalError, 0.05)
	assert.Greater(t, summary.FinalError, -0.05)
}
