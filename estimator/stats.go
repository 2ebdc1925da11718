package estimator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the state of charge error over a run.
type Summary struct {
	Steps       int
	MeanError   float64
	StdDevError float64
	RMSE        float64
	MaxAbsError float64
	FinalError  float64
}

func (s Summary) String() string {
	return fmt.Sprintf("steps: %d, mean error: %.4f, std dev: %.4f, RMSE: %.4f, max abs error: %.4f, final error: %.4f",
		s.Steps, s.MeanError, s.StdDevError, s.RMSE, s.MaxAbsError, s.FinalError)
}

// Details is the summary as event details.
func (s Summary) Details() map[string]interface{} {
	return map[string]interface{}{
		"steps":       s.Steps,
		"meanError":   s.MeanError,
		"stdDevError": s.StdDevError,
		"rmse":        s.RMSE,
		"maxAbsError": s.MaxAbsError,
		"finalError":  s.FinalError,
	}
}

// ErrorStats is a Recorder that keeps the state of charge error of every
// sample.
type ErrorStats struct {
	errs []float64
}

func (e *ErrorStats) Record(s Sample) error {
	e.errs = append(e.errs, s.SoCError())
	return nil
}

func (e *ErrorStats) Summary() Summary {
	n := len(e.errs)
	if n == 0 {
		return Summary{}
	}
	s := Summary{
		Steps:       n,
		MeanError:   stat.Mean(e.errs, nil),
		RMSE:        floats.Norm(e.errs, 2) / math.Sqrt(float64(n)),
		MaxAbsError: floats.Norm(e.errs, math.Inf(1)),
		FinalError:  e.errs[n-1],
	}
	if n > 1 {
		s.StdDevError = stat.StdDev(e.errs, nil)
	}
	return s
}
