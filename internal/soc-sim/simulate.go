package socsim

import (
	"fmt"
	"time"

	"github.com/TheCacophonyProject/soc-estimator/battery"
	"github.com/TheCacophonyProject/soc-estimator/estimator"
	"github.com/TheCacophonyProject/soc-estimator/protocol"
	"github.com/TheCacophonyProject/soc-estimator/trace"
)

type runOptions struct {
	seed          uint64
	noNoise       bool
	tracePath     string
	progressSteps int
}

type result struct {
	Summary        estimator.Summary
	Steps          int
	ElapsedSeconds float64
	TrueSoC        float64
	EstimatedSoC   float64
}

func (r result) elapsed() time.Duration {
	return time.Duration(r.ElapsedSeconds * float64(time.Second))
}

func (r result) details() map[string]interface{} {
	details := r.Summary.Details()
	details["elapsedSeconds"] = r.ElapsedSeconds
	details["trueSoC"] = r.TrueSoC
	details["estimatedSoC"] = r.EstimatedSoC
	return details
}

// simulate runs the experiment protocol on a fresh battery and estimator.
func simulate(conf Config, opts runOptions) (result, error) {
	ocv, err := conf.OCVPolynomial()
	if err != nil {
		return result{}, err
	}
	log.Debug("OCV: ", ocv)
	b, err := battery.New(conf.Battery, ocv)
	if err != nil {
		return result{}, err
	}
	if err := b.SetStateOfCharge(conf.InitialSoC); err != nil {
		return result{}, err
	}

	var noise estimator.NoiseSource = estimator.NoNoise{}
	if !opts.noNoise {
		noise = estimator.NewGaussianNoise(conf.Filter.NoiseStdDev, opts.seed)
	}

	stats := &estimator.ErrorStats{}
	recorders := []estimator.Recorder{stats}
	var traceWriter *trace.Writer
	if opts.tracePath != "" {
		traceWriter, err = trace.Create(opts.tracePath)
		if err != nil {
			return result{}, err
		}
		defer traceWriter.Close()
		recorders = append(recorders, traceWriter)
	}

	e, err := estimator.New(b, conf.Filter, noise, recorders...)
	if err != nil {
		return result{}, err
	}

	lowVoltage := false
	step := func(current float64) (float64, error) {
		s, err := e.Step(current)
		if err != nil {
			return 0, err
		}
		log.Debugf("Step %d, current: %.3f, voltage: %.4f, SoC: %.4f, estimate: %.4f",
			e.Steps(), s.Current, s.TrueVoltage, s.TrueSoC, s.EstimatedSoC)
		if opts.progressSteps > 0 && e.Steps()%opts.progressSteps == 0 {
			log.Infof("Step %d, SoC: %.3f, estimate: %.3f, error: %.4f", e.Steps(), s.TrueSoC, s.EstimatedSoC, s.SoCError())
			if seconds, ok := e.TimeToEmpty(); ok {
				log.Debugf("Estimated time to empty: %s", time.Duration(seconds*float64(time.Second)).Round(time.Second))
			}
		}
		if !lowVoltage && s.TrueVoltage < conf.Protocol.LowCutoffVoltage {
			log.Warnf("Voltage %.3f is below the low cutoff %.2f at step %d", s.TrueVoltage, conf.Protocol.LowCutoffVoltage, e.Steps())
			lowVoltage = true
		}
		return s.TrueVoltage, nil
	}

	p, err := protocol.New(conf.Protocol, conf.Battery.TotalCapacityAh, conf.Filter.TimeStep, step)
	if err != nil {
		return result{}, err
	}
	p.OnStage = func(s protocol.Stage) {
		soc, _ := e.Estimate()
		log.Infof("Starting %s at step %d, SoC: %.3f, estimate: %.3f", s, e.Steps(), b.StateOfCharge(), soc)
	}

	if err := p.Run(); err != nil {
		return result{}, fmt.Errorf("simulation failed at step %d: %w", e.Steps(), err)
	}
	if traceWriter != nil {
		if err := traceWriter.Close(); err != nil {
			return result{}, err
		}
	}

	soc, _ := e.Estimate()
	return result{
		Summary:        stats.Summary(),
		Steps:          e.Steps(),
		ElapsedSeconds: e.Elapsed(),
		TrueSoC:        b.StateOfCharge(),
		EstimatedSoC:   soc,
	}, nil
}
