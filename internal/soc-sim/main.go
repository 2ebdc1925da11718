/*
soc-sim - Simulating state of charge estimation on a battery.
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package socsim

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	arg "github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"
)

var version = "No version provided"

var log = logrus.New()

// Replaced in tests.
var addEvent = eventclient.AddEvent

type Args struct {
	Config        string `arg:"-c, --config" help:"TOML config file, defaults are used for anything not set"`
	Trace         string `arg:"--trace" help:"Write a CSV trace of every step to this file"`
	Seed          uint64 `arg:"--seed" help:"Seed for the measurement noise"`
	NoNoise       bool   `arg:"--no-noise" help:"Measure the true terminal voltage"`
	ReportEvents  bool   `arg:"--report-events" help:"Report the run summary as an event"`
	ProgressSteps int    `arg:"--progress-steps" help:"Log progress every this many steps, 0 to disable"`
	LogLevel      string `arg:"-l, --log-level" help:"Set the logging level (debug, info, warn, error)"`
}

func (Args) Version() string {
	return version
}

var defaultArgs = Args{
	Seed:          1,
	ProgressSteps: 100,
	LogLevel:      "info",
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		log.Warn("Unknown log level, defaulting to info")
	}
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("[%s] %s\n", strings.ToUpper(entry.Level.String()), entry.Message)), nil
}

// Run simulates a charge and discharge experiment on a battery while an
// extended Kalman filter estimates its state of charge from noisy voltage
// readings.
func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}

	log.SetFormatter(new(customFormatter))
	setLogLevel(args.LogLevel)

	log.Info("Running version: ", version)

	conf, err := LoadConfig(args.Config)
	if err != nil {
		return err
	}
	if args.Config != "" {
		log.Info("Loaded config from ", args.Config)
	}
	log.Debugf("Config: %+v", conf)

	res, err := simulate(conf, runOptions{
		seed:          args.Seed,
		noNoise:       args.NoNoise,
		tracePath:     args.Trace,
		progressSteps: args.ProgressSteps,
	})
	if err != nil {
		return err
	}

	log.Infof("Finished after %d steps (%s simulated)", res.Steps, res.elapsed())
	log.Infof("True SoC: %.4f, estimated SoC: %.4f", res.TrueSoC, res.EstimatedSoC)
	log.Info("SoC error ", res.Summary)
	if args.Trace != "" {
		log.Info("Trace written to ", args.Trace)
	}

	if args.ReportEvents {
		log.Println("Reporting socEstimate")
		err := addEvent(eventclient.Event{
			Timestamp: time.Now(),
			Type:      "socEstimate",
			Details:   res.details(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}
