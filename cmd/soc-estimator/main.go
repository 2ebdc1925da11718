package main

import (
	"fmt"
	"os"

	socsim "github.com/TheCacophonyProject/soc-estimator/internal/soc-sim"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

var version = "<not set>"

func runMain() error {
	if len(os.Args) < 2 {
		log.Info("Usage: soc-estimator <simulate|ocv> [args]")
		return fmt.Errorf("no subcommand given")
	}

	subcommand := os.Args[1]
	args := os.Args[2:]

	var err error
	switch subcommand {
	case "simulate":
		err = socsim.Run(args, version)
	case "ocv":
		err = socsim.RunOCV(args, version)
	default:
		err = fmt.Errorf("unknown subcommand: %s", subcommand)
	}

	return err
}
