package socsim

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/TheCacophonyProject/soc-estimator/polynomial"
	arg "github.com/alexflint/go-arg"
	"gonum.org/v1/gonum/floats"
)

type OCVArgs struct {
	Config string `arg:"-c, --config" help:"TOML config file to take the OCV coefficients from"`
	Points int    `arg:"-n, --points" help:"Number of SoC points from 0 to 1"`
}

func (OCVArgs) Version() string {
	return version
}

func procOCVArgs(input []string) (OCVArgs, error) {
	args := OCVArgs{Points: 11}

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return OCVArgs{}, err
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

// RunOCV prints the open circuit voltage curve and its slope.
func RunOCV(inputArgs []string, ver string) error {
	version = ver
	args, err := procOCVArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	conf, err := LoadConfig(args.Config)
	if err != nil {
		return err
	}
	ocv, err := conf.OCVPolynomial()
	if err != nil {
		return err
	}
	return writeOCVTable(os.Stdout, ocv, args.Points)
}

func writeOCVTable(w io.Writer, ocv polynomial.Polynomial, points int) error {
	if points < 2 {
		return fmt.Errorf("need at least 2 points, got %d", points)
	}
	docv := ocv.Derivative()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "SoC\tOCV (V)\tdOCV/dSoC (V)\n")
	for _, soc := range floats.Span(make([]float64, points), 0, 1) {
		fmt.Fprintf(tw, "%.3f\t%.4f\t%.4f\n", soc, ocv.Evaluate(soc), docv.Evaluate(soc))
	}
	return tw.Flush()
}
