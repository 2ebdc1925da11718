package socsim

import (
	"fmt"
	"math"

	"github.com/TheCacophonyProject/soc-estimator/battery"
	"github.com/TheCacophonyProject/soc-estimator/estimator"
	"github.com/TheCacophonyProject/soc-estimator/polynomial"
	"github.com/TheCacophonyProject/soc-estimator/protocol"
	"github.com/spf13/viper"
)

type OCV struct {
	Coefficients []float64 `mapstructure:"coefficients"`
}

// Config is everything a simulation run needs. It is loaded from a TOML file
// with sections matching the mapstructure tags.
type Config struct {
	InitialSoC float64                `mapstructure:"initial-soc"`
	Battery    battery.Params         `mapstructure:"battery"`
	OCV        OCV                    `mapstructure:"ocv"`
	Filter     estimator.FilterConfig `mapstructure:"filter"`
	Protocol   protocol.Config        `mapstructure:"protocol"`
}

// DefaultConfig is a 3.2Ah cell starting empty, with the filter starting
// at half charge.
func DefaultConfig() Config {
	return Config{
		InitialSoC: 0,
		Battery:    battery.DefaultParams(),
		OCV:        OCV{Coefficients: polynomial.DefaultOCV.Coefficients()},
		Filter:     estimator.DefaultFilterConfig(),
		Protocol:   protocol.DefaultConfig(),
	}
}

// LoadConfig reads the config file at path over the defaults. An empty path
// gives the defaults.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		// Decoding over a longer default slice would keep its tail.
		c.OCV.Coefficients = nil
		if err := v.Unmarshal(&c); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if len(c.OCV.Coefficients) == 0 {
			c.OCV.Coefficients = polynomial.DefaultOCV.Coefficients()
		}
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if math.IsNaN(c.InitialSoC) || math.IsInf(c.InitialSoC, 0) {
		return fmt.Errorf("%w: initial SoC %v", battery.ErrInvalidParameter, c.InitialSoC)
	}
	if err := c.Battery.Validate(); err != nil {
		return err
	}
	if _, err := c.OCVPolynomial(); err != nil {
		return err
	}
	if err := c.Filter.Validate(); err != nil {
		return err
	}
	if err := c.Protocol.Validate(); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}
	return nil
}

func (c Config) OCVPolynomial() (polynomial.Polynomial, error) {
	p, err := polynomial.New(c.OCV.Coefficients)
	if err != nil {
		return polynomial.Polynomial{}, fmt.Errorf("ocv: %w", err)
	}
	return p, nil
}
