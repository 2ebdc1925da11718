package polynomial

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNoCoefficients = errors.New("polynomial needs at least one coefficient")

// DefaultOCV is the open circuit voltage curve of a single Li-ion cell as a
// function of state of charge (0 = empty, 1 = full).
var DefaultOCV = MustNew([]float64{3.1400, 3.9905, -14.2391, 24.4140, -13.5688, -4.0621, 4.5056})

// Polynomial is a one dimensional polynomial with coefficients stored in
// ascending power, so coeffs[i] multiplies x^i.
// The zero value is the empty polynomial (degree -1), which evaluates to 0.
type Polynomial struct {
	coeffs []float64
}

// New makes a polynomial from the given coefficients. The slice is copied.
func New(coeffs []float64) (Polynomial, error) {
	if len(coeffs) == 0 {
		return Polynomial{}, ErrNoCoefficients
	}
	c := make([]float64, len(coeffs))
	copy(c, coeffs)
	return Polynomial{coeffs: c}, nil
}

// MustNew is like New but panics on error. Only for package level curves.
func MustNew(coeffs []float64) Polynomial {
	p, err := New(coeffs)
	if err != nil {
		panic(err)
	}
	return p
}

// Degree returns -1 for the empty polynomial.
func (p Polynomial) Degree() int {
	return len(p.coeffs) - 1
}

// Coefficients returns a copy of the coefficients in ascending power.
func (p Polynomial) Coefficients() []float64 {
	c := make([]float64, len(p.coeffs))
	copy(c, p.coeffs)
	return c
}

// Evaluate returns the sum of c[i]*x^i.
func (p Polynomial) Evaluate(x float64) float64 {
	value := 0.0
	for i := len(p.coeffs) - 1; i >= 0; i-- {
		value = value*x + p.coeffs[i]
	}
	return value
}

// Derivative returns d/dx of the polynomial. A constant has the empty
// polynomial as its derivative.
func (p Polynomial) Derivative() Polynomial {
	if len(p.coeffs) <= 1 {
		return Polynomial{coeffs: []float64{}}
	}
	d := make([]float64, len(p.coeffs)-1)
	for i := range d {
		d[i] = float64(i+1) * p.coeffs[i+1]
	}
	return Polynomial{coeffs: d}
}

func (p Polynomial) String() string {
	if len(p.coeffs) == 0 {
		return "0"
	}
	terms := make([]string, 0, len(p.coeffs))
	for i, c := range p.coeffs {
		switch i {
		case 0:
			terms = append(terms, fmt.Sprintf("%g", c))
		case 1:
			terms = append(terms, fmt.Sprintf("%g*x", c))
		default:
			terms = append(terms, fmt.Sprintf("%g*x^%d", c, i))
		}
	}
	return strings.Join(terms, " + ")
}
