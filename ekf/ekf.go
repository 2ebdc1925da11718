// Package ekf implements an extended Kalman filter with a linear process model
// and a nonlinear measurement model that is re-linearised at every update.
//
// The filter has no notion of time. Anything that depends on the time step
// (F, B and Q) is supplied by the caller and must be rebuilt if the step
// changes.
package ekf

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// singularEpsilon is the smallest magnitude a scalar innovation covariance can
// have before it is treated as singular.
const singularEpsilon = 1e-12

var (
	ErrInvalidInput                 = errors.New("invalid filter input")
	ErrDimensionMismatch            = errors.New("dimension mismatch")
	ErrSingularInnovationCovariance = errors.New("innovation covariance is singular")
)

// MeasurementModel maps a state vector to the expected measurement.
type MeasurementModel interface {
	// Predict returns h(x), a vector of the measurement dimension.
	Predict(x mat.Vector) (mat.Vector, error)
	// Jacobian returns dh/dx evaluated at x, a measurement x state matrix.
	Jacobian(x mat.Vector) (mat.Matrix, error)
}

// Config is the initial condition and the fixed matrices of a filter.
// B may be nil when the process has no control input.
type Config struct {
	X     mat.Vector // initial state, n
	P     mat.Matrix // initial state covariance, n x n
	F     mat.Matrix // state transition, n x n
	B     mat.Matrix // control input, n x k
	Q     mat.Matrix // process noise covariance, n x n
	R     mat.Matrix // measurement noise covariance, m x m
	Model MeasurementModel
}

// Filter is an extended Kalman filter. Only the state and covariance change
// after construction.
type Filter struct {
	n, k, m int

	x *mat.VecDense
	p *mat.SymDense

	f *mat.Dense
	b *mat.Dense
	q *mat.Dense
	r *mat.Dense

	model MeasurementModel

	// From the most recent successful update.
	gain       *mat.Dense
	innovation *mat.VecDense
}

// New checks the shapes of the configuration and returns a filter holding
// copies of all the matrices.
func New(c Config) (*Filter, error) {
	if c.X == nil || c.P == nil || c.F == nil || c.Q == nil || c.R == nil {
		return nil, fmt.Errorf("%w: x, P, F, Q and R are required", ErrDimensionMismatch)
	}
	if c.Model == nil {
		return nil, fmt.Errorf("%w: no measurement model", ErrInvalidInput)
	}
	n := c.X.Len()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty state vector", ErrDimensionMismatch)
	}
	if err := checkDims("P", c.P, n, n); err != nil {
		return nil, err
	}
	if err := checkDims("F", c.F, n, n); err != nil {
		return nil, err
	}
	if err := checkDims("Q", c.Q, n, n); err != nil {
		return nil, err
	}
	m, mc := c.R.Dims()
	if m == 0 || m != mc {
		return nil, fmt.Errorf("%w: R must be square and non empty, got %dx%d", ErrDimensionMismatch, m, mc)
	}
	k := 0
	if c.B != nil {
		var br int
		br, k = c.B.Dims()
		if br != n {
			return nil, fmt.Errorf("%w: B has %d rows, state has %d", ErrDimensionMismatch, br, n)
		}
	}

	for name, a := range map[string]mat.Matrix{"P": c.P, "F": c.F, "Q": c.Q, "R": c.R} {
		if !finiteMatrix(a) {
			return nil, fmt.Errorf("%w: %s has non finite values", ErrInvalidInput, name)
		}
	}
	if !finiteVector(c.X) {
		return nil, fmt.Errorf("%w: initial state has non finite values", ErrInvalidInput)
	}

	kf := &Filter{
		n:     n,
		k:     k,
		m:     m,
		x:     mat.VecDenseCopyOf(c.X),
		p:     symmetrise(c.P),
		f:     mat.DenseCopyOf(c.F),
		q:     mat.DenseCopyOf(c.Q),
		r:     mat.DenseCopyOf(c.R),
		model: c.Model,
	}
	if c.B != nil {
		if !finiteMatrix(c.B) {
			return nil, fmt.Errorf("%w: B has non finite values", ErrInvalidInput)
		}
		kf.b = mat.DenseCopyOf(c.B)
	}
	return kf, nil
}

// Dims returns the state, control and measurement dimensions.
func (kf *Filter) Dims() (n, k, m int) {
	return kf.n, kf.k, kf.m
}

// State returns a copy of the current state estimate.
func (kf *Filter) State() mat.Vector {
	return mat.VecDenseCopyOf(kf.x)
}

// Covariance returns a copy of the current state covariance.
func (kf *Filter) Covariance() mat.Symmetric {
	return mat.NewSymDense(kf.n, append([]float64(nil), kf.p.RawSymmetric().Data...))
}

// Gain returns the Kalman gain used by the last update, or nil before the
// first update.
func (kf *Filter) Gain() mat.Matrix {
	if kf.gain == nil {
		return nil
	}
	return mat.DenseCopyOf(kf.gain)
}

// Innovation returns the measurement residual of the last update, or nil
// before the first update.
func (kf *Filter) Innovation() mat.Vector {
	if kf.innovation == nil {
		return nil
	}
	return mat.VecDenseCopyOf(kf.innovation)
}

// Predict projects the state forward one step:
//
//	x = F*x + B*u
//	P = F*P*F' + Q
//
// u may be nil if the filter has no control input.
func (kf *Filter) Predict(u mat.Vector) error {
	var ulen int
	if u != nil {
		ulen = u.Len()
	}
	if ulen != kf.k {
		return fmt.Errorf("%w: control has length %d, B has %d columns", ErrDimensionMismatch, ulen, kf.k)
	}
	if u != nil && !finiteVector(u) {
		return fmt.Errorf("%w: control %v", ErrInvalidInput, mat.Formatted(u.T()))
	}

	x := mat.NewVecDense(kf.n, nil)
	x.MulVec(kf.f, kf.x)
	if kf.k > 0 {
		bu := mat.NewVecDense(kf.n, nil)
		bu.MulVec(kf.b, u)
		x.AddVec(x, bu)
	}

	var p mat.Dense
	p.Product(kf.f, kf.p, kf.f.T())
	p.Add(&p, kf.q)

	kf.x = x
	kf.p = symmetrise(&p)
	return nil
}

// PredictScalar is Predict for filters with a single control input.
func (kf *Filter) PredictScalar(u float64) error {
	if kf.k != 1 {
		return fmt.Errorf("%w: filter has %d control inputs", ErrDimensionMismatch, kf.k)
	}
	return kf.Predict(mat.NewVecDense(1, []float64{u}))
}

// Update corrects the state with measurement z. The measurement model is
// linearised at the current estimate and the covariance is updated with the
// Joseph form
//
//	P = (I - K*H)*P*(I - K*H)' + K*R*K'
//
// which keeps P symmetric and positive semi-definite under rounding.
// If any step fails the state and covariance are left unchanged.
func (kf *Filter) Update(z mat.Vector) error {
	if z == nil || z.Len() != kf.m {
		return fmt.Errorf("%w: measurement must have length %d", ErrDimensionMismatch, kf.m)
	}
	if !finiteVector(z) {
		return fmt.Errorf("%w: measurement %v", ErrInvalidInput, mat.Formatted(z.T()))
	}

	h, err := kf.model.Jacobian(kf.x)
	if err != nil {
		return fmt.Errorf("measurement jacobian: %w", err)
	}
	if err := checkDims("H", h, kf.m, kf.n); err != nil {
		return err
	}
	hx, err := kf.model.Predict(kf.x)
	if err != nil {
		return fmt.Errorf("measurement prediction: %w", err)
	}
	if hx.Len() != kf.m {
		return fmt.Errorf("%w: measurement model returned length %d, want %d", ErrDimensionMismatch, hx.Len(), kf.m)
	}

	// y = z - h(x)
	y := mat.NewVecDense(kf.m, nil)
	y.SubVec(z, hx)

	// S = H*P*H' + R
	var pht mat.Dense
	pht.Mul(kf.p, h.T())
	var s mat.Dense
	s.Mul(h, &pht)
	s.Add(&s, kf.r)

	sInv, err := invert(&s)
	if err != nil {
		return err
	}

	// K = P*H'*S^-1
	gain := mat.NewDense(kf.n, kf.m, nil)
	gain.Mul(&pht, sInv)

	x := mat.NewVecDense(kf.n, nil)
	x.MulVec(gain, y)
	x.AddVec(kf.x, x)

	var a mat.Dense
	a.Mul(gain, h)
	a.Sub(eye(kf.n), &a)

	var apa mat.Dense
	apa.Product(&a, kf.p, a.T())
	var krk mat.Dense
	krk.Product(gain, kf.r, gain.T())
	apa.Add(&apa, &krk)

	if !finiteVector(x) || !finiteMatrix(&apa) {
		return fmt.Errorf("%w: update produced non finite values", ErrInvalidInput)
	}

	kf.x = x
	kf.p = symmetrise(&apa)
	kf.gain = gain
	kf.innovation = y
	return nil
}

// UpdateScalar is Update for filters with a single measurement.
func (kf *Filter) UpdateScalar(z float64) error {
	if kf.m != 1 {
		return fmt.Errorf("%w: filter has %d measurements", ErrDimensionMismatch, kf.m)
	}
	return kf.Update(mat.NewVecDense(1, []float64{z}))
}

func (kf *Filter) String() string {
	return fmt.Sprintf("x=%v\nP=%v",
		mat.Formatted(kf.x.T(), mat.Prefix("  ")),
		mat.Formatted(kf.p, mat.Prefix("  ")))
}

func invert(s *mat.Dense) (*mat.Dense, error) {
	if r, _ := s.Dims(); r == 1 {
		v := s.At(0, 0)
		if math.Abs(v) < singularEpsilon {
			return nil, fmt.Errorf("%w: S = %g", ErrSingularInnovationCovariance, v)
		}
		return mat.NewDense(1, 1, []float64{1 / v}), nil
	}
	var inv mat.Dense
	if err := inv.Inverse(s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularInnovationCovariance, err)
	}
	return &inv, nil
}

func checkDims(name string, a mat.Matrix, rows, cols int) error {
	r, c := a.Dims()
	if r != rows || c != cols {
		return fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrDimensionMismatch, name, r, c, rows, cols)
	}
	return nil
}

// symmetrise returns (A + A')/2 for a square A.
func symmetrise(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (a.At(i, j)+a.At(j, i))/2)
		}
	}
	return s
}

func eye(n int) *mat.DiagDense {
	d := make([]float64, n)
	for i := range d {
		d[i] = 1
	}
	return mat.NewDiagDense(n, d)
}

func finiteVector(v mat.Vector) bool {
	for i := 0; i < v.Len(); i++ {
		if f := v.AtVec(i); math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func finiteMatrix(a mat.Matrix) bool {
	r, c := a.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if f := a.At(i, j); math.IsNaN(f) || math.IsInf(f, 0) {
				return false
			}
		}
	}
	return true
}
