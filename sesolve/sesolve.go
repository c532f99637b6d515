// Package sesolve integrates the time dependent Schrödinger equation
//
//	i d|ψ>/dt = H(t) |ψ>,  H(t) = Σ_k c_k(t) H_k
//
// for real symmetric H_k and records expectation values of real symmetric observables.
//
// The state ψ = a + ib is stored as the real vector [a; b], so that the equation becomes
//
//	da/dt =  H(t) b
//	db/dt = -H(t) a
//
// and <ψ|O|ψ> = aᵀOa + bᵀOb for any real symmetric O.
package sesolve

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

type Method string

const (
	// MethodDOPRI5 is the adaptive Dormand-Prince 5(4) Runge-Kutta method.
	MethodDOPRI5 Method = "dopri5"
	// MethodMagnus propagates with exp(-i H(t+h/2) h) over each step, the second order Magnus expansion.
	MethodMagnus Method = "magnus"
)

const (
	DefaultAbsTol   = 1e-8
	DefaultRelTol   = 1e-6
	DefaultMaxSteps = 2500
)

// Term is one operator of a time dependent Hamiltonian together with its coefficient.
// A nil Coeff means a constant coefficient of 1.
type Term struct {
	H     mat.Symmetric
	Coeff func(t float64) float64
}

// Options configures the integrator.
// The zero value selects MethodDOPRI5 with the Default tolerances.
type Options struct {
	Method Method

	// AbsTol and RelTol bound the local error estimate of MethodDOPRI5.
	AbsTol float64
	RelTol float64
	// MaxSteps is the step budget between two consecutive output times.
	MaxSteps int
	// MaxStep caps the step size, 0 means unlimited.
	// For MethodMagnus it is the step size, and 0 means one step per output interval.
	MaxStep float64
	// FirstStep is the initial step size of MethodDOPRI5, 0 means automatic.
	FirstStep float64

	Logger zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Method == "" {
		o.Method = MethodDOPRI5
	}
	if o.AbsTol <= 0 {
		o.AbsTol = DefaultAbsTol
	}
	if o.RelTol <= 0 {
		o.RelTol = DefaultRelTol
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = DefaultMaxSteps
	}
	return o
}

// Result holds the expectation values at each output time.
// Expect[i][k] is the expectation of the k-th observable at Times[i].
type Result struct {
	Times  []float64
	Expect [][]float64
	// State is the final state.
	State []complex128
	// Steps is the total number of accepted steps.
	Steps int
}

// Solve integrates the Schrödinger equation from psi0 at tlist[0] over tlist.
// tlist must be non-empty and non-decreasing.
func Solve(terms []Term, psi0 []complex128, tlist []float64, eOps []mat.Symmetric, opts Options) (Result, error) {
	opts = opts.withDefaults()
	if len(tlist) == 0 {
		return Result{}, errors.Errorf("empty tlist")
	}
	for i := 1; i < len(tlist); i++ {
		if tlist[i] < tlist[i-1] {
			return Result{}, errors.Errorf("tlist decreases at %d: %f %f", i, tlist[i-1], tlist[i])
		}
	}
	dim := len(psi0)
	if dim == 0 {
		return Result{}, errors.Errorf("empty initial state")
	}
	for i, term := range terms {
		if n := term.H.SymmetricDim(); n != dim {
			return Result{}, errors.Errorf("term %d dim %d, state dim %d", i, n, dim)
		}
	}
	for i, e := range eOps {
		if n := e.SymmetricDim(); n != dim {
			return Result{}, errors.Errorf("observable %d dim %d, state dim %d", i, n, dim)
		}
	}

	s := newSystem(terms, dim)
	y := make([]float64, 2*dim)
	for i, v := range psi0 {
		y[i], y[dim+i] = real(v), imag(v)
	}

	var step stepper
	switch opts.Method {
	case MethodDOPRI5:
		step = newDOPRI5(s, opts)
	case MethodMagnus:
		step = newMagnus(s, opts)
	default:
		return Result{}, errors.Errorf("unknown method %q", opts.Method)
	}

	progress := newThrottle(progressInterval)
	res := Result{Times: append([]float64(nil), tlist...), Expect: make([][]float64, 0, len(tlist))}
	res.Expect = append(res.Expect, expect(eOps, y, dim))
	for i := 1; i < len(tlist); i++ {
		steps, err := step.advance(y, tlist[i-1], tlist[i])
		if err != nil {
			return Result{}, errors.Wrap(err, "")
		}
		res.Steps += steps
		if !finite(y) {
			return Result{}, errors.Errorf("non-finite state at t=%f", tlist[i])
		}
		res.Expect = append(res.Expect, expect(eOps, y, dim))
		opts.Logger.Debug().Float64("t", tlist[i]).Int("steps", steps).Msg("sesolve")
		if progress.ok() {
			opts.Logger.Info().Float64("t", tlist[i]).Float64("end", tlist[len(tlist)-1]).Int("steps", res.Steps).Msg("sesolve progress")
		}
	}

	res.State = make([]complex128, dim)
	for i := range res.State {
		res.State[i] = complex(y[i], y[dim+i])
	}
	return res, nil
}

// Expect returns <ψ|O|ψ> for each O in eOps.
func Expect(eOps []mat.Symmetric, psi []complex128) []float64 {
	dim := len(psi)
	y := make([]float64, 2*dim)
	for i, v := range psi {
		y[i], y[dim+i] = real(v), imag(v)
	}
	return expect(eOps, y, dim)
}

func expect(eOps []mat.Symmetric, y []float64, dim int) []float64 {
	a := mat.NewVecDense(dim, y[:dim])
	b := mat.NewVecDense(dim, y[dim:])
	vals := make([]float64, len(eOps))
	for k, e := range eOps {
		vals[k] = mat.Inner(a, e, a) + mat.Inner(b, e, b)
	}
	return vals
}

func finite(y []float64) bool {
	for _, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

const progressInterval = 10 * time.Second

// throttle reports ok at most once per d.
type throttle struct {
	d    time.Duration
	last time.Time
}

func newThrottle(d time.Duration) *throttle {
	return &throttle{d: d, last: time.Now()}
}

func (tt *throttle) ok() bool {
	now := time.Now()
	if now.Before(tt.last.Add(tt.d)) {
		return false
	}
	tt.last = now
	return true
}

// stepper advances y from t0 to t1 in place and reports the number of steps taken.
type stepper interface {
	advance(y []float64, t0, t1 float64) (int, error)
}

// system evaluates H(t) and the right hand side of the real form of the equation.
type system struct {
	terms  []Term
	dim    int
	h      *mat.SymDense
	scaled mat.SymDense
	t      float64
	ready  bool
}

func newSystem(terms []Term, dim int) *system {
	return &system{terms: terms, dim: dim, h: mat.NewSymDense(dim, nil)}
}

// hamiltonian returns H(t), reusing the previous evaluation when t is unchanged.
func (s *system) hamiltonian(t float64) *mat.SymDense {
	if s.ready && s.t == t {
		return s.h
	}
	s.h.Zero()
	for _, term := range s.terms {
		c := 1.0
		if term.Coeff != nil {
			c = term.Coeff(t)
		}
		if c == 0 {
			continue
		}
		s.scaled.ScaleSym(c, term.H)
		s.h.AddSym(s.h, &s.scaled)
	}
	s.t, s.ready = t, true
	return s.h
}

// derivative sets dy = f(t, y).
func (s *system) derivative(dy, y []float64, t float64) {
	h := s.hamiltonian(t)
	a := mat.NewVecDense(s.dim, y[:s.dim])
	b := mat.NewVecDense(s.dim, y[s.dim:])
	da := mat.NewVecDense(s.dim, dy[:s.dim])
	db := mat.NewVecDense(s.dim, dy[s.dim:])
	da.MulVec(h, b)
	db.MulVec(h, a)
	db.ScaleVec(-1, db)
}
