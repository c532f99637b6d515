package sesolve

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// magnus holds H constant at its midpoint value over each step and applies the exact propagator
//
//	exp(-i H h) = Q exp(-i Λ h) Qᵀ
//
// obtained from the eigendecomposition H = Q Λ Qᵀ.
// The propagator is unitary, so the norm of the state is preserved up to rounding.
type magnus struct {
	s    *system
	opts Options

	eig  mat.EigenSym
	q    mat.Dense
	vals []float64
	ca   *mat.VecDense
	cb   *mat.VecDense
}

func newMagnus(s *system, opts Options) *magnus {
	return &magnus{
		s:    s,
		opts: opts,
		vals: make([]float64, s.dim),
		ca:   mat.NewVecDense(s.dim, nil),
		cb:   mat.NewVecDense(s.dim, nil),
	}
}

func (m *magnus) advance(y []float64, t0, t1 float64) (int, error) {
	if t1 == t0 {
		return 0, nil
	}

	n := 1
	if m.opts.MaxStep > 0 {
		n = int(math.Ceil((t1 - t0) / m.opts.MaxStep))
	}
	if n > m.opts.MaxSteps {
		return 0, errors.Errorf("%d steps between t=%f and t=%f exceed %d", n, t0, t1, m.opts.MaxSteps)
	}
	h := (t1 - t0) / float64(n)

	dim := m.s.dim
	a := mat.NewVecDense(dim, y[:dim])
	b := mat.NewVecDense(dim, y[dim:])
	for k := 0; k < n; k++ {
		tm := t0 + (float64(k)+0.5)*h
		if ok := m.eig.Factorize(m.s.hamiltonian(tm), true); !ok {
			return k, errors.Errorf("eigen factorization failed at t=%f", tm)
		}
		m.eig.Values(m.vals)
		m.q.Reset()
		m.eig.VectorsTo(&m.q)

		m.ca.MulVec(m.q.T(), a)
		m.cb.MulVec(m.q.T(), b)
		for j, lambda := range m.vals {
			sin, cos := math.Sincos(lambda * h)
			re, im := m.ca.AtVec(j), m.cb.AtVec(j)
			m.ca.SetVec(j, re*cos+im*sin)
			m.cb.SetVec(j, im*cos-re*sin)
		}
		a.MulVec(&m.q, m.ca)
		b.MulVec(&m.q, m.cb)
	}
	return n, nil
}
