package sesolve

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Dormand-Prince 5(4) tableau.
// See Hairer, Nørsett and Wanner, Solving Ordinary Differential Equations I, Table 5.2.
var (
	dpC = [7]float64{0, 1. / 5, 3. / 10, 4. / 5, 8. / 9, 1, 1}
	dpA = [7][6]float64{
		{},
		{1. / 5},
		{3. / 40, 9. / 40},
		{44. / 45, -56. / 15, 32. / 9},
		{19372. / 6561, -25360. / 2187, 64448. / 6561, -212. / 729},
		{9017. / 3168, -355. / 33, 46732. / 5247, 49. / 176, -5103. / 18656},
		{35. / 384, 0, 500. / 1113, 125. / 192, -2187. / 6784, 11. / 84},
	}
	// dpE is the difference between the 5th and 4th order weights.
	dpE = [7]float64{71. / 57600, 0, -71. / 16695, 71. / 1920, -17253. / 339200, 22. / 525, -1. / 40}
)

const (
	dpSafety    = 0.9
	dpMinFactor = 0.2
	dpMaxFactor = 5.0
)

type dopri5 struct {
	s    *system
	opts Options

	// h is the step size proposed by the last accepted step.
	h float64

	k    [7][]float64
	ytmp []float64
	ynew []float64
}

func newDOPRI5(s *system, opts Options) *dopri5 {
	d := &dopri5{s: s, opts: opts, h: opts.FirstStep}
	n := 2 * s.dim
	for i := range d.k {
		d.k[i] = make([]float64, n)
	}
	d.ytmp = make([]float64, n)
	d.ynew = make([]float64, n)
	return d
}

func (d *dopri5) advance(y []float64, t0, t1 float64) (int, error) {
	if t1 == t0 {
		return 0, nil
	}

	t := t0
	d.s.derivative(d.k[0], y, t)
	if d.h <= 0 {
		d.h = d.initialStep(y, t, t1-t0)
	}

	var steps int
	for t < t1 {
		if steps >= d.opts.MaxSteps {
			return steps, errors.Errorf("exceeded %d steps between t=%f and t=%f, reached t=%f", d.opts.MaxSteps, t0, t1, t)
		}
		steps++

		h := d.h
		if d.opts.MaxStep > 0 {
			h = min(h, d.opts.MaxStep)
		}
		last := false
		if t+h >= t1 || t1-(t+h) < 1e-12*math.Abs(t1) {
			h, last = t1-t, true
		}

		errNorm := d.step(y, t, h)
		factor := dpMaxFactor
		if errNorm > 0 {
			factor = min(dpMaxFactor, max(dpMinFactor, dpSafety*math.Pow(errNorm, -0.2)))
		}
		if errNorm > 1 {
			d.h = h * min(1, factor)
			if t+d.h == t {
				return steps, errors.Errorf("step size underflow at t=%f", t)
			}
			continue
		}

		// Accept.
		copy(y, d.ynew)
		d.k[0], d.k[6] = d.k[6], d.k[0]
		if last {
			t = t1
		} else {
			t += h
		}
		// A clipped final step only ever shrinks the proposal.
		if !last || factor < 1 {
			d.h = h * factor
		}
	}
	return steps, nil
}

// step computes a trial step of size h from (t, y) into d.ynew and d.k[6], and returns the scaled error norm.
// d.k[0] must hold f(t, y).
func (d *dopri5) step(y []float64, t, h float64) float64 {
	for i := 1; i < 7; i++ {
		copy(d.ytmp, y)
		for j := 0; j < i; j++ {
			if a := dpA[i][j]; a != 0 {
				floats.AddScaled(d.ytmp, h*a, d.k[j])
			}
		}
		if i == 6 {
			copy(d.ynew, d.ytmp)
		}
		d.s.derivative(d.k[i], d.ytmp, t+dpC[i]*h)
	}

	var sum float64
	for i := range y {
		var e float64
		for j := range dpE {
			e += dpE[j] * d.k[j][i]
		}
		e *= h
		sc := d.opts.AbsTol + d.opts.RelTol*max(math.Abs(y[i]), math.Abs(d.ynew[i]))
		sum += (e / sc) * (e / sc)
	}
	return math.Sqrt(sum / float64(len(y)))
}

// initialStep guesses a first step size as in Hairer, Nørsett and Wanner, Section II.4.
// d.k[0] must hold f(t, y).
func (d *dopri5) initialStep(y []float64, t, span float64) float64 {
	var d0, d1 float64
	for i, v := range y {
		sc := d.opts.AbsTol + d.opts.RelTol*math.Abs(v)
		d0 += (v / sc) * (v / sc)
		d1 += (d.k[0][i] / sc) * (d.k[0][i] / sc)
	}
	d0 = math.Sqrt(d0 / float64(len(y)))
	d1 = math.Sqrt(d1 / float64(len(y)))

	h := 1e-6
	if d0 >= 1e-5 && d1 >= 1e-5 {
		h = 0.01 * d0 / d1
	}
	return min(h, span)
}
