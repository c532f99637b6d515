// Package qanneal simulates quantum annealing of Ising problems.
//
// A Hamiltonian is built from the linear biases h and couplings J of an Ising problem,
//
//	H_prob = Σ h_i Z_i + Σ J_ij Z_i Z_j,
//
// and a driver H_driver that is accumulated by InduceTransverseField and InduceHighOrdDriver.
// The annealing Hamiltonian is
//
//	H(t) = sProb(t) H_prob + sDriver(t) H_driver,
//
// whose instantaneous spectrum is computed by EnergySpectrum, and whose dynamics starting from the
// ground state of H_driver are integrated by SolveSDEQ.
//
// All operators are dense 2^n × 2^n matrices, so memory and time grow exponentially with the number of spins.
package qanneal

import (
	"maps"
	"math"
	"slices"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	gmat "gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/combin"

	"github.com/fumin/qanneal/mat"
	"github.com/fumin/qanneal/sesolve"
)

// Config configures a Hamiltonian.
// The zero value is ready to use.
type Config struct {
	// Solver configures the Schrödinger equation integrator used by SolveSDEQ.
	Solver sesolve.Options
	Logger zerolog.Logger
}

// Spectrum holds the eigenvalues of H(Time) in ascending order.
type Spectrum struct {
	Time   float64
	Energy []float64
}

// Expectation holds the expectation values of the observables at Time.
type Expectation struct {
	Time   float64
	Expect []float64
}

// Hamiltonian is the annealing Hamiltonian of an Ising problem.
// It is not safe for concurrent use.
type Hamiltonian struct {
	numSpins int
	h        map[int]float64
	j        map[[2]int]float64
	cfg      Config

	pauliZ []*mat.COO
	pauliX lazy[[]*mat.COO]

	hProb     *gmat.SymDense
	probEigen []mat.ValVec

	hDriver *gmat.SymDense
}

// New builds the problem Hamiltonian of the Ising problem (h, j) and diagonalizes it.
// The number of spins is one more than the largest site referenced by h or j.
// The driver Hamiltonian starts at zero.
//
// Negative sites are rejected. Other malformed input, such as a coupling of a site with itself,
// is passed through: J_ii Z_i Z_i is J_ii times the identity.
func New(h map[int]float64, j map[[2]int]float64, cfg Config) (*Hamiltonian, error) {
	numSpins := 0
	for i := range h {
		if i < 0 {
			return nil, errors.Errorf("negative site %d", i)
		}
		numSpins = max(numSpins, i+1)
	}
	for ij := range j {
		if ij[0] < 0 || ij[1] < 0 {
			return nil, errors.Errorf("negative site %v", ij)
		}
		numSpins = max(numSpins, ij[0]+1, ij[1]+1)
	}

	ham := &Hamiltonian{numSpins: numSpins, h: maps.Clone(h), j: maps.Clone(j), cfg: cfg}
	if ham.h == nil {
		ham.h = make(map[int]float64)
	}
	if ham.j == nil {
		ham.j = make(map[[2]int]float64)
	}
	ham.pauliZ = mat.Lattice(mat.PauliZ, numSpins)

	dim := ham.Dim()
	prob := mat.COOZeros(dim, dim)
	for _, i := range slices.Sorted(maps.Keys(ham.h)) {
		prob.Add(ham.h[i], ham.pauliZ[i])
	}
	for _, ij := range sortedPairs(ham.j) {
		zz := ham.pauliZ[ij[0]].Clone()
		zz.Dot(ham.pauliZ[ij[1]])
		prob.Add(ham.j[ij], zz)
	}
	ham.hProb = prob.Sym()

	var err error
	ham.probEigen, err = mat.EigenSym(ham.hProb)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	ham.hDriver = gmat.NewSymDense(dim, nil)
	cfg.Logger.Debug().Int("spins", numSpins).Int("dim", dim).Float64("e0", ham.probEigen[0].Val).Msg("problem hamiltonian")
	return ham, nil
}

// NewFromProblem is New for a Problem.
func NewFromProblem(p Problem, cfg Config) (*Hamiltonian, error) {
	h, j := p.Ising()
	return New(h, j, cfg)
}

// NumSpins returns the number of spins.
func (ham *Hamiltonian) NumSpins() int { return ham.numSpins }

// Dim returns the dimension 2^NumSpins of the Hilbert space.
func (ham *Hamiltonian) Dim() int { return 1 << ham.numSpins }

// HProb returns a copy of the problem Hamiltonian.
func (ham *Hamiltonian) HProb() *gmat.SymDense { return copySym(ham.hProb) }

// HDriver returns a copy of the driver Hamiltonian.
func (ham *Hamiltonian) HDriver() *gmat.SymDense { return copySym(ham.hDriver) }

// ProblemEigen returns the eigenpairs of the problem Hamiltonian in ascending order of energy.
// Degenerate eigenvectors are any orthonormal basis of their eigenspace.
func (ham *Hamiltonian) ProblemEigen() []mat.ValVec { return slices.Clone(ham.probEigen) }

// ProblemLabels labels each problem eigenvector, in the order of ProblemEigen,
// by the spin configuration of its largest component.
func (ham *Hamiltonian) ProblemLabels() []string {
	labels := make([]string, 0, len(ham.probEigen))
	for _, vv := range ham.probEigen {
		best := 0
		for i, v := range vv.Vec {
			if math.Abs(v) > math.Abs(vv.Vec[best]) {
				best = i
			}
		}
		labels = append(labels, BasisString(Basis(best, ham.numSpins)))
	}
	return labels
}

// ClassicalEnergies returns the Ising energy of every computational basis state.
// These are the diagonal entries of the problem Hamiltonian.
func (ham *Hamiltonian) ClassicalEnergies() []float64 {
	energies := make([]float64, 0, ham.Dim())
	for _, spins := range bases(ham.numSpins) {
		energies = append(energies, Energy(ham.h, ham.j, spins))
	}
	return energies
}

// InduceTransverseField adds -Σ_i X_i to the driver Hamiltonian.
// Every call adds another copy of the term.
func (ham *Hamiltonian) InduceTransverseField() {
	for _, x := range ham.paulis() {
		x.AddTo(ham.hDriver, -1)
	}
	ham.cfg.Logger.Debug().Msg("transverse field")
}

// InduceHighOrdDriver adds -Σ_S Π_{i∈S} X_i to the driver Hamiltonian, where S ranges over all
// subsets of n sites. InduceHighOrdDriver(1) is the transverse field.
// Every call adds another copy of the term.
//
// The number of subsets is Binomial(NumSpins, n), each costing a sparse operator product.
func (ham *Hamiltonian) InduceHighOrdDriver(n int) error {
	if n < 1 || n > ham.numSpins {
		return errors.Errorf("order %d out of range [1, %d]", n, ham.numSpins)
	}
	xs := ham.paulis()

	gen := combin.NewCombinationGenerator(ham.numSpins, n)
	sites := make([]int, n)
	var terms int
	for gen.Next() {
		gen.Combination(sites)
		prod := xs[sites[0]].Clone()
		for _, i := range sites[1:] {
			prod.Dot(xs[i])
		}
		prod.AddTo(ham.hDriver, -1)
		terms++
	}
	ham.cfg.Logger.Debug().Int("order", n).Int("terms", terms).Msg("high order driver")
	return nil
}

// HamiltonianAt returns H(t) = sProb(t) H_prob + sDriver(t) H_driver.
// nil schedules select LinearInc and LinearDec, which read ArgAnnealingTime from args.
// Without it they divide by zero and the returned matrix holds NaN or Inf entries.
func (ham *Hamiltonian) HamiltonianAt(t float64, args Args, sProb, sDriver Schedule) *gmat.SymDense {
	sProb, sDriver = schedules(sProb, sDriver)
	h := gmat.NewSymDense(ham.Dim(), nil)
	var scaled gmat.SymDense
	for _, term := range []struct {
		op    *gmat.SymDense
		sched Schedule
	}{{ham.hProb, sProb}, {ham.hDriver, sDriver}} {
		scaled.ScaleSym(term.sched(t, args), term.op)
		h.AddSym(h, &scaled)
	}
	return h
}

// EnergySpectrum returns the eigenvalues of H(t) for each t in tlist.
// The annealing time of the schedules is the last entry of tlist.
// nil schedules select LinearInc and LinearDec.
func (ham *Hamiltonian) EnergySpectrum(tlist []float64, sProb, sDriver Schedule) ([]Spectrum, error) {
	if len(tlist) == 0 {
		return nil, errors.Errorf("empty tlist")
	}
	args := Args{ArgAnnealingTime: tlist[len(tlist)-1]}

	spectra := make([]Spectrum, 0, len(tlist))
	for _, t := range tlist {
		vals, err := mat.EigenValues(ham.HamiltonianAt(t, args, sProb, sDriver))
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		spectra = append(spectra, Spectrum{Time: t, Energy: vals})
	}
	return spectra, nil
}

// DriverGroundState returns the lowest eigenpair of the driver Hamiltonian.
// Among degenerate minima the first one returned by the eigensolver is chosen.
// Before any driver is induced, H_driver is zero and every state is a ground state.
func (ham *Hamiltonian) DriverGroundState() (mat.ValVec, error) {
	vvs, err := mat.EigenSym(ham.hDriver)
	if err != nil {
		return mat.ValVec{}, errors.Wrap(err, "")
	}
	return vvs[0], nil
}

// SolveSDEQ integrates the Schrödinger equation under H(t) over tlist, starting from the ground state of the driver,
// and returns the expectation values of eOps at each time in tlist.
//
// nil eOps selects the projectors onto the eigenvectors of the problem Hamiltonian in the order of ProblemEigen,
// so that the result is the population of each problem eigenstate.
// nil schedules select LinearInc and LinearDec.
// args are passed to the schedules together with ArgAnnealingTime, which is set to the last entry of tlist.
func (ham *Hamiltonian) SolveSDEQ(tlist []float64, eOps []gmat.Symmetric, sProb, sDriver Schedule, args Args) ([]Expectation, error) {
	if len(tlist) == 0 {
		return nil, errors.Errorf("empty tlist")
	}
	sProb, sDriver = schedules(sProb, sDriver)

	ground, err := ham.DriverGroundState()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	psi0 := make([]complex128, len(ground.Vec))
	for i, v := range ground.Vec {
		psi0[i] = complex(v, 0)
	}

	if eOps == nil {
		eOps = make([]gmat.Symmetric, 0, len(ham.probEigen))
		for _, vv := range ham.probEigen {
			eOps = append(eOps, mat.Projector(vv.Vec))
		}
	}

	schedArgs := maps.Clone(args)
	if schedArgs == nil {
		schedArgs = make(Args)
	}
	schedArgs[ArgAnnealingTime] = tlist[len(tlist)-1]
	terms := []sesolve.Term{
		{H: ham.hProb, Coeff: func(t float64) float64 { return sProb(t, schedArgs) }},
		{H: ham.hDriver, Coeff: func(t float64) float64 { return sDriver(t, schedArgs) }},
	}

	opts := ham.cfg.Solver
	opts.Logger = ham.cfg.Logger
	res, err := sesolve.Solve(terms, psi0, tlist, eOps, opts)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	ham.cfg.Logger.Debug().Int("steps", res.Steps).Float64("e0", ground.Val).Msg("sdeq")

	expects := make([]Expectation, 0, len(tlist))
	for i, t := range res.Times {
		expects = append(expects, Expectation{Time: t, Expect: res.Expect[i]})
	}
	return expects, nil
}

// paulis returns the X lattice, building it on first use.
func (ham *Hamiltonian) paulis() []*mat.COO {
	return ham.pauliX.get(func() []*mat.COO {
		return mat.Lattice(mat.PauliX, ham.numSpins)
	})
}

// lazy holds a value that is built on first use.
type lazy[T any] struct {
	v     T
	built bool
}

func (l *lazy[T]) get(build func() T) T {
	if !l.built {
		l.v, l.built = build(), true
	}
	return l.v
}

func copySym(a *gmat.SymDense) *gmat.SymDense {
	c := gmat.NewSymDense(a.SymmetricDim(), nil)
	c.CopySym(a)
	return c
}
