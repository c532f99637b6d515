package qanneal

// ArgAnnealingTime is the schedule argument holding the total annealing time.
// EnergySpectrum and SolveSDEQ set it to the last entry of tlist.
const ArgAnnealingTime = "annealing_time"

// Args are the named parameters passed to a Schedule.
type Args map[string]float64

// Schedule returns the weight of a Hamiltonian term at time t.
type Schedule func(t float64, args Args) float64

// LinearInc increases linearly from 0 at t=0 to 1 at the annealing time.
func LinearInc(t float64, args Args) float64 {
	return t / args[ArgAnnealingTime]
}

// LinearDec decreases linearly from 1 at t=0 to 0 at the annealing time.
func LinearDec(t float64, args Args) float64 {
	return 1 - t/args[ArgAnnealingTime]
}

// Constant returns a schedule that is always c.
func Constant(c float64) Schedule {
	return func(float64, Args) float64 { return c }
}

func schedules(sProb, sDriver Schedule) (Schedule, Schedule) {
	if sProb == nil {
		sProb = LinearInc
	}
	if sDriver == nil {
		sDriver = LinearDec
	}
	return sProb, sDriver
}
