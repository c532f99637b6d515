package qanneal

import (
	"strings"
)

// Basis returns the spin configuration of computational basis state i of an n spin system.
// Site 0 is the most significant bit, and a 0 bit is spin up (+1).
func Basis(i, n int) []int8 {
	spins := make([]int8, n)
	indexSpin(spins, i)
	return spins
}

// BasisIndex is the inverse of Basis.
func BasisIndex(spins []int8) int {
	idx := 0
	for i := len(spins) - 1; i >= 0; i-- {
		if spins[i] < 0 {
			idx += 1 << (len(spins) - 1 - i)
		}
	}
	return idx
}

// BasisString formats a spin configuration with one character per site, '+' for up and '-' for down.
func BasisString(spins []int8) string {
	var b strings.Builder
	for _, s := range spins {
		switch {
		case s < 0:
			b.WriteByte('-')
		default:
			b.WriteByte('+')
		}
	}
	return b.String()
}

// Energy returns the classical Ising energy Σ h_i s_i + Σ J_ij s_i s_j of a spin configuration.
func Energy(h map[int]float64, j map[[2]int]float64, spins []int8) float64 {
	var e float64
	for i, v := range h {
		e += v * float64(spins[i])
	}
	for ij, v := range j {
		e += v * float64(spins[ij[0]]) * float64(spins[ij[1]])
	}
	return e
}

func indexSpin(spins []int8, i int) {
	n := len(spins)
	for k := range spins {
		switch (i >> (n - 1 - k)) & 1 {
		case 1:
			spins[k] = -1
		default:
			spins[k] = 1
		}
	}
}

// bases iterates over all basis states of an n spin system.
// The yielded slice is reused between iterations.
func bases(n int) func(yield func(int, []int8) bool) {
	spins := make([]int8, n)
	return func(yield func(int, []int8) bool) {
		numStates := 1 << n
		for i := range numStates {
			indexSpin(spins, i)
			if !yield(i, spins) {
				return
			}
		}
	}
}
