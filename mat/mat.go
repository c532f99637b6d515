// Package mat implements sparse operators on the Hilbert space of a spin chain.
//
// Every operator that appears in an Ising anneal, the Pauli X and Z matrices and
// their tensor products, is real symmetric, so the algebra is carried out over
// float64 and handed to gonum as a dense symmetric matrix for diagonalization.
package mat

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	PauliX = [][]float64{
		{0, 1},
		{1, 0},
	}
	PauliZ = [][]float64{
		{1, 0},
		{0, -1},
	}
)

type vRowCol struct {
	v   float64
	row int
	col int
}

// COO is a sparse matrix in coordinate format.
// Data is kept in row major order without explicit zeros.
type COO struct {
	rows int
	cols int
	Data []vRowCol

	m map[[2]int]float64
}

func M(dense [][]float64) *COO {
	m := &COO{rows: len(dense), cols: len(dense[0]), Data: make([]vRowCol, 0), m: make(map[[2]int]float64)}
	for i, row := range dense {
		for j, v := range row {
			if v == 0 {
				continue
			}
			m.Data = append(m.Data, vRowCol{v: v, row: i, col: j})
		}
	}
	return m
}

func COOZeros(rows, cols int) *COO {
	m := M([][]float64{{0}})
	m.Zeros(rows, cols)
	return m
}

func COOIdentity(rows int) *COO {
	m := M([][]float64{{0}})
	m.Zeros(rows, rows)
	for i := 0; i < rows; i++ {
		m.Data = append(m.Data, vRowCol{v: 1, row: i, col: i})
	}
	return m
}

// NumNonZero returns the number of stored entries.
func (m *COO) NumNonZero() int { return len(m.Data) }

func (m *COO) Zeros(rows, cols int) {
	m.rows, m.cols = rows, cols
	m.Data = m.Data[:0]
}

// Clone returns a deep copy of m.
func (m *COO) Clone() *COO {
	c := &COO{rows: m.rows, cols: m.cols, Data: slices.Clone(m.Data), m: make(map[[2]int]float64)}
	return c
}

func (a *COO) Equal(b *COO) bool {
	if a.rows != b.rows {
		return false
	}
	if a.cols != b.cols {
		return false
	}
	if len(a.Data) != len(b.Data) {
		return false
	}
	for i, av := range a.Data {
		bv := b.Data[i]
		if av != bv {
			return false
		}
	}
	return true
}

// Add sets a to a + c*b.
// b may be a scalar or a column vector, in which case it is broadcast over the nonzeros of a.
func (a *COO) Add(c float64, b *COO) {
	if b.m == nil {
		b.m = make(map[[2]int]float64)
	}
	clear(b.m)
	for _, v := range b.Data {
		b.m[[2]int{v.row, v.col}] = v.v
	}

	for i, av := range a.Data {
		var byx [2]int
		switch {
		case b.rows == 1 && b.cols == 1:
		case b.rows == a.rows && b.cols == 1:
			byx[0] = av.row
		case b.rows == a.rows && b.cols == a.cols:
			byx[0], byx[1] = av.row, av.col
		default:
			panic(fmt.Sprintf("wrong dimensions %dx%d %dx%d", a.rows, a.cols, b.rows, b.cols))
		}
		bv := b.m[byx]
		if b.rows == a.rows && b.cols == a.cols {
			delete(b.m, byx)
		}

		a.Data[i].v = av.v + c*bv
	}

	a.Data = slices.DeleteFunc(a.Data, func(v vRowCol) bool {
		return v.v == 0
	})
	// Entries of b missing from a only exist for same shape operands.
	if b.rows == a.rows && b.cols == a.cols {
		for yx, bv := range b.m {
			if c*bv == 0 {
				continue
			}
			a.Data = append(a.Data, vRowCol{v: c * bv, row: yx[0], col: yx[1]})
		}
	}
	slices.SortFunc(a.Data, rowMajor)
	clear(b.m)
}

// Dot sets a to the matrix product a*b.
func (a *COO) Dot(b *COO) {
	if a.cols != b.rows {
		panic(fmt.Sprintf("wrong dimensions %dx%d %dx%d", a.rows, a.cols, b.rows, b.cols))
	}

	// bRows indexes b.Data by row.
	bRows := make(map[int][]vRowCol)
	for _, v := range b.Data {
		bRows[v.row] = append(bRows[v.row], v)
	}

	if a.m == nil {
		a.m = make(map[[2]int]float64)
	}
	clear(a.m)
	for _, av := range a.Data {
		for _, bv := range bRows[av.col] {
			a.m[[2]int{av.row, bv.col}] += av.v * bv.v
		}
	}

	a.cols = b.cols
	a.Data = a.Data[:0]
	for yx, v := range a.m {
		if v == 0 {
			continue
		}
		a.Data = append(a.Data, vRowCol{v: v, row: yx[0], col: yx[1]})
	}
	slices.SortFunc(a.Data, rowMajor)
	clear(a.m)
}

func (a *COO) Kron(b *COO) {
	rows := a.rows * b.rows
	cols := a.cols * b.cols
	a.rows, a.cols = rows, cols

	prevElemNum := len(a.Data)
	for i := prevElemNum - 1; i >= 0; i-- {
		av := a.Data[i]
		a.Data[i].v = 0
		for _, bv := range b.Data {
			ky := av.row*b.rows + bv.row
			kx := av.col*b.cols + bv.col
			a.Data = append(a.Data, vRowCol{v: av.v * bv.v, row: ky, col: kx})
		}
	}

	a.Data = slices.DeleteFunc(a.Data, func(v vRowCol) bool {
		return v.v == 0
	})
	slices.SortFunc(a.Data, rowMajor)
}

// Sym converts m to a dense symmetric matrix.
// Only the upper triangle of m is read, so m must be symmetric.
func (m *COO) Sym() *mat.SymDense {
	if m.rows != m.cols {
		panic(fmt.Sprintf("not square %dx%d", m.rows, m.cols))
	}
	s := mat.NewSymDense(m.rows, nil)
	for _, v := range m.Data {
		if v.col < v.row {
			continue
		}
		s.SetSym(v.row, v.col, v.v)
	}
	return s
}

// AddTo sets dst to dst + c*m.
func (m *COO) AddTo(dst *mat.SymDense, c float64) {
	if n := dst.SymmetricDim(); n != m.rows || n != m.cols {
		panic(fmt.Sprintf("wrong dimensions %d %dx%d", n, m.rows, m.cols))
	}
	for _, v := range m.Data {
		if v.col < v.row {
			continue
		}
		dst.SetSym(v.row, v.col, dst.At(v.row, v.col)+c*v.v)
	}
}

// Site returns the operator that acts as op on site i of an n site chain and as the identity elsewhere.
// Site 0 is the leftmost factor of the tensor product.
func Site(op [][]float64, i, n int) *COO {
	return Sites(op, []int{i}, n)
}

// Sites returns the tensor product that acts as op on every site in sites and as the identity elsewhere.
func Sites(op [][]float64, sites []int, n int) *COO {
	o := M(op)
	identity := COOIdentity(o.rows)
	system := M([][]float64{{1}})
	for j := 0; j < n; j++ {
		switch {
		case slices.Contains(sites, j):
			system.Kron(o)
		default:
			system.Kron(identity)
		}
	}
	return system
}

// Lattice returns op placed on each of the n sites.
func Lattice(op [][]float64, n int) []*COO {
	lattice := make([]*COO, 0, n)
	for i := 0; i < n; i++ {
		lattice = append(lattice, Site(op, i, n))
	}
	return lattice
}

func (m *COO) String() string {
	if m.m == nil {
		m.m = make(map[[2]int]float64)
	}
	clear(m.m)
	for _, v := range m.Data {
		m.m[[2]int{v.row, v.col}] = v.v
	}

	lines := []string{}
	for i := 0; i < m.rows; i++ {
		cs := []string{}
		for j := 0; j < m.cols; j++ {
			cs = append(cs, format(m.m[[2]int{i, j}]))
		}
		lines = append(lines, strings.Join(cs, "\t"))
	}

	clear(m.m)
	return strings.Join(lines, "\n")
}

type ValVec struct {
	Val float64
	Vec []float64
}

// EigenSym returns the eigenvalues of a in ascending order together with their orthonormal eigenvectors.
func EigenSym(a mat.Symmetric) ([]ValVec, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(a, true); !ok {
		return nil, errors.Errorf("eigen factorization failed, dim %d", a.SymmetricDim())
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	vvs := make([]ValVec, 0, len(vals))
	for i, v := range vals {
		vvs = append(vvs, ValVec{Val: v, Vec: mat.Col(nil, i, &vecs)})
	}
	// Ties keep the eigensolver order.
	slices.SortStableFunc(vvs, func(a, b ValVec) int { return cmp.Compare(a.Val, b.Val) })
	return vvs, nil
}

// EigenValues returns the eigenvalues of a in ascending order.
func EigenValues(a mat.Symmetric) ([]float64, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(a, false); !ok {
		return nil, errors.Errorf("eigen factorization failed, dim %d", a.SymmetricDim())
	}
	return eig.Values(nil), nil
}

// Projector returns |v><v|.
func Projector(v []float64) *mat.SymDense {
	p := mat.NewSymDense(len(v), nil)
	p.SymRankOne(p, 1, mat.NewVecDense(len(v), slices.Clone(v)))
	return p
}

func rowMajor(a, b vRowCol) int {
	if c := cmp.Compare(a.row, b.row); c != 0 {
		return c
	}
	return cmp.Compare(a.col, b.col)
}

func format(v float64) string {
	// If v is 0 or -0, return "0" immediately to avoid returning "-0".
	if v == 0 {
		return " 0"
	}

	s := strconv.FormatFloat(v, 'g', -1, 64)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return s
	}

	// Add a space before non-negative numbers to align with other negative numbers in the same column.
	if v >= 0 {
		s = " " + s
	}

	return s
}
