package qanneal

import (
	"cmp"
	"encoding/csv"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// A ProblemEntry is a single coefficient of an Ising problem.
// If I == J the entry is the linear bias of site I, otherwise it couples sites I and J.
type ProblemEntry struct {
	I     int
	J     int
	Value float64
}

// A Problem is a list of Ising coefficients.
type Problem []ProblemEntry

// NewProblem converts linear biases h and couplings j into a Problem, sorted by site.
func NewProblem(h map[int]float64, j map[[2]int]float64) Problem {
	p := make(Problem, 0, len(h)+len(j))
	for _, i := range slices.Sorted(maps.Keys(h)) {
		p = append(p, ProblemEntry{I: i, J: i, Value: h[i]})
	}
	for _, ij := range sortedPairs(j) {
		p = append(p, ProblemEntry{I: ij[0], J: ij[1], Value: j[ij]})
	}
	return p
}

// Ising splits p into linear biases and couplings.
// Repeated entries are summed.
func (p Problem) Ising() (map[int]float64, map[[2]int]float64) {
	h := make(map[int]float64)
	j := make(map[[2]int]float64)
	for _, pe := range p {
		switch {
		case pe.I == pe.J:
			h[pe.I] += pe.Value
		default:
			j[[2]int{pe.I, pe.J}] += pe.Value
		}
	}
	return h, j
}

// NumSpins returns one more than the largest site referenced by p.
func (p Problem) NumSpins() int {
	n := 0
	for _, pe := range p {
		n = max(n, pe.I+1, pe.J+1)
	}
	return n
}

// ReadProblem parses a Problem from csv rows of the form "i,j,value".
// Lines starting with '#' are ignored.
func ReadProblem(r io.Reader) (Problem, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true

	p := make(Problem, 0)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "")
		}

		var pe ProblemEntry
		if pe.I, err = strconv.Atoi(strings.TrimSpace(record[0])); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", record))
		}
		if pe.J, err = strconv.Atoi(strings.TrimSpace(record[1])); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", record))
		}
		if pe.Value, err = strconv.ParseFloat(strings.TrimSpace(record[2]), 64); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", record))
		}
		p = append(p, pe)
	}
	return p, nil
}

// WriteProblem writes p as csv rows of the form "i,j,value".
func WriteProblem(w io.Writer, p Problem) error {
	cw := csv.NewWriter(w)
	for _, pe := range p {
		row := []string{strconv.Itoa(pe.I), strconv.Itoa(pe.J), strconv.FormatFloat(pe.Value, 'g', -1, 64)}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func sortedPairs(j map[[2]int]float64) [][2]int {
	return slices.SortedFunc(maps.Keys(j), func(a, b [2]int) int {
		if c := cmp.Compare(a[0], b[0]); c != 0 {
			return c
		}
		return cmp.Compare(a[1], b[1])
	})
}
