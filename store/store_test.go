package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fumin/qanneal"
)

func newStore(t *testing.T) *Store {
	s, err := Open(filepath.Join(t.TempDir(), "qanneal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	p := qanneal.NewProblem(map[int]float64{0: -0.5, 1: -0.5}, map[[2]int]float64{{0, 1}: -1})
	r, err := s.CreateRun(ctx, Run{Problem: p, NumSpins: 2, Driver: "tf", AnnealingTime: 50, Method: "dopri5", Labels: []string{"++", "--", "+-", "-+"}})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.False(t, r.Created.IsZero())

	got, err := s.Run(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.True(t, r.Created.Equal(got.Created), "%v %v", r.Created, got.Created)
	assert.Equal(t, p, got.Problem)
	assert.Equal(t, 2, got.NumSpins)
	assert.Equal(t, "tf", got.Driver)
	assert.Equal(t, 50., got.AnnealingTime)
	assert.Equal(t, "dopri5", got.Method)
	assert.Equal(t, r.Labels, got.Labels)

	_, err = s.Run(ctx, uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound), "%+v", err)

	// IDs are unique.
	_, err = s.CreateRun(ctx, Run{ID: r.ID})
	require.Error(t, err)
}

func TestRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)

	start := time.Unix(1700000000, 0)
	ids := make([]uuid.UUID, 0)
	for i := range 3 {
		r, err := s.CreateRun(ctx, Run{Created: start.Add(-time.Duration(i) * time.Hour), Driver: "tf"})
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	runs, err = s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for i, r := range runs {
		assert.Equal(t, ids[len(ids)-1-i], r.ID)
	}
}

func TestSeries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	r, err := s.CreateRun(ctx, Run{Driver: "tf"})
	require.NoError(t, err)
	other, err := s.CreateRun(ctx, Run{Driver: "2"})
	require.NoError(t, err)

	spectra := []qanneal.Spectrum{
		{Time: 0, Energy: []float64{-2, 0, 0, 2}},
		{Time: 0.5, Energy: []float64{-1.5, -0.25, 0.25, 1.5}},
		{Time: 1, Energy: []float64{-2, 0, 1, 1}},
	}
	require.NoError(t, s.SaveSpectrum(ctx, r.ID, spectra))
	expects := []qanneal.Expectation{
		{Time: 0, Expect: []float64{0.25, 0.25, 0.25, 0.25}},
		{Time: 1, Expect: []float64{0.97, 0.01, 0.01, 0.01}},
	}
	require.NoError(t, s.SaveExpectations(ctx, r.ID, expects))
	require.NoError(t, s.SaveExpectations(ctx, other.ID, expects[:1]))

	gotSpectra, err := s.LoadSpectrum(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, spectra, gotSpectra)
	gotExpects, err := s.LoadExpectations(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, expects, gotExpects)
	gotExpects, err = s.LoadExpectations(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, expects[:1], gotExpects)

	// Saving replaces.
	require.NoError(t, s.SaveSpectrum(ctx, r.ID, spectra[1:2]))
	gotSpectra, err = s.LoadSpectrum(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, spectra[1:2], gotSpectra)

	// Unknown runs have no series.
	err = s.SaveSpectrum(ctx, uuid.New(), spectra)
	assert.True(t, errors.Is(err, ErrNotFound), "%+v", err)
	gotSpectra, err = s.LoadSpectrum(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, gotSpectra)
}

func TestReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "qanneal.db")

	s, err := Open(path)
	require.NoError(t, err)
	r, err := s.CreateRun(ctx, Run{Driver: "tf"})
	require.NoError(t, err)
	require.NoError(t, s.SaveSpectrum(ctx, r.ID, []qanneal.Spectrum{{Time: 1, Energy: []float64{-1, 1}}}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, r.ID, runs[0].ID)
	spectra, err := s.LoadSpectrum(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []qanneal.Spectrum{{Time: 1, Energy: []float64{-1, 1}}}, spectra)
}
