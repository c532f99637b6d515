// Package store persists annealing runs in sqlite.
//
// A run records the problem and the settings of a simulation, and owns the energy spectrum and
// the expectation trajectory computed for it. Vectors are stored as msgpack blobs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/fumin/qanneal"
)

const (
	tableRuns         = "runs"
	tableSpectra      = "spectra"
	tableExpectations = "expectations"

	queryTimeout = 3 * time.Second
	bulkTimeout  = 10 * time.Minute
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Run describes a simulation.
type Run struct {
	ID            uuid.UUID
	Created       time.Time
	Problem       qanneal.Problem
	NumSpins      int
	Driver        string
	AnnealingTime float64
	Method        string
	// Labels name the columns of the expectations, usually the problem eigenstates.
	Labels []string
}

// Store is a sqlite database of runs.
type Store struct {
	Path string

	db *sql.DB
}

// Open opens the database at path, creating it and its tables if necessary.
func Open(path string) (*Store, error) {
	s := &Store{Path: path}
	var err error
	s.db, err = newDB(path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// CreateRun inserts r.
// A new ID is assigned if r.ID is nil, and Created defaults to now.
func (s *Store) CreateRun(ctx context.Context, r Run) (Run, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Created.IsZero() {
		r.Created = time.Now()
	}
	problem, err := msgpack.Marshal(r.Problem)
	if err != nil {
		return Run{}, errors.Wrap(err, "")
	}
	labels, err := msgpack.Marshal(r.Labels)
	if err != nil {
		return Run{}, errors.Wrap(err, "")
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT INTO %s (id, created, problem, num_spins, driver, annealing_time, method, labels) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, tableRuns)
	args := []any{r.ID.String(), r.Created.UnixNano(), problem, r.NumSpins, r.Driver, r.AnnealingTime, r.Method, labels}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Run{}, errors.Wrap(err, fmt.Sprintf("%s %v", sqlStr, r.ID))
	}
	return r, nil
}

// Run returns the run with id.
func (s *Store) Run(ctx context.Context, id uuid.UUID) (Run, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT id, created, problem, num_spins, driver, annealing_time, method, labels FROM %s WHERE id=?`, tableRuns)
	r, err := scanRun(s.db.QueryRowContext(ctx, sqlStr, id.String()))
	switch {
	case err == sql.ErrNoRows:
		return Run{}, errors.Wrap(ErrNotFound, id.String())
	case err != nil:
		return Run{}, errors.Wrap(err, "")
	}
	return r, nil
}

// Runs returns all runs ordered by creation time.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT id, created, problem, num_spins, driver, annealing_time, method, labels FROM %s ORDER BY created, id`, tableRuns)
	rows, err := s.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return runs, nil
}

// SaveSpectrum replaces the spectrum of run id.
func (s *Store) SaveSpectrum(ctx context.Context, id uuid.UUID, spectra []qanneal.Spectrum) error {
	series := make([]point, 0, len(spectra))
	for _, sp := range spectra {
		series = append(series, point{t: sp.Time, v: sp.Energy})
	}
	if err := s.saveSeries(ctx, tableSpectra, id, series); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// LoadSpectrum returns the spectrum of run id in time order.
func (s *Store) LoadSpectrum(ctx context.Context, id uuid.UUID) ([]qanneal.Spectrum, error) {
	series, err := s.loadSeries(ctx, tableSpectra, id)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	spectra := make([]qanneal.Spectrum, 0, len(series))
	for _, p := range series {
		spectra = append(spectra, qanneal.Spectrum{Time: p.t, Energy: p.v})
	}
	return spectra, nil
}

// SaveExpectations replaces the expectation trajectory of run id.
func (s *Store) SaveExpectations(ctx context.Context, id uuid.UUID, expects []qanneal.Expectation) error {
	series := make([]point, 0, len(expects))
	for _, e := range expects {
		series = append(series, point{t: e.Time, v: e.Expect})
	}
	if err := s.saveSeries(ctx, tableExpectations, id, series); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// LoadExpectations returns the expectation trajectory of run id in time order.
func (s *Store) LoadExpectations(ctx context.Context, id uuid.UUID) ([]qanneal.Expectation, error) {
	series, err := s.loadSeries(ctx, tableExpectations, id)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	expects := make([]qanneal.Expectation, 0, len(series))
	for _, p := range series {
		expects = append(expects, qanneal.Expectation{Time: p.t, Expect: p.v})
	}
	return expects, nil
}

// point is a row of a time series table.
type point struct {
	t float64
	v []float64
}

func (s *Store) saveSeries(ctx context.Context, table string, id uuid.UUID, series []point) error {
	if _, err := s.Run(ctx, id); err != nil {
		return errors.Wrap(err, "")
	}

	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := insertSeries(ctx, tx, table, id, series); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func insertSeries(ctx context.Context, tx *sql.Tx, table string, id uuid.UUID, series []point) error {
	sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE run=?`, table)
	if _, err := tx.ExecContext(ctx, sqlStr, id.String()); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %v", sqlStr, id))
	}

	sqlStr = fmt.Sprintf(`INSERT INTO %s (run, i, t, v) VALUES (?, ?, ?, ?)`, table)
	stmt, err := tx.PrepareContext(ctx, sqlStr)
	if err != nil {
		return errors.Wrap(err, sqlStr)
	}
	defer stmt.Close()
	for i, p := range series {
		b, err := msgpack.Marshal(p.v)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if _, err := stmt.ExecContext(ctx, id.String(), i, p.t, b); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%s %v %d", sqlStr, id, i))
		}
	}
	return nil
}

func (s *Store) loadSeries(ctx context.Context, table string, id uuid.UUID) ([]point, error) {
	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT t, v FROM %s WHERE run=? ORDER BY i`, table)
	rows, err := s.db.QueryContext(ctx, sqlStr, id.String())
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	series := make([]point, 0)
	for rows.Next() {
		var p point
		var b []byte
		if err := rows.Scan(&p.t, &b); err != nil {
			return nil, errors.Wrap(err, "")
		}
		if err := msgpack.Unmarshal(b, &p.v); err != nil {
			return nil, errors.Wrap(err, "")
		}
		series = append(series, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return series, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var id string
	var created int64
	var problem, labels []byte
	if err := row.Scan(&id, &created, &problem, &r.NumSpins, &r.Driver, &r.AnnealingTime, &r.Method, &labels); err != nil {
		return Run{}, err
	}

	var err error
	r.ID, err = uuid.Parse(id)
	if err != nil {
		return Run{}, errors.Wrap(err, id)
	}
	r.Created = time.Unix(0, created)
	if err := msgpack.Unmarshal(problem, &r.Problem); err != nil {
		return Run{}, errors.Wrap(err, id)
	}
	if err := msgpack.Unmarshal(labels, &r.Labels); err != nil {
		return Run{}, errors.Wrap(err, id)
	}
	return r, nil
}

func newDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}

	return db, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, created INTEGER, problem BLOB, num_spins INTEGER, driver TEXT, annealing_time REAL, method TEXT, labels BLOB) STRICT`, tableRuns),
	}
	for _, table := range []string{tableSpectra, tableExpectations} {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run TEXT REFERENCES %s (id) ON DELETE CASCADE, i INTEGER, t REAL, v BLOB, PRIMARY KEY (run, i)) STRICT`, table, tableRuns))
	}
	for _, sqlStr := range stmts {
		if _, err := db.ExecContext(ctx, sqlStr); err != nil {
			return errors.Wrap(err, sqlStr)
		}
	}
	return nil
}
