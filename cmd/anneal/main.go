// Anneal simulates quantum annealing of an Ising problem read from a csv file.
//
// Results are written to a run directory as csv files and recorded in a sqlite database.
// A run directory that already contains done.txt is skipped.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/fumin/qanneal"
	"github.com/fumin/qanneal/sesolve"
	"github.com/fumin/qanneal/store"
)

const (
	fnameSpectrum = "spectrum.csv"
	fnameExpect   = "expect.csv"
	fnameDone     = "done.txt"
	fnameDB       = "qanneal.db"

	envPrefix = "QANNEAL_"
)

type config struct {
	dir           string
	problem       string
	driver        string
	annealingTime float64
	steps         int
	method        string
	atol          float64
	rtol          float64
	maxStep       float64
	db            string
	logLevel      string
}

// parseConfig parses flags whose defaults are taken from QANNEAL_ environment variables.
func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	var cfg config
	fs.StringVar(&cfg.dir, "d", getEnv("DIR", filepath.Join("runs", "qanneal")), "run directory")
	fs.StringVar(&cfg.problem, "problem", getEnv("PROBLEM", ""), "csv file of i,j,value rows")
	fs.StringVar(&cfg.driver, "driver", getEnv("DRIVER", "tf"), "comma separated driver terms, tf for the transverse field or k for the order k driver")
	fs.Float64Var(&cfg.annealingTime, "T", getEnvFloat("T", 10), "annealing time")
	fs.IntVar(&cfg.steps, "steps", getEnvInt("STEPS", 100), "number of output intervals")
	fs.StringVar(&cfg.method, "method", getEnv("METHOD", string(sesolve.MethodDOPRI5)), "integrator, dopri5 or magnus")
	fs.Float64Var(&cfg.atol, "atol", getEnvFloat("ATOL", sesolve.DefaultAbsTol), "absolute tolerance")
	fs.Float64Var(&cfg.rtol, "rtol", getEnvFloat("RTOL", sesolve.DefaultRelTol), "relative tolerance")
	fs.Float64Var(&cfg.maxStep, "maxstep", getEnvFloat("MAXSTEP", 0), "maximum step size, the step size of magnus")
	fs.StringVar(&cfg.db, "db", getEnv("DB", ""), "sqlite database, defaults to qanneal.db in the run directory")
	fs.StringVar(&cfg.logLevel, "log", getEnv("LOG", "info"), "log level")
	if err := fs.Parse(args); err != nil {
		return config{}, errors.Wrap(err, "")
	}

	if cfg.problem == "" {
		return config{}, errors.Errorf("no problem")
	}
	if cfg.annealingTime <= 0 {
		return config{}, errors.Errorf("non-positive annealing time %f", cfg.annealingTime)
	}
	if cfg.steps < 1 {
		return config{}, errors.Errorf("steps %d < 1", cfg.steps)
	}
	if cfg.db == "" {
		cfg.db = filepath.Join(cfg.dir, fnameDB)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, errors.Wrap(err, "")
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(lvl).With().Timestamp().Logger(), nil
}

func readProblem(fpath string) (qanneal.Problem, error) {
	f, err := os.Open(fpath)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer f.Close()
	p, err := qanneal.ReadProblem(f)
	if err != nil {
		return nil, errors.Wrap(err, fpath)
	}
	return p, nil
}

func induceDriver(ham *qanneal.Hamiltonian, driver string) error {
	for _, term := range strings.Split(driver, ",") {
		term = strings.TrimSpace(term)
		switch term {
		case "tf":
			ham.InduceTransverseField()
		default:
			n, err := strconv.Atoi(term)
			if err != nil {
				return errors.Wrap(err, fmt.Sprintf("driver %q", driver))
			}
			if err := ham.InduceHighOrdDriver(n); err != nil {
				return errors.Wrap(err, "")
			}
		}
	}
	return nil
}

// runDir returns the directory of a run, keyed by the problem file and the annealing settings.
func runDir(cfg config) string {
	name := strings.TrimSuffix(filepath.Base(cfg.problem), filepath.Ext(cfg.problem))
	settings := fmt.Sprintf("%s_T%g_%s", strings.ReplaceAll(cfg.driver, ",", "+"), cfg.annealingTime, cfg.method)
	return filepath.Join(cfg.dir, name, settings)
}

func solve(ctx context.Context, db *store.Store, dir string, cfg config, logger zerolog.Logger) error {
	donePath := filepath.Join(dir, fnameDone)
	if _, err := os.Stat(donePath); err == nil {
		logger.Info().Str("dir", dir).Msg("skip")
		return nil
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	p, err := readProblem(cfg.problem)
	if err != nil {
		return errors.Wrap(err, "")
	}
	hcfg := qanneal.Config{
		Solver: sesolve.Options{Method: sesolve.Method(cfg.method), AbsTol: cfg.atol, RelTol: cfg.rtol, MaxStep: cfg.maxStep},
		Logger: logger,
	}
	ham, err := qanneal.NewFromProblem(p, hcfg)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := induceDriver(ham, cfg.driver); err != nil {
		return errors.Wrap(err, "")
	}

	tlist := floats.Span(make([]float64, cfg.steps+1), 0, cfg.annealingTime)
	spectra, err := ham.EnergySpectrum(tlist, nil, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	expects, err := ham.SolveSDEQ(tlist, nil, nil, nil, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	labels := ham.ProblemLabels()

	energyHeader := make([]string, 0, ham.Dim())
	for i := range ham.Dim() {
		energyHeader = append(energyHeader, fmt.Sprintf("e%d", i))
	}
	spectrumRows := make([]row, 0, len(spectra))
	for _, s := range spectra {
		spectrumRows = append(spectrumRows, row{t: s.Time, v: s.Energy})
	}
	if err := writeCSV(filepath.Join(dir, fnameSpectrum), energyHeader, spectrumRows); err != nil {
		return errors.Wrap(err, "")
	}
	expectRows := make([]row, 0, len(expects))
	for _, e := range expects {
		expectRows = append(expectRows, row{t: e.Time, v: e.Expect})
	}
	if err := writeCSV(filepath.Join(dir, fnameExpect), labels, expectRows); err != nil {
		return errors.Wrap(err, "")
	}

	r, err := db.CreateRun(ctx, store.Run{Problem: p, NumSpins: ham.NumSpins(), Driver: cfg.driver, AnnealingTime: cfg.annealingTime, Method: cfg.method, Labels: labels})
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := db.SaveSpectrum(ctx, r.ID, spectra); err != nil {
		return errors.Wrap(err, "")
	}
	if err := db.SaveExpectations(ctx, r.ID, expects); err != nil {
		return errors.Wrap(err, "")
	}

	if err := os.WriteFile(donePath, []byte(r.ID.String()), 0644); err != nil {
		return errors.Wrap(err, "")
	}
	final := expects[len(expects)-1].Expect
	logger.Info().Str("run", r.ID.String()).Str("ground", labels[0]).Float64("p", final[0]).Msg("done")
	return nil
}

type row struct {
	t float64
	v []float64
}

func writeCSV(fpath string, header []string, rows []row) error {
	f, err := os.Create(fpath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	w := csv.NewWriter(f)

	record := append([]string{"t"}, header...)
	if err1 := w.Write(record); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	for _, r := range rows {
		record = record[:0]
		record = append(record, strconv.FormatFloat(r.t, 'f', -1, 64))
		for _, v := range r.v {
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err1 := w.Write(record); err1 != nil && err == nil {
			err = errors.Wrap(err1, "")
			break
		}
	}

	w.Flush()
	if err1 := w.Error(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	if err1 := f.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

func main() {
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)
	_ = godotenv.Load()
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("%+v", err)
	}

	if err := mainWithErr(cfg); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr(cfg config) error {
	logger, err := newLogger(cfg.logLevel)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.MkdirAll(cfg.dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}
	db, err := store.Open(cfg.db)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer db.Close()

	dir := runDir(cfg)
	if err := solve(context.Background(), db, dir, cfg, logger); err != nil {
		return errors.Wrap(err, dir)
	}
	return nil
}
