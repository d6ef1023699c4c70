// Command fbc-bench times the sequential reducer against a parallel backend
// on random grids and records the results in a SQLite database.
//
//	fbc-bench -dim 2 -edge 16384 -ones 20 -backend gpu -reps 5
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
	"gonum.org/v1/gonum/stat"

	"github.com/Jon-Ting/sphractal/benchstore"
	"github.com/Jon-Ting/sphractal/boxcount"
	"github.com/Jon-Ting/sphractal/config"
	_ "github.com/Jon-Ting/sphractal/gpu"
	"github.com/Jon-Ting/sphractal/gridio"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// params is one benchmark configuration after flags and config are merged.
type params struct {
	Dim         int
	Edge        int
	Backend     string
	GroupSize   int
	Workers     int
	OnesPercent int
	Seed        uint64
	Repetitions int
}

// result holds the timings of one backend across all repetitions.
type result struct {
	Backend string
	Seconds []float64
	Counts  []uint32
	Matches bool
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := log.New(stderr, "fbc-bench: ", 0)

	fs := flag.NewFlagSet("fbc-bench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "JSON config file")
	dim := fs.Int("dim", 2, "grid dimension (2, 3 or 4)")
	edge := fs.Int("edge", 1024, "cells per axis (power of two)")
	ones := fs.Int("ones", 20, "percentage of occupied cells")
	seed := fs.Uint64("seed", 10, "random grid seed")
	reps := fs.Int("reps", 3, "repetitions per backend")
	tpb := fs.Int("tpb", boxcount.DefaultGroupSize, "workers per group")
	workers := fs.Int("workers", 0, "host backend goroutines (0 = one per CPU)")
	backend := fs.String("backend", "host", "parallel backend to compare against cpu: host or gpu")
	dbPath := fs.String("db", "", "sqlite file for results (empty = config store_path, \"-\" = don't store)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	// defaults < config file < SPHRACTAL_BACKEND < explicitly set flags
	cfg := config.Defaults()
	cfg.Backend = backend
	cfg.Dim = dim
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			logger.Print(err)
			return 1
		}
	} else {
		cfg.ApplyEnv()
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = backend
		case "dim":
			cfg.Dim = dim
		case "ones":
			cfg.OnesPercent = ones
		case "seed":
			cfg.Seed = seed
		case "reps":
			cfg.Repetitions = reps
		case "tpb":
			cfg.GroupSize = tpb
		case "workers":
			cfg.Workers = workers
		case "db":
			if *dbPath != "" {
				cfg.StorePath = dbPath
			}
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Print(err)
		return 1
	}

	p := params{
		Dim:         cfg.GetDim(),
		Edge:        *edge,
		Backend:     cfg.GetBackend(),
		GroupSize:   cfg.GetGroupSize(),
		Workers:     cfg.GetWorkers(),
		OnesPercent: cfg.GetOnesPercent(),
		Seed:        cfg.GetSeed(),
		Repetitions: cfg.GetRepetitions(),
	}
	if p.Backend == "cpu" {
		logger.Print("backend must be a parallel backend (host or gpu)")
		return 1
	}

	fingerprint, results, err := bench(p, stdout)
	if err != nil {
		logger.Print(err)
		return 1
	}

	mismatch := false
	for _, r := range results {
		mismatch = mismatch || !r.Matches
	}

	if path := cfg.GetStorePath(); path != "-" {
		session, err := record(context.Background(), path, p, fingerprint, results)
		if err != nil {
			logger.Print(err)
			return 1
		}
		fmt.Fprintf(stdout, "Stored session %s in %s\n", session, path)
	}
	if mismatch {
		logger.Print("parallel counts differ from the sequential reference")
		return 1
	}
	return 0
}

// bench generates the grid once, then reduces a fresh copy of it with the
// sequential reducer and with p.Backend, p.Repetitions times each.
func bench(p params, out io.Writer) (string, []*result, error) {
	levels, err := boxcount.Levels(p.Edge)
	if err != nil {
		return "", nil, err
	}
	if levels < 1 {
		return "", nil, fmt.Errorf("%w: edge %d yields no scale levels", boxcount.ErrInvalidSize, p.Edge)
	}
	source, err := boxcount.NewGrid(p.Dim, p.Edge)
	if err != nil {
		return "", nil, err
	}
	fmt.Fprintf(out, "Generating random %dD image of edge %d with %d%% of 1's (seed %d)\n", p.Dim, p.Edge, p.OnesPercent, p.Seed)
	gridio.RandomFill(source, p.OnesPercent, p.Seed)
	sum := sha3.Sum256(source.Cells)
	fingerprint := hex.EncodeToString(sum[:])

	opts := boxcount.Options{GroupSize: p.GroupSize, Workers: p.Workers}
	var results []*result
	var reference []uint32
	for _, name := range []string{"cpu", p.Backend} {
		backend, err := boxcount.Lookup(name)
		if err != nil {
			return "", nil, err
		}
		fmt.Fprintf(out, "Computing %s box-counting\n", name)
		r := &result{Backend: name, Matches: true}
		for rep := 0; rep < p.Repetitions; rep++ {
			g := source.Clone()
			counts := make([]uint32, levels)
			start := time.Now()
			if err := backend.Reduce(g, counts, opts); err != nil {
				return "", nil, fmt.Errorf("%s reduction: %w", name, err)
			}
			r.Seconds = append(r.Seconds, time.Since(start).Seconds())
			if rep == 0 {
				r.Counts = counts
			} else if !slices.Equal(r.Counts, counts) {
				r.Matches = false
			}
		}
		if reference == nil {
			reference = r.Counts
		} else if !slices.Equal(reference, r.Counts) {
			r.Matches = false
		}
		for i, n := range r.Counts {
			fmt.Fprintf(out, "s: %d -- n: %d\n", boxcount.BoxEdge(i), n)
		}
		mean, std := meanStd(r.Seconds)
		fmt.Fprintf(out, "%s time: %.6f s (std %.6f, %d reps)\n", name, mean, std, len(r.Seconds))
		results = append(results, r)
	}

	cpuMean, _ := meanStd(results[0].Seconds)
	parMean, _ := meanStd(results[1].Seconds)
	if parMean > 0 {
		fmt.Fprintf(out, "Speedup %s vs cpu: %.2fx\n", p.Backend, cpuMean/parMean)
	}
	if results[1].Matches {
		fmt.Fprintln(out, "Counts match")
	} else {
		fmt.Fprintln(out, "Counts DIFFER")
	}
	return fingerprint, results, nil
}

// meanStd returns the sample mean and standard deviation; a single sample
// has zero spread.
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	if len(xs) == 1 {
		return xs[0], 0
	}
	mean, std := stat.MeanStdDev(xs, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return mean, std
}

func record(ctx context.Context, path string, p params, fingerprint string, results []*result) (string, error) {
	store, err := benchstore.Open(path)
	if err != nil {
		return "", err
	}
	defer store.Close()

	session := uuid.NewString()
	for _, r := range results {
		mean, std := meanStd(r.Seconds)
		run := &benchstore.Run{
			SessionID:   session,
			Backend:     r.Backend,
			Dim:         p.Dim,
			Edge:        p.Edge,
			GroupSize:   p.GroupSize,
			OnesPercent: p.OnesPercent,
			Seed:        p.Seed,
			Fingerprint: fingerprint,
			Repetitions: len(r.Seconds),
			MeanSeconds: mean,
			StdSeconds:  std,
			Counts:      r.Counts,
			MatchesCPU:  r.Matches,
		}
		if err := store.Insert(ctx, run); err != nil {
			return "", err
		}
	}
	return session, nil
}
