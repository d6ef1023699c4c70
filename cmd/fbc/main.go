// Command fbc box-counts a voxelised object.
//
//	fbc [flags] <grid_num> <input_file> <output_file>
//
// input_file holds whitespace-separated linear cell indices of a grid with
// grid_num cells per axis; output_file receives one "<box edge> <count>"
// line per scale level. The exit status is 0 on success and 1 otherwise.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/Jon-Ting/sphractal/config"
	"github.com/Jon-Ting/sphractal/detector"
	"github.com/Jon-Ting/sphractal/gpu"
	"github.com/Jon-Ting/sphractal/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	logger := log.New(stderr, "fbc: ", 0)

	fs := flag.NewFlagSet("fbc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "JSON config file")
	backend := fs.String("backend", "cpu", "reduction backend: cpu, host or gpu")
	dim := fs.Int("dim", 3, "grid dimension (2, 3 or 4)")
	tpb := fs.Int("tpb", 128, "workers per group; 0 asks the GPU detector")
	workers := fs.Int("workers", 0, "host backend goroutines (0 = one per CPU)")
	verbose := fs.Bool("v", false, "log timings")
	probe := fs.Bool("probe", false, "print the GPU adapter report and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: fbc [flags] <grid_num> <input_file> <output_file>\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if *probe {
		out, err := detector.DetectJSON()
		if err != nil {
			logger.Printf("probe failed: %v", err)
			return 1
		}
		fmt.Fprintln(stdout, out)
		return 0
	}

	if fs.NArg() != 3 {
		fs.Usage()
		return 1
	}
	edge, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		logger.Printf("invalid grid_num %q: %v", fs.Arg(0), err)
		return 1
	}

	// defaults < config file < explicitly set flags
	cfg := config.Defaults()
	if *configPath != "" {
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
		case "tpb":
			cfg.GroupSize = tpb
		case "workers":
			cfg.Workers = workers
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Print(err)
		return 1
	}

	if *verbose {
		log.SetOutput(stderr)
		log.SetPrefix("fbc: ")
		log.SetFlags(0)
		gpu.SetLogger(logger)
	}
	groupSize := resolveGroupSize(cfg.GetGroupSize(), cfg.GetBackend(), contextLimits)

	opts := pipeline.Options{
		Edge:      edge,
		Dim:       cfg.GetDim(),
		Backend:   cfg.GetBackend(),
		GroupSize: groupSize,
		Workers:   cfg.GetWorkers(),
		Verbose:   *verbose,
	}
	if err := pipeline.Run(opts, fs.Arg(1), fs.Arg(2)); err != nil {
		logger.Print(err)
		return 1
	}
	return 0
}

// contextLimits reports the limits of the adapter the gpu backend will run on.
func contextLimits() (detector.Limits, error) {
	c, err := gpu.GetContext()
	if err != nil {
		return detector.Limits{}, err
	}
	return detector.LimitsFrom(c.Limits), nil
}

// resolveGroupSize turns -tpb 0 on the gpu backend into the adapter's
// recommended group size. Anything else passes through; 0 left over means
// the engine default.
func resolveGroupSize(groupSize int, backend string, limits func() (detector.Limits, error)) int {
	if groupSize != 0 || backend != "gpu" {
		return groupSize
	}
	l, err := limits()
	if err != nil {
		return 0
	}
	return int(detector.Recommend(l).GroupSize)
}
