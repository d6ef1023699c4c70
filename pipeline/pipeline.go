// Package pipeline wires the box-counting drivers together: read an index
// list, populate a grid, reduce it on the chosen backend, write the counts.
package pipeline

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Jon-Ting/sphractal/boxcount"
	"github.com/Jon-Ting/sphractal/gridio"
)

var (
	ErrInput  = errors.New("input unreadable")
	ErrOutput = errors.New("output unwritable")
)

// Options selects the grid shape and the backend that reduces it.
type Options struct {
	Edge      int
	Dim       int
	Backend   string // registered backend name, "" means "cpu"
	Fallback  string // backend retried when Backend reports ErrNoGPU, "" means none
	GroupSize int
	Workers   int
	Verbose   bool
}

func (o Options) backend() string {
	if o.Backend == "" {
		return "cpu"
	}
	return o.Backend
}

// Validate rejects shapes that cannot produce at least one scale level.
func (o Options) Validate() (levels int, err error) {
	levels, err = boxcount.Levels(o.Edge)
	if err != nil {
		return 0, err
	}
	if levels < 1 {
		return 0, fmt.Errorf("%w: edge %d yields no scale levels", boxcount.ErrInvalidSize, o.Edge)
	}
	if _, err := boxcount.CellCount(o.Dim, o.Edge); err != nil {
		return 0, err
	}
	return levels, nil
}

// Count populates a fresh grid with indices and returns its box counts.
func Count(opts Options, indices []int) ([]uint32, error) {
	levels, err := opts.Validate()
	if err != nil {
		return nil, err
	}
	counts, err := count(opts, opts.backend(), indices, levels)
	if err != nil && opts.Fallback != "" && errors.Is(err, boxcount.ErrNoGPU) {
		if opts.Verbose {
			log.Printf("%v; retrying on %s", err, opts.Fallback)
		}
		return count(opts, opts.Fallback, indices, levels)
	}
	return counts, err
}

func count(opts Options, name string, indices []int, levels int) ([]uint32, error) {
	backend, err := boxcount.Lookup(name)
	if err != nil {
		return nil, err
	}
	g, err := boxcount.NewGrid(opts.Dim, opts.Edge)
	if err != nil {
		return nil, err
	}
	if err := gridio.CheckIndices(indices, len(g.Cells)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInput, err)
	}
	g.Scatter(indices)

	counts := make([]uint32, levels)
	start := time.Now()
	err = backend.Reduce(g, counts, boxcount.Options{GroupSize: opts.GroupSize, Workers: opts.Workers})
	if err != nil {
		return nil, fmt.Errorf("%s reduction: %w", backend.Name(), err)
	}
	if opts.Verbose {
		log.Printf("%s box-counting of %d^%d grid (%d occupied) took %v", backend.Name(), opts.Edge, opts.Dim, len(indices), time.Since(start))
	}
	return counts, nil
}

// Run executes the full populate → reduce → write pipeline.
func Run(opts Options, inPath, outPath string) error {
	if _, err := opts.Validate(); err != nil {
		return err
	}
	indices, err := gridio.ReadIndicesFile(inPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInput, inPath, err)
	}
	counts, err := Count(opts, indices)
	if err != nil {
		return err
	}
	if err := gridio.WriteCountsFile(outPath, counts); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOutput, outPath, err)
	}
	return nil
}

// Status codes returned across the language binding.
const (
	StatusOK = iota
	StatusInvalidSize
	StatusInput
	StatusOutput
	StatusAllocation
	StatusDevice
	StatusNoGPU
	StatusOther
)

// StatusOf classifies err into one of the Status codes.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, boxcount.ErrInvalidSize), errors.Is(err, boxcount.ErrInvalidDimension):
		return StatusInvalidSize
	case errors.Is(err, ErrInput):
		return StatusInput
	case errors.Is(err, ErrOutput):
		return StatusOutput
	case errors.Is(err, boxcount.ErrAllocation):
		return StatusAllocation
	case errors.Is(err, boxcount.ErrDevice):
		return StatusDevice
	case errors.Is(err, boxcount.ErrNoGPU):
		return StatusNoGPU
	default:
		return StatusOther
	}
}
