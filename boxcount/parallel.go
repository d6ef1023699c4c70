package boxcount

import (
	"fmt"
	"math/bits"
)

// DefaultGroupSize is the number of workers batched per group when the
// caller does not choose one.
const DefaultGroupSize = 128

// Launch describes the wave of workers that merges one scale level.
// Worker id w in [0, Workers) owns the box whose origin has axis-k
// coordinate ((w >> (k*AxisBits)) & (PerAxis-1)) * Step.
type Launch struct {
	Level     int
	Dim       int
	Edge      int
	Step      int // box edge at this level
	Half      int // corner spacing, the previous level's box edge
	PerAxis   int // boxes along one axis
	AxisBits  int // log2(PerAxis)
	Workers   int
	GroupSize int
	Groups    int
}

// Device executes level waves against a grid and count array that it
// already holds. Dispatch may return before the wave has finished; Barrier
// blocks until every write of every dispatched wave is visible.
type Device interface {
	Dispatch(l Launch) error
	Barrier() error
}

// Plan returns the level waves for a grid of the given shape, one per level.
// groupSize <= 0 selects DefaultGroupSize.
func Plan(dim, edge, groupSize int) ([]Launch, error) {
	if _, err := CellCount(dim, edge); err != nil {
		return nil, err
	}
	levels, err := Levels(edge)
	if err != nil {
		return nil, err
	}
	if groupSize <= 0 {
		groupSize = DefaultGroupSize
	}
	plan := make([]Launch, levels)
	for level := range plan {
		step := BoxEdge(level)
		per := edge / step
		workers := BoxesAt(dim, edge, level)
		plan[level] = Launch{
			Level:     level,
			Dim:       dim,
			Edge:      edge,
			Step:      step,
			Half:      step >> 1,
			PerAxis:   per,
			AxisBits:  bits.TrailingZeros(uint(per)),
			Workers:   workers,
			GroupSize: groupSize,
			Groups:    (workers + groupSize - 1) / groupSize,
		}
	}
	return plan, nil
}

// ReduceParallel runs plan on dev, one wave per level with a full barrier
// between levels: a level-ℓ+1 worker reads cells written during level ℓ.
// The device's count array must be zeroed beforehand.
func ReduceParallel(dev Device, plan []Launch) error {
	for _, l := range plan {
		if err := dev.Dispatch(l); err != nil {
			return fmt.Errorf("level %d dispatch: %w", l.Level, err)
		}
		if err := dev.Barrier(); err != nil {
			return fmt.Errorf("level %d barrier: %w", l.Level, err)
		}
	}
	return nil
}

// boxOrigin decodes worker id into the linear index of its box origin.
func boxOrigin(id int, l Launch, strides []int) int {
	mask := l.PerAxis - 1
	base := 0
	for k := 0; k < l.Dim; k++ {
		base += (id & mask) * l.Step * strides[k]
		id >>= l.AxisBits
	}
	return base
}
