package boxcount

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// HostDevice runs level waves on goroutines over a host-resident grid. Each
// goroutine takes a contiguous run of groups, sums its occupied boxes
// locally and publishes the partial sum with one atomic add.
type HostDevice struct {
	Cells  []uint8
	Counts []uint32

	strides []int
	corners []int
	workers int
	wave    *errgroup.Group
}

// NewHostDevice binds a device to g and counts. workers <= 0 uses one
// goroutine per CPU.
func NewHostDevice(g *Grid, counts []uint32, workers int) (*HostDevice, error) {
	if _, err := checkCounts(g, counts); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &HostDevice{
		Cells:   g.Cells,
		Counts:  counts,
		strides: g.Strides,
		corners: make([]int, 1<<g.Dim),
		workers: workers,
	}, nil
}

func (d *HostDevice) Dispatch(l Launch) error {
	if d.wave != nil {
		return fmt.Errorf("%w: level %d dispatched before the previous barrier", ErrDevice, l.Level)
	}
	if l.Level >= len(d.Counts) || l.Dim != len(d.strides) {
		return fmt.Errorf("%w: launch does not match the bound grid", ErrDevice)
	}
	cornerOffsets(d.strides, l.Half, d.corners)
	corners := d.corners

	span := (l.Groups + d.workers - 1) / d.workers
	d.wave = new(errgroup.Group)
	for first := 0; first < l.Groups; first += span {
		last := min(first+span, l.Groups)
		d.wave.Go(func() error {
			var local uint32
			for id, end := first*l.GroupSize, min(last*l.GroupSize, l.Workers); id < end; id++ {
				local += mergeBox(d.Cells, boxOrigin(id, l, d.strides), corners)
			}
			atomic.AddUint32(&d.Counts[l.Level], local)
			return nil
		})
	}
	return nil
}

func (d *HostDevice) Barrier() error {
	if d.wave == nil {
		return nil
	}
	err := d.wave.Wait()
	d.wave = nil
	return err
}
