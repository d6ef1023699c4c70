package boxcount

import (
	"fmt"
	"math"
	"math/bits"
)

// Grid is a dense occupancy lattice of Dim axes and Edge cells per axis,
// one byte per cell. Axis 0 varies fastest: cell (i0, …, i_{d-1}) lives at
// Σ i_k · Strides[k] with Strides[k] = Edge^k.
type Grid struct {
	Cells   []uint8
	Edge    int
	Dim     int
	Strides []int
}

// NewGrid allocates a zeroed grid.
func NewGrid(dim, edge int) (*Grid, error) {
	n, err := CellCount(dim, edge)
	if err != nil {
		return nil, err
	}
	cells, err := allocCells(n)
	if err != nil {
		return nil, err
	}
	return &Grid{Cells: cells, Edge: edge, Dim: dim, Strides: Strides(dim, edge)}, nil
}

// WrapGrid adopts cells as the backing store of a grid without copying.
func WrapGrid(cells []uint8, dim, edge int) (*Grid, error) {
	n, err := CellCount(dim, edge)
	if err != nil {
		return nil, err
	}
	if len(cells) != n {
		return nil, fmt.Errorf("%w: buffer holds %d cells, %d^%d needs %d", ErrInvalidSize, len(cells), edge, dim, n)
	}
	return &Grid{Cells: cells, Edge: edge, Dim: dim, Strides: Strides(dim, edge)}, nil
}

// Strides returns the linear step of each axis for a grid of the given shape.
func Strides(dim, edge int) []int {
	strides := make([]int, dim)
	s := 1
	for k := range strides {
		strides[k] = s
		s *= edge
	}
	return strides
}

// Index maps a coordinate tuple to its linear cell index.
func (g *Grid) Index(coords ...int) int {
	idx := 0
	for k, c := range coords {
		idx += c * g.Strides[k]
	}
	return idx
}

// Scatter marks every referenced cell as occupied. Indices are trusted;
// range checks belong to whoever produced them.
func (g *Grid) Scatter(indices []int) {
	for _, i := range indices {
		g.Cells[i] = 1
	}
}

// Occupied returns the number of non-zero cells.
func (g *Grid) Occupied() int {
	n := 0
	for _, c := range g.Cells {
		if c != 0 {
			n++
		}
	}
	return n
}

// Reset zeroes every cell so the grid can be repopulated after a reduction.
func (g *Grid) Reset() {
	clear(g.Cells)
}

// Clone returns a deep copy, typically taken before a destructive reduction.
func (g *Grid) Clone() *Grid {
	cells := make([]uint8, len(g.Cells))
	copy(cells, g.Cells)
	strides := make([]int, len(g.Strides))
	copy(strides, g.Strides)
	return &Grid{Cells: cells, Edge: g.Edge, Dim: g.Dim, Strides: strides}
}

// Bits returns log2(edge) for a power-of-two edge of at least 2.
func Bits(edge int) (int, error) {
	if edge < 2 || edge&(edge-1) != 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidSize, edge)
	}
	return bits.TrailingZeros(uint(edge)), nil
}

// Levels returns the number of scale levels, log2(edge) - 1. An edge of 2
// is valid and yields no levels.
func Levels(edge int) (int, error) {
	b, err := Bits(edge)
	if err != nil {
		return 0, err
	}
	return b - 1, nil
}

// BoxEdge is the box edge length counted at level.
func BoxEdge(level int) int { return 2 << level }

// BoxesAt is the number of boxes examined at level, (edge / 2^(level+1))^dim.
func BoxesAt(dim, edge, level int) int {
	per := edge / BoxEdge(level)
	n := 1
	for range dim {
		n *= per
	}
	return n
}

// CellCount validates the shape and returns edge^dim.
func CellCount(dim, edge int) (int, error) {
	if dim < 2 || dim > 4 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidDimension, dim)
	}
	if _, err := Bits(edge); err != nil {
		return 0, err
	}
	n := 1
	for range dim {
		if n > math.MaxInt/edge {
			return 0, fmt.Errorf("%w: %d^%d cells overflow", ErrInvalidSize, edge, dim)
		}
		n *= edge
	}
	// counts are 32-bit, so the finest level must fit
	if BoxesAt(dim, edge, 0) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d^%d exceeds 32-bit box counts", ErrInvalidSize, edge, dim)
	}
	return n, nil
}

func allocCells(n int) (cells []uint8, err error) {
	defer func() {
		if r := recover(); r != nil {
			cells, err = nil, fmt.Errorf("%w: %d cells: %v", ErrAllocation, n, r)
		}
	}()
	return make([]uint8, n), nil
}
