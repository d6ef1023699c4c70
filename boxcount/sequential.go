package boxcount

import "fmt"

// Reduce runs the sequential box-counting reduction. For every level ℓ it
// merges the 2^d corner cells of each box of edge 2^(ℓ+1) into the box's
// first corner and stores the number of occupied boxes in counts[ℓ].
//
// The reduction is in place: on return g holds the coarsest level and its
// fine-grained content is gone. Reducing the same grid twice without
// repopulating it gives meaningless counts.
func Reduce(g *Grid, counts []uint32) error {
	levels, err := checkCounts(g, counts)
	if err != nil {
		return err
	}
	corners := make([]int, 1<<g.Dim)
	coords := make([]int, g.Dim)
	for level, step := 0, 2; level < levels; level, step = level+1, step<<1 {
		cornerOffsets(g.Strides, step>>1, corners)
		clear(coords)

		var n uint32
		base := 0
		for {
			n += mergeBox(g.Cells, base, corners)

			// advance the odometer over box origins, axis 0 fastest
			k := 0
			for ; k < g.Dim; k++ {
				coords[k] += step
				base += step * g.Strides[k]
				if coords[k] < g.Edge {
					break
				}
				base -= coords[k] * g.Strides[k]
				coords[k] = 0
			}
			if k == g.Dim {
				break
			}
		}
		counts[level] = n
	}
	return nil
}

// checkCounts validates the grid shape and that counts can hold every level.
func checkCounts(g *Grid, counts []uint32) (int, error) {
	n, err := CellCount(g.Dim, g.Edge)
	if err != nil {
		return 0, err
	}
	if len(g.Cells) != n || len(g.Strides) != g.Dim {
		return 0, fmt.Errorf("%w: grid buffer does not match %d^%d", ErrInvalidSize, g.Edge, g.Dim)
	}
	levels, err := Levels(g.Edge)
	if err != nil {
		return 0, err
	}
	if len(counts) < levels {
		return 0, fmt.Errorf("%w: count array holds %d levels, edge %d needs %d", ErrInvalidSize, len(counts), g.Edge, levels)
	}
	return levels, nil
}

// cornerOffsets fills dst with the linear offsets of the 2^d corners of a
// box whose corners are half apart. dst[0] is always 0.
func cornerOffsets(strides []int, half int, dst []int) {
	for mask := range dst {
		off := 0
		for k, s := range strides {
			if mask&(1<<k) != 0 {
				off += half * s
			}
		}
		dst[mask] = off
	}
}

// mergeBox ORs the corner cells into cells[base] and reports 1 if the box
// is occupied.
func mergeBox(cells []uint8, base int, corners []int) uint32 {
	for _, off := range corners {
		if cells[base+off] != 0 {
			cells[base] = 1
			return 1
		}
	}
	cells[base] = 0
	return 0
}
