// Package gridio moves occupancy grids and box counts in and out of text
// files and builds reproducible random test grids.
package gridio

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"

	"github.com/Jon-Ting/sphractal/boxcount"
)

// ReadIndices parses whitespace-separated integer cell indices.
func ReadIndices(r io.Reader) ([]int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	sc.Split(bufio.ScanWords)

	var out []int
	for sc.Scan() {
		v, err := strconv.Atoi(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", len(out), err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read indices: %w", err)
	}
	return out, nil
}

// ReadIndicesFile opens path and parses it with ReadIndices.
func ReadIndicesFile(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadIndices(f)
}

// CheckIndices rejects indices that fall outside a grid of cells entries.
func CheckIndices(indices []int, cells int) error {
	for i, v := range indices {
		if v < 0 || v >= cells {
			return fmt.Errorf("index %d: cell %d outside [0, %d)", i, v, cells)
		}
	}
	return nil
}

// WriteCounts writes one "<box edge> <count>" line per level, finest first.
func WriteCounts(w io.Writer, counts []uint32) error {
	bw := bufio.NewWriter(w)
	for level, n := range counts {
		if _, err := fmt.Fprintf(bw, "%d %d\n", boxcount.BoxEdge(level), n); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteCountsFile creates path and writes counts to it.
func WriteCountsFile(path string, counts []uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCounts(f, counts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// RandomFill sets each cell of g to 1 with probability onesPercent/100. The
// same seed always produces the same grid.
func RandomFill(g *boxcount.Grid, onesPercent int, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for i := range g.Cells {
		if rng.IntN(100) < onesPercent {
			g.Cells[i] = 1
		} else {
			g.Cells[i] = 0
		}
	}
}
