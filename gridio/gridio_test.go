package gridio

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jon-Ting/sphractal/boxcount"
)

func TestReadIndices(t *testing.T) {
	got, err := ReadIndices(strings.NewReader("0 5\n17\t3\n\n  42 "))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 5, 17, 3, 42}, got)

	got, err = ReadIndices(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ReadIndices(strings.NewReader("1 2 x3"))
	assert.ErrorContains(t, err, "index 2")
}

func TestReadIndicesFileMissing(t *testing.T) {
	_, err := ReadIndicesFile(filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCheckIndices(t *testing.T) {
	assert.NoError(t, CheckIndices([]int{0, 15}, 16))
	assert.Error(t, CheckIndices([]int{0, 16}, 16))
	assert.Error(t, CheckIndices([]int{-1}, 16))
}

func TestWriteCounts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCounts(&buf, []uint32{64, 8, 1}))
	assert.Equal(t, "2 64\n4 8\n8 1\n", buf.String())
}

func TestWriteCountsFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts.txt")
	require.NoError(t, WriteCountsFile(path, []uint32{3, 1}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2 3\n4 1\n", string(data))

	err = WriteCountsFile(filepath.Join(t.TempDir(), "missing", "counts.txt"), nil)
	assert.Error(t, err)
}

func TestRandomFillReproducible(t *testing.T) {
	a, err := boxcount.NewGrid(3, 16)
	require.NoError(t, err)
	b, err := boxcount.NewGrid(3, 16)
	require.NoError(t, err)

	RandomFill(a, 20, 10)
	RandomFill(b, 20, 10)
	assert.Equal(t, a.Cells, b.Cells)

	occ := a.Occupied()
	assert.Greater(t, occ, 0)
	assert.Less(t, occ, len(a.Cells)/2)

	RandomFill(b, 20, 11)
	assert.NotEqual(t, a.Cells, b.Cells)

	RandomFill(b, 0, 1)
	assert.Zero(t, b.Occupied())
	RandomFill(b, 100, 1)
	assert.Equal(t, len(b.Cells), b.Occupied())
}
