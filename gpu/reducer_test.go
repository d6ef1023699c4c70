package gpu

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jon-Ting/sphractal/boxcount"
	"github.com/Jon-Ting/sphractal/gridio"
)

func TestGroupGrid(t *testing.T) {
	x, y := groupGrid(10, 65535)
	assert.Equal(t, [2]uint32{10, 1}, [2]uint32{x, y})
	x, y = groupGrid(65536, 65535)
	assert.Equal(t, [2]uint32{65535, 2}, [2]uint32{x, y})
	x, y = groupGrid(65535*3, 65535)
	assert.Equal(t, [2]uint32{65535, 3}, [2]uint32{x, y})
}

func TestGenerateShaderConstants(t *testing.T) {
	plan, err := boxcount.Plan(3, 16, 64)
	require.NoError(t, err)
	r := NewReducer(ReducerSpec{Dim: 3, Edge: 16, GroupSize: 64})
	src := r.GenerateShader(plan[1], 1)

	for _, want := range []string{
		"const DIM: u32 = 3u;",
		"const LEVEL: u32 = 1u;",
		"const STEP: u32 = 4u;",
		"const HALF: u32 = 2u;",
		"const AXIS_MASK: u32 = 3u;",
		"const AXIS_BITS: u32 = 2u;",
		"const WORKERS: u32 = 64u;",
		"@workgroup_size(64)",
		"array<u32, 4>(1u, 16u, 256u, 4096u)",
		"atomicAdd(&counts[LEVEL], 1u)",
	} {
		assert.True(t, strings.Contains(src, want), "shader lacks %q", want)
	}
}

func TestDispatchRequiresCompile(t *testing.T) {
	r := NewReducer(ReducerSpec{Dim: 2, Edge: 8})
	plan, err := boxcount.Plan(2, 8, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, r.Dispatch(plan[0]), boxcount.ErrDevice)
	assert.NoError(t, r.Barrier())
	r.Cleanup()
}

func TestBackendShortCounts(t *testing.T) {
	g, err := boxcount.NewGrid(2, 16)
	require.NoError(t, err)
	err = Backend{}.Reduce(g, make([]uint32, 1), boxcount.Options{})
	assert.ErrorIs(t, err, boxcount.ErrInvalidSize)
}

func TestBackendRegistered(t *testing.T) {
	b, err := boxcount.Lookup("gpu")
	require.NoError(t, err)
	assert.Equal(t, "gpu", b.Name())
}

func TestBackendMatchesCPU(t *testing.T) {
	if err := EnsureGPU(); err != nil {
		t.Skipf("no WebGPU adapter: %v", err)
	}
	shapes := []struct{ dim, edge int }{{2, 256}, {3, 64}, {4, 16}}
	for _, s := range shapes {
		for _, gs := range []int{0, 32, 100} {
			g, err := boxcount.NewGrid(s.dim, s.edge)
			require.NoError(t, err)
			gridio.RandomFill(g, 10, 10)
			ref := g.Clone()

			levels, _ := boxcount.Levels(s.edge)
			want := make([]uint32, levels)
			require.NoError(t, boxcount.Reduce(ref, want))

			got := make([]uint32, levels)
			require.NoError(t, Backend{}.Reduce(g, got, boxcount.Options{GroupSize: gs}))
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("%dD edge %d group %d: (-cpu +gpu):\n%s", s.dim, s.edge, gs, diff)
			}
		}
	}
}

func TestBackendFullGrid(t *testing.T) {
	if err := EnsureGPU(); err != nil {
		t.Skipf("no WebGPU adapter: %v", err)
	}
	g, err := boxcount.NewGrid(3, 8)
	require.NoError(t, err)
	for i := range g.Cells {
		g.Cells[i] = 1
	}
	counts := make([]uint32, 2)
	require.NoError(t, Backend{}.Reduce(g, counts, boxcount.Options{}))
	assert.Equal(t, []uint32{64, 8}, counts)
}

func TestReducerBoundBuffersSurviveCleanup(t *testing.T) {
	c, err := GetContext()
	if err != nil {
		t.Skipf("no WebGPU adapter: %v", err)
	}
	g, err := boxcount.NewGrid(3, 16)
	require.NoError(t, err)
	gridio.RandomFill(g, 15, 3)
	plan, err := boxcount.Plan(3, 16, 0)
	require.NoError(t, err)

	want := make([]uint32, len(plan))
	require.NoError(t, boxcount.Reduce(g.Clone(), want))

	grid, err := UploadGrid(c, "bound_grid", g.Cells)
	require.NoError(t, err)
	defer grid.Destroy()
	counts, err := NewCountBuffer(c, "bound_counts", len(plan))
	require.NoError(t, err)
	defer counts.Destroy()

	r := NewReducer(ReducerSpec{Dim: 3, Edge: 16})
	r.Bind(grid, counts)
	require.NoError(t, r.Compile(c, "bound", plan))
	require.NoError(t, r.CreateBindGroups(c, "bound"))
	require.NoError(t, boxcount.ReduceParallel(r, plan))

	got, err := r.DownloadCounts()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-cpu +gpu):\n%s", diff)
	}

	r.Cleanup()
	assert.Same(t, grid, r.GridBuffer, "caller-owned buffers stay bound")
	again, err := ReadUint32(c, counts, len(plan))
	require.NoError(t, err)
	assert.Equal(t, want, again)
}

func TestBackendGridBeyondBindingLimit(t *testing.T) {
	c, err := GetContext()
	if err != nil {
		t.Skipf("no WebGPU adapter: %v", err)
	}
	limit := min(c.Limits.MaxStorageBufferBindingSize, c.Limits.MaxBufferSize)
	edge := 4
	for uint64(edge)*uint64(edge) <= limit {
		edge <<= 1
	}
	if uint64(edge)*uint64(edge) > 1<<30 {
		t.Skipf("binding limit %d needs a %d^2 host grid", limit, edge)
	}
	g, err := boxcount.NewGrid(2, edge)
	require.NoError(t, err)
	levels, err := boxcount.Levels(edge)
	require.NoError(t, err)

	err = Backend{}.Reduce(g, make([]uint32, levels), boxcount.Options{})
	assert.ErrorIs(t, err, boxcount.ErrAllocation)
	assert.NotErrorIs(t, err, boxcount.ErrInvalidSize)
	assert.NotErrorIs(t, err, boxcount.ErrDevice)
}

func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(log.New(&buf, "", 0))
	logf("gpu: using adapter %s", "soft")
	assert.Equal(t, "gpu: using adapter soft\n", buf.String())

	SetLogger(nil)
	logf("gpu: dropped")
	assert.Equal(t, "gpu: using adapter soft\n", buf.String())
}
