package gpu

import (
	"errors"
	"fmt"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/Jon-Ting/sphractal/boxcount"
)

// ReducerSpec defines the grid a Reducer is compiled for
type ReducerSpec struct {
	Dim       int
	Edge      int
	GroupSize int // workgroup size, 0 selects boxcount.DefaultGroupSize
}

// Reducer runs the level-wave box-counting reduction on a WebGPU device.
// The grid is read and written as packed u32 words; a worker only ever
// turns its own origin byte from 0 to 1, so the write is an atomicOr and
// neighbours sharing a word never lose updates.
type Reducer struct {
	Spec ReducerSpec

	GridBuffer  *wgpu.Buffer
	CountBuffer *wgpu.Buffer
	ownsBuffers bool

	ctx        *Context
	plan       []boxcount.Launch
	groupsX    []uint32
	pipelines  []*wgpu.ComputePipeline
	bindGroups []*wgpu.BindGroup
	encoder    *wgpu.CommandEncoder
}

// NewReducer creates an uncompiled reducer for spec.
func NewReducer(spec ReducerSpec) *Reducer {
	return &Reducer{Spec: spec}
}

// AllocateBuffers stages cells into a new grid buffer and creates a zeroed
// count buffer of the given number of levels. Both are released by Cleanup.
func (r *Reducer) AllocateBuffers(c *Context, labelPrefix string, cells []uint8, levels int) error {
	var err error
	r.ownsBuffers = true
	r.GridBuffer, err = UploadGrid(c, labelPrefix+"_Grid", cells)
	if err != nil {
		return err
	}
	r.CountBuffer, err = NewCountBuffer(c, labelPrefix+"_Counts", levels)
	return err
}

// Bind adopts caller-owned device buffers; Cleanup leaves them alone. The
// count buffer must be zeroed.
func (r *Reducer) Bind(grid, counts *wgpu.Buffer) {
	r.GridBuffer, r.CountBuffer = grid, counts
	r.ownsBuffers = false
}

// GenerateShader emits the kernel for one level. Every per-level quantity
// is a compile-time constant, so one pipeline exists per level.
func (r *Reducer) GenerateShader(l boxcount.Launch, groupsX uint32) string {
	e := uint32(l.Edge)
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read_write> cells : array<atomic<u32>>;
		@group(0) @binding(1) var<storage, read_write> counts : array<atomic<u32>>;

		const DIM: u32 = %du;
		const LEVEL: u32 = %du;
		const STEP: u32 = %du;
		const HALF: u32 = %du;
		const AXIS_MASK: u32 = %du;
		const AXIS_BITS: u32 = %du;
		const WORKERS: u32 = %du;
		const GROUP_SIZE: u32 = %du;
		const GROUPS_X: u32 = %du;

		fn cell(i: u32) -> u32 {
			let word = atomicLoad(&cells[i >> 2u]);
			return (word >> ((i & 3u) * 8u)) & 0xffu;
		}

		@compute @workgroup_size(%d)
		fn main(
			@builtin(workgroup_id) wg_id: vec3<u32>,
			@builtin(local_invocation_index) lane: u32
		) {
			let id = (wg_id.y * GROUPS_X + wg_id.x) * GROUP_SIZE + lane;
			if (id >= WORKERS) {
				return;
			}

			var strides = array<u32, 4>(1u, %du, %du, %du);

			// Decode the worker id into its box origin
			var rest = id;
			var base: u32 = 0u;
			for (var k: u32 = 0u; k < DIM; k++) {
				base += (rest & AXIS_MASK) * STEP * strides[k];
				rest = rest >> AXIS_BITS;
			}

			// OR the 2^DIM corners written by the previous level
			var occupied = false;
			for (var c: u32 = 0u; c < (1u << DIM); c++) {
				var off: u32 = 0u;
				for (var k: u32 = 0u; k < DIM; k++) {
					if (((c >> k) & 1u) == 1u) {
						off += HALF * strides[k];
					}
				}
				if (cell(base + off) != 0u) {
					occupied = true;
					break;
				}
			}

			if (occupied) {
				atomicOr(&cells[base >> 2u], 1u << ((base & 3u) * 8u));
				atomicAdd(&counts[LEVEL], 1u);
			}
		}
	`, l.Dim, l.Level, l.Step, l.Half, l.PerAxis-1, l.AxisBits, l.Workers, l.GroupSize, groupsX,
		l.GroupSize, e, e*e, e*e*e)
}

// Compile builds one pipeline per level of plan.
func (r *Reducer) Compile(c *Context, labelPrefix string, plan []boxcount.Launch) error {
	r.ctx = c
	r.plan = plan
	maxX := c.Limits.MaxComputeWorkgroupsPerDimension
	if maxX == 0 {
		maxX = 65535
	}
	for _, l := range plan {
		if uint32(l.GroupSize) > c.Limits.MaxComputeInvocationsPerWorkgroup || uint32(l.GroupSize) > c.Limits.MaxComputeWorkgroupSizeX {
			return fmt.Errorf("group size %d exceeds device workgroup limits", l.GroupSize)
		}
		x, y := groupGrid(l.Groups, maxX)
		if y > maxX {
			return fmt.Errorf("level %d needs %d groups, more than the device can dispatch", l.Level, l.Groups)
		}
		r.groupsX = append(r.groupsX, x)

		module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
			Label:          fmt.Sprintf("%s_Shader%d", labelPrefix, l.Level),
			WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: r.GenerateShader(l, x)},
		})
		if err != nil {
			return err
		}
		pipeline, err := c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label:   fmt.Sprintf("%s_Pipe%d", labelPrefix, l.Level),
			Compute: wgpu.ProgrammableStageDescriptor{Module: module, EntryPoint: "main"},
		})
		module.Release()
		if err != nil {
			return err
		}
		r.pipelines = append(r.pipelines, pipeline)
	}
	return nil
}

// CreateBindGroups binds the grid and count buffers to every level pipeline.
func (r *Reducer) CreateBindGroups(c *Context, labelPrefix string) error {
	if r.GridBuffer == nil || r.CountBuffer == nil {
		return errors.New("buffers not allocated or bound")
	}
	for i, p := range r.pipelines {
		bg, err := c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  fmt.Sprintf("%s_Bind%d", labelPrefix, i),
			Layout: p.GetBindGroupLayout(0),
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: r.GridBuffer, Size: r.GridBuffer.GetSize()},
				{Binding: 1, Buffer: r.CountBuffer, Size: r.CountBuffer.GetSize()},
			},
		})
		if err != nil {
			return err
		}
		r.bindGroups = append(r.bindGroups, bg)
	}
	return nil
}

// Dispatch records the wave for one level. It is submitted by Barrier.
func (r *Reducer) Dispatch(l boxcount.Launch) error {
	if l.Level >= len(r.pipelines) || l.Level >= len(r.bindGroups) {
		return fmt.Errorf("%w: level %d was not compiled", boxcount.ErrDevice, l.Level)
	}
	if r.encoder != nil {
		return fmt.Errorf("%w: level %d dispatched before the previous barrier", boxcount.ErrDevice, l.Level)
	}
	enc, err := r.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("%w: %v", boxcount.ErrDevice, err)
	}
	x, y := groupGrid(l.Groups, r.groupsX[l.Level])
	pass := enc.BeginComputePass(&wgpu.ComputePassDescriptor{
		Label: fmt.Sprintf("fbc_level_%d", l.Level),
	})
	pass.SetPipeline(r.pipelines[l.Level])
	pass.SetBindGroup(0, r.bindGroups[l.Level], nil)
	pass.DispatchWorkgroups(x, y, 1)
	pass.End()
	r.encoder = enc
	return nil
}

// Barrier submits the recorded wave and waits for the queue to drain, so
// the next level reads fully committed cells.
func (r *Reducer) Barrier() error {
	if r.encoder == nil {
		return nil
	}
	enc := r.encoder
	r.encoder = nil
	cb, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return fmt.Errorf("%w: finish command buffer: %v", boxcount.ErrDevice, err)
	}
	r.ctx.Queue.Submit(cb)
	cb.Release()
	r.ctx.Device.Poll(true, nil)
	return nil
}

// DownloadCounts stages the per-level counts back to the host.
func (r *Reducer) DownloadCounts() ([]uint32, error) {
	return ReadUint32(r.ctx, r.CountBuffer, len(r.plan))
}

// Cleanup releases every pipeline and bind group, plus the buffers when
// the reducer allocated them.
func (r *Reducer) Cleanup() {
	if r.encoder != nil {
		r.encoder.Release()
		r.encoder = nil
	}
	for _, bg := range r.bindGroups {
		bg.Release()
	}
	r.bindGroups = nil
	for _, p := range r.pipelines {
		p.Release()
	}
	r.pipelines = nil
	if r.ownsBuffers {
		if r.GridBuffer != nil {
			r.GridBuffer.Destroy()
		}
		if r.CountBuffer != nil {
			r.CountBuffer.Destroy()
		}
		r.GridBuffer, r.CountBuffer = nil, nil
	}
}

// groupGrid folds groups into an x*y dispatch with x <= maxX.
func groupGrid(groups int, maxX uint32) (x, y uint32) {
	g := uint32(groups)
	if g <= maxX {
		return g, 1
	}
	return maxX, (g + maxX - 1) / maxX
}

// Backend is the "gpu" boxcount backend. It owns the host↔device staging:
// upload, reduce, download counts, release.
type Backend struct{}

func (Backend) Name() string { return "gpu" }

// Reduce leaves the host grid untouched; the coarsened copy lives and dies
// on the device. Callers must still treat g as consumed.
func (Backend) Reduce(g *boxcount.Grid, counts []uint32, opts boxcount.Options) error {
	plan, err := boxcount.Plan(g.Dim, g.Edge, opts.GroupSize)
	if err != nil {
		return err
	}
	if len(counts) < len(plan) {
		return fmt.Errorf("%w: count array holds %d levels, edge %d needs %d", boxcount.ErrInvalidSize, len(counts), g.Edge, len(plan))
	}
	if len(plan) == 0 {
		return nil
	}
	c, err := GetContext()
	if err != nil {
		return fmt.Errorf("%w: %v", boxcount.ErrNoGPU, err)
	}

	r := NewReducer(ReducerSpec{Dim: g.Dim, Edge: g.Edge, GroupSize: opts.GroupSize})
	defer r.Cleanup()
	if err := r.AllocateBuffers(c, "fbc", g.Cells, len(plan)); err != nil {
		return fmt.Errorf("%w: %v", boxcount.ErrAllocation, err)
	}
	if err := r.Compile(c, "fbc", plan); err != nil {
		return fmt.Errorf("%w: compile: %v", boxcount.ErrDevice, err)
	}
	if err := r.CreateBindGroups(c, "fbc"); err != nil {
		return fmt.Errorf("%w: bind: %v", boxcount.ErrDevice, err)
	}
	if err := boxcount.ReduceParallel(r, plan); err != nil {
		return err
	}
	out, err := r.DownloadCounts()
	if err != nil {
		return fmt.Errorf("%w: download counts: %v", boxcount.ErrDevice, err)
	}
	copy(counts, out)
	return nil
}

func init() {
	boxcount.Register(Backend{})
}
