package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

/* ---------- public API ---------- */

// Report is a portable summary of the adapter a box-counting run would use.
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Runtime     string            `json:"runtime"`
	Backend     string            `json:"backend"`
	AdapterType string            `json:"adapter_type"`
	VendorID    string            `json:"vendor_id_hex"`
	DeviceID    string            `json:"device_id_hex"`
	Name        string            `json:"name"`
	Driver      string            `json:"driver"`
	Recommended Recommendations   `json:"recommended"`
	Limits      Limits            `json:"limits"`
	Env         map[string]string `json:"env,omitempty"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

type Recommendations struct {
	// Workers per group for the level kernels.
	GroupSize uint32 `json:"group_size"`

	// Largest power-of-two grid edge whose grid fits one storage binding,
	// indexed by dimension (entries 2, 3 and 4 are filled).
	MaxEdge [5]int `json:"max_edge"`
}

// DetectJSON runs a probe and returns the JSON string.
func DetectJSON() (string, error) {
	rep, err := Detect()
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Detect probes the default high-performance adapter.
func Detect() (*Report, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("wgpu.CreateInstance returned nil")
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	if adapter == nil {
		return nil, fmt.Errorf("no adapter")
	}
	defer adapter.Release()

	info := adapter.GetInfo()
	lim := LimitsFrom(adapter.GetLimits().Limits)

	return &Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		Runtime:     runtime.GOOS + "/" + runtime.GOARCH,
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits:      lim,
		Recommended: Recommend(lim),
		Env:         pickEnv([]string{"SPHRACTAL_ADAPTER", "SPHRACTAL_BACKEND"}),
	}, nil
}

// Recommend derives box-counting launch hints from device limits.
func Recommend(l Limits) Recommendations {
	return Recommendations{
		GroupSize: chooseGroupSize(l),
		MaxEdge:   maxEdges(min(l.MaxStorageBufferBindingSize, l.MaxBufferSize)),
	}
}

/* ---------- helpers ---------- */

// LimitsFrom keeps the wgpu limits that matter to box-counting launches.
func LimitsFrom(l wgpu.Limits) Limits {
	return Limits{
		MaxComputeInvocationsPerWorkgroup: l.MaxComputeInvocationsPerWorkgroup,
		MaxComputeWorkgroupSizeX:          l.MaxComputeWorkgroupSizeX,
		MaxComputeWorkgroupsPerDimension:  l.MaxComputeWorkgroupsPerDimension,
		MaxStorageBufferBindingSize:       l.MaxStorageBufferBindingSize,
		MaxBufferSize:                     l.MaxBufferSize,
	}
}

// chooseGroupSize prefers 128, the classic threads-per-block for this
// kernel, and falls back to whatever the device allows.
func chooseGroupSize(l Limits) uint32 {
	for _, c := range []uint32{128, 256, 64, 32, 16, 8, 4, 1} {
		if c <= l.MaxComputeWorkgroupSizeX && c <= l.MaxComputeInvocationsPerWorkgroup {
			return c
		}
	}
	return 1
}

func maxEdges(budget uint64) [5]int {
	var out [5]int
	for dim := 2; dim <= 4; dim++ {
		edge := 0
		for m := 4; ; m <<= 1 {
			cells := uint64(1)
			for range dim {
				cells *= uint64(m)
			}
			if cells > budget || cells > 1<<32 {
				break
			}
			edge = m
		}
		out[dim] = edge
	}
	return out
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
