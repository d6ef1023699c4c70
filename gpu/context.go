package gpu

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// AdapterEnv names the environment variable whose value, when set, is
// matched case-insensitively against adapter and vendor names.
const AdapterEnv = "SPHRACTAL_ADAPTER"

// Context holds the single WebGPU context for the process
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Limits   wgpu.Limits
	once     sync.Once
}

var ctx Context

var (
	loggerMu sync.Mutex
	logger   = log.New(io.Discard, "", 0)
)

// SetLogger routes adapter selection messages to l. They are discarded
// until a logger is set; nil discards them again.
func SetLogger(l *log.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	logger = l
}

func logf(format string, args ...any) {
	loggerMu.Lock()
	l := logger
	loggerMu.Unlock()
	l.Printf(format, args...)
}

// GetContext returns the singleton GPU context, initializing it if necessary
func GetContext() (*Context, error) {
	var initErr error
	ctx.once.Do(func() {
		ctx.Instance = wgpu.CreateInstance(nil)
		if ctx.Instance == nil {
			initErr = fmt.Errorf("failed to create WebGPU instance")
			return
		}

		// 0. An explicit adapter preference wins, discrete NVIDIA parts next
		want := strings.ToLower(os.Getenv(AdapterEnv))
		if want == "" {
			want = "nvidia"
		}
		for _, a := range ctx.Instance.EnumerateAdapters(nil) {
			info := a.GetInfo()
			name, vendor := strings.ToLower(info.Name), strings.ToLower(info.VendorName)
			if strings.Contains(name, want) || strings.Contains(vendor, want) {
				logf("gpu: selecting adapter %s (vendor %s, device 0x%X)", info.Name, info.VendorName, info.DeviceId)
				ctx.Adapter = a
				break
			}
		}

		// 1. High performance, then low power, then whatever the driver offers
		for _, opts := range []*wgpu.RequestAdapterOptions{
			{PowerPreference: wgpu.PowerPreferenceHighPerformance},
			{PowerPreference: wgpu.PowerPreferenceLowPower},
			nil,
		} {
			if ctx.Adapter != nil {
				break
			}
			ctx.Adapter, initErr = ctx.Instance.RequestAdapter(opts)
			if initErr != nil {
				logf("gpu: adapter request failed: %v", initErr)
			}
		}
		if ctx.Adapter == nil {
			initErr = fmt.Errorf("all adapter attempts failed: %v", initErr)
			return
		}

		info := ctx.Adapter.GetInfo()
		logf("gpu: using adapter %s (vendor %s)", info.Name, info.VendorName)
		ctx.Limits = ctx.Adapter.GetLimits().Limits

		// Large grids need the adapter's full storage binding range
		var err error
		ctx.Device, err = ctx.Adapter.RequestDevice(&wgpu.DeviceDescriptor{
			Label:            "sphractal",
			RequiredLimits:   &wgpu.RequiredLimits{Limits: ctx.Limits},
			RequiredFeatures: nil,
		})
		if err != nil {
			initErr = err
			return
		}
		ctx.Queue = ctx.Device.GetQueue()
	})

	if initErr != nil {
		return nil, initErr
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, fmt.Errorf("WebGPU device or queue not initialized")
	}
	return &ctx, nil
}
