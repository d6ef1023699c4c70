package boxcount

import (
	"fmt"
	"sort"
	"sync"
)

// Options tunes a backend run. Zero values pick defaults.
type Options struct {
	GroupSize int // workers per group ("threads per block")
	Workers   int // host goroutines for the host backend
}

// Backend reduces a populated grid into counts. The grid is consumed.
type Backend interface {
	Name() string
	Reduce(g *Grid, counts []uint32, opts Options) error
}

var (
	mu       sync.RWMutex
	registry = map[string]Backend{}
)

// Register makes a backend available by name, replacing any previous one.
func Register(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	registry[b.Name()] = b
}

// Names lists the registered backends in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the named backend. An unregistered "gpu" reports ErrNoGPU.
func Lookup(name string) (Backend, error) {
	mu.RLock()
	b, ok := registry[name]
	mu.RUnlock()
	if ok {
		return b, nil
	}
	if name == "gpu" {
		return nil, fmt.Errorf("%w: backend not linked into this binary", ErrNoGPU)
	}
	return nil, fmt.Errorf("unknown backend %q (have %v)", name, Names())
}

func init() {
	Register(CPU{})
	Register(Host{})
}

// CPU is the single-threaded in-place reducer.
type CPU struct{}

func (CPU) Name() string { return "cpu" }

func (CPU) Reduce(g *Grid, counts []uint32, _ Options) error { return Reduce(g, counts) }

// Host runs the level-wave reduction on a HostDevice.
type Host struct{}

func (Host) Name() string { return "host" }

func (Host) Reduce(g *Grid, counts []uint32, opts Options) error {
	plan, err := Plan(g.Dim, g.Edge, opts.GroupSize)
	if err != nil {
		return err
	}
	dev, err := NewHostDevice(g, counts, opts.Workers)
	if err != nil {
		return err
	}
	clear(counts[:len(plan)])
	return ReduceParallel(dev, plan)
}
