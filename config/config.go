// Package config loads run settings for the box-counting drivers.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Jon-Ting/sphractal/boxcount"
)

// BackendEnv overrides the configured backend when set.
const BackendEnv = "SPHRACTAL_BACKEND"

// Config holds driver settings. Fields left out of a JSON file keep their
// defaults, so partial files are safe.
type Config struct {
	Backend     *string `json:"backend,omitempty"`      // "cpu", "host" or "gpu"
	Dim         *int    `json:"dim,omitempty"`          // 2, 3 or 4
	GroupSize   *int    `json:"group_size,omitempty"`   // workers per group, 0 = device recommendation
	Workers     *int    `json:"workers,omitempty"`      // host goroutines, 0 = NumCPU
	OnesPercent *int    `json:"ones_percent,omitempty"` // random grid density for benchmarks
	Seed        *uint64 `json:"seed,omitempty"`
	Repetitions *int    `json:"repetitions,omitempty"`
	StorePath   *string `json:"store_path,omitempty"` // sqlite file for benchmark runs
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrUint64(v uint64) *uint64 { return &v }

// Defaults returns a fully populated configuration.
func Defaults() *Config {
	return &Config{
		Backend:     ptrString("cpu"),
		Dim:         ptrInt(3),
		GroupSize:   ptrInt(boxcount.DefaultGroupSize),
		Workers:     ptrInt(0),
		OnesPercent: ptrInt(20),
		Seed:        ptrUint64(10),
		Repetitions: ptrInt(3),
		StorePath:   ptrString("fbc-bench.db"),
	}
}

// Load reads a JSON file over the defaults and applies the environment.
// The path must end in .json and the file must be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv lets SPHRACTAL_BACKEND override the backend.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(BackendEnv); v != "" {
		c.Backend = ptrString(v)
	}
}

// Validate checks ranges; backend names are checked at lookup time.
func (c *Config) Validate() error {
	if c.GetDim() < 2 || c.GetDim() > 4 {
		return fmt.Errorf("%w: dim %d", boxcount.ErrInvalidDimension, c.GetDim())
	}
	if c.GetGroupSize() < 0 {
		return fmt.Errorf("group_size must be >= 0, got %d", c.GetGroupSize())
	}
	if c.GetWorkers() < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.GetWorkers())
	}
	if p := c.GetOnesPercent(); p < 0 || p > 100 {
		return fmt.Errorf("ones_percent must be in [0, 100], got %d", p)
	}
	if c.GetRepetitions() < 1 {
		return fmt.Errorf("repetitions must be >= 1, got %d", c.GetRepetitions())
	}
	return nil
}

func (c *Config) GetBackend() string {
	if c.Backend == nil {
		return *Defaults().Backend
	}
	return *c.Backend
}

func (c *Config) GetDim() int {
	if c.Dim == nil {
		return *Defaults().Dim
	}
	return *c.Dim
}

func (c *Config) GetGroupSize() int {
	if c.GroupSize == nil {
		return *Defaults().GroupSize
	}
	return *c.GroupSize
}

func (c *Config) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

func (c *Config) GetOnesPercent() int {
	if c.OnesPercent == nil {
		return *Defaults().OnesPercent
	}
	return *c.OnesPercent
}

func (c *Config) GetSeed() uint64 {
	if c.Seed == nil {
		return *Defaults().Seed
	}
	return *c.Seed
}

func (c *Config) GetRepetitions() int {
	if c.Repetitions == nil {
		return *Defaults().Repetitions
	}
	return *c.Repetitions
}

func (c *Config) GetStorePath() string {
	if c.StorePath == nil {
		return *Defaults().StorePath
	}
	return *c.StorePath
}
