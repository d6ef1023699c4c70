package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jon-Ting/sphractal/boxcount"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "cpu", cfg.GetBackend())
	assert.Equal(t, 3, cfg.GetDim())
	assert.Equal(t, boxcount.DefaultGroupSize, cfg.GetGroupSize())
	assert.Equal(t, uint64(10), cfg.GetSeed())
}

func TestLoadPartial(t *testing.T) {
	t.Setenv(BackendEnv, "")
	path := writeConfig(t, "run.json", `{"backend": "host", "dim": 4, "group_size": 64}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "host", cfg.GetBackend())
	assert.Equal(t, 4, cfg.GetDim())
	assert.Equal(t, 64, cfg.GetGroupSize())
	assert.Equal(t, 20, cfg.GetOnesPercent())
	assert.Equal(t, 3, cfg.GetRepetitions())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv(BackendEnv, "gpu")
	cfg, err := Load(writeConfig(t, "run.json", `{"backend": "cpu"}`))
	require.NoError(t, err)
	assert.Equal(t, "gpu", cfg.GetBackend())
}

func TestLoadRejects(t *testing.T) {
	_, err := Load(writeConfig(t, "run.yaml", `backend: cpu`))
	assert.ErrorContains(t, err, ".json")

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "bad.json", `{"dim": `))
	assert.ErrorContains(t, err, "parse")

	_, err = Load(writeConfig(t, "dim.json", `{"dim": 5}`))
	assert.ErrorIs(t, err, boxcount.ErrInvalidDimension)

	_, err = Load(writeConfig(t, "pct.json", `{"ones_percent": 101}`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "reps.json", `{"repetitions": 0}`))
	assert.Error(t, err)
}

func TestNilFieldsFallBack(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, "cpu", cfg.GetBackend())
	assert.Equal(t, 0, cfg.GetWorkers())
	assert.Equal(t, "fbc-bench.db", cfg.GetStorePath())
}
