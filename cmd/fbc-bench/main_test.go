package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jon-Ting/sphractal/benchstore"
)

func TestBenchHostMatchesCPU(t *testing.T) {
	var out bytes.Buffer
	p := params{Dim: 3, Edge: 16, Backend: "host", GroupSize: 7, Workers: 3, OnesPercent: 20, Seed: 10, Repetitions: 2}
	fp, results, err := bench(p, &out)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Len(t, fp, 64)

	assert.Equal(t, "cpu", results[0].Backend)
	assert.Equal(t, "host", results[1].Backend)
	assert.Equal(t, results[0].Counts, results[1].Counts)
	assert.True(t, results[1].Matches)
	assert.Len(t, results[1].Seconds, 2)
	assert.Contains(t, out.String(), "s: 2 -- n: ")
	assert.Contains(t, out.String(), "s: 8 -- n: ")
	assert.Contains(t, out.String(), "Counts match")

	// same seed, same grid
	fp2, _, err := bench(p, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, fp, fp2)
}

func TestBenchFullGrid(t *testing.T) {
	p := params{Dim: 2, Edge: 8, Backend: "host", OnesPercent: 100, Seed: 1, Repetitions: 1}
	_, results, err := bench(p, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, []uint32{16, 4}, results[1].Counts)
}

func TestBenchRejectsBadShape(t *testing.T) {
	_, _, err := bench(params{Dim: 2, Edge: 2, Backend: "host", Repetitions: 1}, &bytes.Buffer{})
	assert.Error(t, err)
	_, _, err = bench(params{Dim: 2, Edge: 12, Backend: "host", Repetitions: 1}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestMeanStd(t *testing.T) {
	m, s := meanStd(nil)
	assert.Zero(t, m)
	assert.Zero(t, s)
	m, s = meanStd([]float64{2})
	assert.Equal(t, 2.0, m)
	assert.Zero(t, s)
	m, s = meanStd([]float64{1, 3})
	assert.InDelta(t, 2.0, m, 1e-12)
	assert.InDelta(t, 1.4142135623730951, s, 1e-12)
}

func TestRunRecordsSession(t *testing.T) {
	t.Setenv("SPHRACTAL_BACKEND", "")
	db := filepath.Join(t.TempDir(), "bench.db")
	var stdout, stderr bytes.Buffer
	code := run([]string{"-dim", "2", "-edge", "32", "-reps", "2", "-db", db}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var session string
	for _, line := range strings.Split(stdout.String(), "\n") {
		if rest, ok := strings.CutPrefix(line, "Stored session "); ok {
			session = strings.Fields(rest)[0]
		}
	}
	require.NotEmpty(t, session)

	store, err := benchstore.Open(db)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListSession(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "cpu", runs[0].Backend)
	assert.Equal(t, "host", runs[1].Backend)
	assert.Equal(t, runs[0].Fingerprint, runs[1].Fingerprint)
	assert.True(t, runs[1].MatchesCPU)
	assert.Equal(t, 2, runs[1].Repetitions)
	assert.Len(t, runs[1].Counts, 4)
}

func TestRunConfigAndRejections(t *testing.T) {
	t.Setenv("SPHRACTAL_BACKEND", "")
	dir := t.TempDir()
	cfg := filepath.Join(dir, "bench.json")
	require.NoError(t, os.WriteFile(cfg, []byte(`{"dim": 2, "repetitions": 1, "store_path": "-"}`), 0o644))

	var stdout, stderr bytes.Buffer
	code := run([]string{"-config", cfg, "-backend", "host", "-edge", "8"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.NotContains(t, stdout.String(), "Stored session")

	assert.Equal(t, 1, run([]string{"-backend", "cpu", "-db", "-"}, &bytes.Buffer{}, &bytes.Buffer{}))
	assert.Equal(t, 1, run([]string{"-dim", "9", "-db", "-"}, &bytes.Buffer{}, &bytes.Buffer{}))
	assert.Equal(t, 1, run([]string{"-edge", "100", "-db", "-"}, &bytes.Buffer{}, &bytes.Buffer{}))
}

func TestRunHonoursBackendEnv(t *testing.T) {
	t.Setenv("SPHRACTAL_BACKEND", "abacus")

	var stderr bytes.Buffer
	code := run([]string{"-edge", "8", "-reps", "1", "-db", "-"}, &bytes.Buffer{}, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), `unknown backend "abacus"`)

	// an explicit flag still wins over the environment
	stderr.Reset()
	code = run([]string{"-backend", "host", "-edge", "8", "-reps", "1", "-db", "-"}, &bytes.Buffer{}, &stderr)
	assert.Equal(t, 0, code, stderr.String())
}
