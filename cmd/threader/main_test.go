package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threader/internal/storage"
)

func TestRenderRuns(t *testing.T) {
	out := renderRuns([]storage.RunRecord{
		{Task: "primes", Kind: "primes", Finished: time.Now(), Elapsed: 1500 * time.Millisecond, Slices: 12, Iterations: 340},
	})
	for _, want := range []string{"TASK", "primes", "1.5s", "12", "340"} {
		assert.Contains(t, out, want)
	}
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("tasks:\n  - { name: p, kind: primes, schedule: \"@every 1m\" }\n"), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("tasks:\n  - { name: p, kind: nope }\n"), 0o600))

	prev := cfgPath
	t.Cleanup(func() { cfgPath = prev })

	cmd := checkCmd()
	cfgPath = good
	assert.NoError(t, cmd.RunE(cmd, nil))

	cfgPath = bad
	assert.ErrorContains(t, cmd.RunE(cmd, nil), "tasks[0].kind")
}

func TestNonEmptyOr(t *testing.T) {
	assert.Equal(t, "-", nonEmptyOr("", "-"))
	assert.Equal(t, "5s", nonEmptyOr("5s", "-"))
}
