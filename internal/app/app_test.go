package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threader/internal/config"
	"threader/internal/host/hosttest"
	"threader/internal/observability/pprof"
	"threader/internal/storage"
	"threader/internal/threader"
	"threader/internal/trigger"
	"threader/internal/workload"
	logx "threader/pkg/logx"
)

func TestValidateConfig(t *testing.T) {
	cfg := &config.Config{
		Trigger: config.TriggerConfig{Timezone: "Mars/Olympus"},
		Storage: &config.StorageConfig{Driver: "sqlite"},
		Tasks: []config.TaskConfig{
			{Name: "a", Kind: "primes", Schedule: "@every 10s"},
			{Name: "b", Kind: "fibonacci"},
			{Name: "c", Kind: "count", Schedule: "whenever"},
		},
	}
	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, workload.ErrUnknownKind)
	assert.ErrorContains(t, err, "tasks[2].schedule")
	assert.ErrorContains(t, err, "trigger.timezone")
	assert.ErrorContains(t, err, "storage.path is required")

	public := &config.Config{Pprof: config.PprofConfig{Enabled: true, Addr: "0.0.0.0:6060"}}
	assert.ErrorIs(t, ValidateConfig(public), pprof.ErrInsecureBind)
	public.Pprof.Token = "s3cret"
	assert.NoError(t, ValidateConfig(public))

	ok := &config.Config{Tasks: []config.TaskConfig{{Name: "a", Kind: "spin"}, {Name: "b", Kind: "count", Schedule: "*/5 * * * *"}}}
	assert.NoError(t, ValidateConfig(ok))
}

func TestMapStorageConfig(t *testing.T) {
	_, on, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, on)

	sc, on, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "3s", Retain: 5}})
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, storage.Config{Driver: "sqlite", Path: "x.db", BusyTimeout: 3 * time.Second, Retain: 5}, sc)

	sc, on, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "file"}})
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, "./threader", sc.Path)

	_, err = OpenStore(&config.Config{Storage: &config.StorageConfig{Driver: "none"}}, logx.Nop())
	assert.ErrorIs(t, err, storage.ErrDisabled)
}

func newTestRunner(t *testing.T) (*runner, *threader.Scheduler, *hosttest.Fake) {
	t.Helper()
	f := hosttest.New(30)
	s := threader.New(f, threader.Config{Priority: 0.4, FrameRate: 60}, logx.Nop(), nil)
	trig := trigger.New(trigger.Config{}, nil, logx.Nop())
	return newRunner(s, trig, logx.Nop()), s, f
}

func TestRunnerStartsAndSkipsOverlap(t *testing.T) {
	r, s, f := newTestRunner(t)
	tasks := []config.TaskConfig{
		{Name: "held", Kind: "count", Size: 10, Paused: true},
		{Name: "quick", Kind: "count", Size: 10},
		{Name: "later", Kind: "count", Size: 10, Schedule: "@every 1m"},
	}
	r.apply(tasks, allTasks(tasks))

	assert.Equal(t, []string{"held", "later", "quick"}, r.names())
	assert.Equal(t, 2, s.Len(), "scheduled task waits for its trigger")
	assert.Equal(t, "count", r.kindOf("quick"))

	assert.ErrorIs(t, r.start("held"), trigger.ErrSkipped)

	f.Frame()
	assert.Equal(t, 1, s.Len(), "quick completed in its first slice")
	assert.NotContains(t, r.active, "quick")
	require.NoError(t, r.start("quick"), "completed task may start again")

	assert.True(t, r.setPaused("held", false))
	f.Frame()
	assert.Equal(t, 0, s.Len())
	assert.False(t, r.setPaused("held", true))

	require.NoError(t, r.start("later"))
	assert.Error(t, r.start("nope"))
}

func TestRunnerAppliesChanges(t *testing.T) {
	r, s, _ := newTestRunner(t)
	v1 := []config.TaskConfig{
		{Name: "a", Kind: "spin", Paused: true},
		{Name: "b", Kind: "spin", Paused: true},
	}
	r.apply(v1, allTasks(v1))
	require.Equal(t, 2, s.Len())
	oldB := r.active["b"]

	v2 := []config.TaskConfig{
		{Name: "b", Kind: "count", Size: 5, Paused: true},
		{Name: "c", Kind: "spin", Sleep: "1s"},
	}
	_, _, ch := config.SummarizeConfigChange(&config.Config{Tasks: v1}, &config.Config{Tasks: v2})
	r.apply(v2, ch)

	assert.Equal(t, []string{"b", "c"}, r.names())
	assert.NotContains(t, r.active, "a")
	assert.NotSame(t, oldB, r.active["b"], "changed task restarted")
	assert.False(t, s.Has(oldB))
	assert.True(t, r.active["c"].Suspended())
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "count", r.kindOf("b"))
	assert.Empty(t, r.kindOf("a"))
}

func TestRunRecordFromEvent(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := runRecord(threader.TaskEvent{
		ID: "id-1", Name: "primes", Started: start, At: start.Add(time.Second),
		Slices: 3, Iterations: 90, Elapsed: time.Second,
	}, "primes")
	assert.Equal(t, storage.RunRecord{
		Task: "primes", TaskID: "id-1", Kind: "primes",
		Started: start, Finished: start.Add(time.Second),
		Slices: 3, Iterations: 90, Elapsed: time.Second,
	}, rec)
}

const testConfig = `
logging: { level: DEBUG }
scheduler: { priority: 0.5, frame_rate: 60 }
storage: { driver: file, path: "%s" }
tasks:
  - { name: count, kind: count, size: 5000 }
  - { name: checksum, kind: checksum, size: 65536 }
`

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestAppRunsTasksAndRecordsHistory(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "threader.yaml")
	histPath := filepath.Join(dir, "history")
	writeConfig(t, cfgPath, fmt.Sprintf(testConfig, histPath))

	a, err := New(cfgPath, WithLogWriter(io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		require.NoError(t, a.Stop(stopCtx, StopAppStop))
	}()

	require.Eventually(t, func() bool {
		st, err := a.Status(ctx, 10)
		return err == nil && len(st.History) == 2
	}, 5*time.Second, 20*time.Millisecond)

	st, err := a.Status(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0.5, st.Scheduler.Priority)
	assert.Equal(t, uint64(2), st.Scheduler.Completed)
	assert.Equal(t, []string{"checksum", "count"}, st.Tasks)
	kinds := map[string]string{}
	for _, r := range st.History {
		kinds[r.Task] = r.Kind
		assert.Positive(t, r.Iterations)
	}
	assert.Equal(t, map[string]string{"count": "count", "checksum": "checksum"}, kinds)

	require.NoError(t, a.RunNow(ctx, "count"))
	require.Eventually(t, func() bool {
		st, err := a.Status(ctx, 10)
		return err == nil && len(st.History) == 3
	}, 5*time.Second, 20*time.Millisecond)

	// Hot reload adds a paused task.
	writeConfig(t, cfgPath, fmt.Sprintf(testConfig, histPath)+"  - { name: held, kind: spin, paused: true }\n")
	require.Eventually(t, func() bool {
		st, err := a.Status(ctx, 0)
		return err == nil && len(st.Tasks) == 3 && st.Scheduler.Tasks == 1
	}, 5*time.Second, 50*time.Millisecond)

	ok, err := a.SetPaused(ctx, "held", true)
	require.NoError(t, err)
	assert.True(t, ok)

	rec := httptest.NewRecorder()
	a.serveStatus(rec, httptest.NewRequest(http.MethodGet, "/status?history=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got.History, 1)
	assert.Equal(t, []string{"checksum", "count", "held"}, got.Tasks)

	rec = httptest.NewRecorder()
	a.serveStatus(rec, httptest.NewRequest(http.MethodGet, "/status?history=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.NoError(t, a.Err())
}
