package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threader/internal/app"
	"threader/internal/storage"
	"threader/internal/threader"
	"threader/internal/trigger"
)

type fakeSource struct {
	status  app.Status
	err     error
	paused  map[string]bool
	started []string
}

func (f *fakeSource) Status(context.Context, int) (app.Status, error) { return f.status, f.err }

func (f *fakeSource) SetPaused(_ context.Context, name string, paused bool) (bool, error) {
	if f.paused == nil {
		f.paused = map[string]bool{}
	}
	f.paused[name] = paused
	return name != "ghost", nil
}

func (f *fakeSource) RunNow(_ context.Context, name string) error {
	f.started = append(f.started, name)
	return nil
}

func sampleStatus() app.Status {
	return app.Status{
		Scheduler: threader.Snapshot{
			Priority: 0.4, FrameRate: 60, CycleInterval: 16666666 * time.Nanosecond,
			Armed: true, Tasks: 2, Cycles: 42,
			Items: []threader.TaskInfo{
				{Name: "checksum", Progress: 0.5, HasProgress: true, Slices: 3},
				{Name: "primes", Paused: true, Progress: 0.25, HasProgress: true},
			},
		},
		Tasks: []string{"checksum", "ghost", "primes"},
		Trigger: trigger.Snapshot{
			Running:   true,
			Fired:     1,
			Schedules: []trigger.ScheduleInfo{{Name: "primes", Spec: "@every 30s", Next: time.Now().Add(10 * time.Second)}},
		},
		History: []storage.RunRecord{{Task: "checksum", Kind: "checksum", Finished: time.Now(), Elapsed: time.Second}},
	}
}

// apply feeds msg to the model and returns the updated model.
func apply(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(Model)
	require.True(t, ok)
	return mm, cmd
}

func loaded(t *testing.T, src *fakeSource) Model {
	t.Helper()
	m := New(context.Background(), src)
	msg := m.fetch()()
	m, _ = apply(t, m, msg)
	return m
}

func TestViewRendersStatus(t *testing.T) {
	src := &fakeSource{status: sampleStatus()}
	m := New(context.Background(), src)
	assert.Contains(t, m.View(), "Connecting")

	m = loaded(t, src)
	v := m.View()
	for _, want := range []string{"checksum", "primes", "ghost", "waiting", "paused", "cycles 42", "@every 30s", "Recent runs"} {
		assert.Contains(t, v, want)
	}
}

func TestStatusErrorBeforeLoad(t *testing.T) {
	src := &fakeSource{err: errors.New("loop stopped")}
	m := loaded(t, src)
	assert.Contains(t, m.View(), "loop stopped")
}

func TestNavigationAndPauseToggle(t *testing.T) {
	src := &fakeSource{status: sampleStatus()}
	m := loaded(t, src)

	m, cmd := apply(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'p'}})
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, actionMsg{text: "checksum paused"}, msg)
	assert.True(t, src.paused["checksum"])

	m, _ = apply(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m, _ = apply(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m, _ = apply(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 2, m.selected, "cursor stops at the last row")

	_, cmd = apply(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'p'}})
	assert.Equal(t, actionMsg{text: "primes resumed"}, cmd())
	assert.False(t, src.paused["primes"])

	m, _ = apply(t, m, tea.KeyMsg{Type: tea.KeyUp})
	_, cmd = apply(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'p'}})
	assert.Equal(t, actionMsg{text: "ghost is not running"}, cmd())

	_, cmd = apply(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	assert.Equal(t, actionMsg{text: "ghost started"}, cmd())
	assert.Equal(t, []string{"ghost"}, src.started)
}

func TestActionNoteShown(t *testing.T) {
	src := &fakeSource{status: sampleStatus()}
	m := loaded(t, src)
	m, cmd := apply(t, m, actionMsg{text: "primes started"})
	assert.NotNil(t, cmd, "an action triggers a refresh")
	assert.Contains(t, m.View(), "primes started")

	m, _ = apply(t, m, actionMsg{err: errors.New("boom")})
	assert.Contains(t, m.View(), "error: boom")
}

func TestQuit(t *testing.T) {
	m := loaded(t, &fakeSource{status: sampleStatus()})
	_, cmd := apply(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestSelectionClampedOnShrink(t *testing.T) {
	src := &fakeSource{status: sampleStatus()}
	m := loaded(t, src)
	m.selected = 2

	st := sampleStatus()
	st.Tasks = []string{"checksum"}
	m, _ = apply(t, m, statusMsg{status: st})
	assert.Equal(t, 0, m.selected)
}
