package app

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"threader/internal/config"
	"threader/internal/threader"
	"threader/internal/trigger"
	"threader/internal/workload"
	logx "threader/pkg/logx"
)

// runner turns configured tasks into scheduler tasks. Every method except
// kindOf must be called on the host loop.
type runner struct {
	log   logx.Logger
	sched *threader.Scheduler
	trig  *trigger.Service

	specs  map[string]config.TaskConfig
	active map[string]*threader.Task

	kindMu sync.RWMutex
	kinds  map[string]string
}

func newRunner(sched *threader.Scheduler, trig *trigger.Service, log logx.Logger) *runner {
	return &runner{
		log:    log,
		sched:  sched,
		trig:   trig,
		specs:  map[string]config.TaskConfig{},
		active: map[string]*threader.Task{},
		kinds:  map[string]string{},
	}
}

// apply reconciles the running set with tasks. Added tasks are started (or
// scheduled), removed ones stopped, changed ones restarted.
func (r *runner) apply(tasks []config.TaskConfig, ch config.TaskChanges) {
	next := make(map[string]config.TaskConfig, len(tasks))
	for _, tc := range tasks {
		next[strings.TrimSpace(tc.Name)] = tc
	}

	for _, name := range ch.Removed {
		r.stop(name)
		r.trig.Remove(name)
		delete(r.specs, name)
	}
	for _, name := range ch.Changed {
		r.stop(name)
		r.trig.Remove(name)
		r.specs[name] = next[name]
	}
	for _, name := range ch.Added {
		r.specs[name] = next[name]
	}

	r.kindMu.Lock()
	r.kinds = make(map[string]string, len(r.specs))
	for name, tc := range r.specs {
		r.kinds[name] = strings.ToLower(strings.TrimSpace(tc.Kind))
	}
	r.kindMu.Unlock()

	for _, name := range ch.Changed {
		r.install(name)
	}
	for _, name := range ch.Added {
		r.install(name)
	}
}

// install either registers the task's trigger or starts it once.
func (r *runner) install(name string) {
	tc := r.specs[name]
	if strings.TrimSpace(tc.Schedule) == "" {
		if err := r.start(name); err != nil {
			r.log.Error("task start failed", logx.String("task", name), logx.Err(err))
		}
		return
	}
	err := r.trig.Add(trigger.Def{
		Name:     name,
		Schedule: tc.Schedule,
		Start:    func() error { return r.start(name) },
	})
	if err != nil {
		r.log.Error("task schedule failed", logx.String("task", name), logx.String("schedule", tc.Schedule), logx.Err(err))
	}
}

// start runs a fresh instance of the named task. It returns
// trigger.ErrSkipped while the previous instance is still registered.
func (r *runner) start(name string) error {
	tc, ok := r.specs[name]
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	if t := r.active[name]; t != nil && r.sched.Has(t) {
		return trigger.ErrSkipped
	}
	w, err := workload.New(tc.Kind, tc.Size)
	if err != nil {
		return err
	}
	sleep := tc.SleepDuration()

	var t *threader.Task
	t = threader.NewTask(r.sched,
		threader.WithName(name),
		threader.WithStep(w),
		threader.WithOnComplete(func() {
			if r.active[name] == t {
				delete(r.active, name)
			}
		}),
	)
	r.active[name] = t
	t.Run()
	if tc.Paused {
		t.Pause()
	}
	if sleep > 0 {
		t.Sleep(sleep)
	}
	r.log.Debug("task started",
		logx.String("task", name),
		logx.String("id", t.ID()),
		logx.String("kind", tc.Kind),
		logx.Bool("paused", tc.Paused),
		logx.Duration("sleep", sleep),
	)
	return nil
}

func (r *runner) stop(name string) bool {
	t := r.active[name]
	if t == nil {
		return false
	}
	delete(r.active, name)
	t.Stop()
	return true
}

// setPaused pauses or resumes the running instance of name.
func (r *runner) setPaused(name string, paused bool) bool {
	t := r.active[name]
	if t == nil {
		return false
	}
	if paused {
		t.Pause()
	} else {
		t.Unpause()
	}
	return true
}

// names returns the configured task names, sorted.
func (r *runner) names() []string {
	out := make([]string, 0, len(r.specs))
	for name := range r.specs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// kindOf is safe to call from any goroutine.
func (r *runner) kindOf(name string) string {
	r.kindMu.RLock()
	defer r.kindMu.RUnlock()
	return r.kinds[name]
}

func allTasks(tasks []config.TaskConfig) config.TaskChanges {
	var ch config.TaskChanges
	for _, tc := range tasks {
		ch.Added = append(ch.Added, strings.TrimSpace(tc.Name))
	}
	return ch
}
