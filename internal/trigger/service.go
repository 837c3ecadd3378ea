package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	logx "threader/pkg/logx"
)

// ErrSkipped is returned by a start callback that declined to start, e.g.
// because the previous run of the same task is still registered.
var ErrSkipped = errors.New("previous run still active")

const startWarnEvery = 5 * time.Second

// Poster runs fn on the host thread. host.Loop implements it.
type Poster interface {
	Post(fn func())
}

// PosterFunc adapts a function to a Poster.
type PosterFunc func(fn func())

func (f PosterFunc) Post(fn func()) { f(fn) }

type Config struct {
	Timezone string // IANA name; empty means time.Local
}

// Def declares one scheduled start. Start runs on the host thread.
type Def struct {
	Name     string
	Schedule string
	Start    func() error
}

type entry struct {
	def     Def
	spec    string
	spread  time.Duration
	entryID cron.EntryID
}

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	loc    *time.Location
	poster Poster
	parser cron.Parser
	c      *cron.Cron
	defs   []*entry

	warnMu sync.Mutex
	warn   map[string]*rate.Limiter

	fired   atomic.Uint64
	started atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

func New(cfg Config, poster Poster, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "trigger")),
		poster: poster,
		// SecondOptional accepts both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		warn:   map[string]*rate.Limiter{},
	}
}

// Validate reports whether schedule would be accepted by Add.
func (s *Service) Validate(schedule string) error {
	sch, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if sch.Kind == KindCron {
		if _, err := s.parser.Parse(sch.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", sch.Cron, err)
		}
	}
	return nil
}

// Apply updates the configuration. A timezone change re-registers every
// schedule in the new location.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
}

// Start begins firing. Definitions added before Start are registered now.
func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("trigger service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, e := range s.defs {
		if err := s.registerLocked(e); err != nil {
			s.log.Error("schedule register failed", logx.String("name", e.def.Name), logx.String("spec", e.spec), logx.Err(err))
		}
	}
	s.c.Start()
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	s.startLocked()
	s.log.Info("trigger service restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops firing and waits for running cron jobs, bounded by ctx.
// Definitions are kept for a later Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, e := range s.defs {
		e.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("trigger service stopped")
}

// Add registers d, replacing any definition with the same name.
func (s *Service) Add(d Def) error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return errors.New("name required")
	}
	if d.Start == nil {
		return errors.New("start callback required")
	}
	sch, err := ParseSchedule(d.Schedule)
	if err != nil {
		return err
	}
	d.Name = name

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	e := &entry{def: d, spec: sch.Spec()}
	if s.c != nil {
		if err := s.registerLocked(e); err != nil {
			return err
		}
	} else if sch.Kind == KindCron {
		if _, err := s.parser.Parse(sch.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", sch.Cron, err)
		}
	}
	s.defs = append(s.defs, e)
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", e.spec), logx.Duration("spread", e.spread))
	return nil
}

// Remove unregisters the named schedule and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Names returns the registered schedule names, sorted.
func (s *Service) Names() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.defs))
	for _, e := range s.defs {
		out = append(out, e.def.Name)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

func (s *Service) removeLocked(name string) bool {
	for i, e := range s.defs {
		if e.def.Name != name {
			continue
		}
		if s.c != nil && e.entryID != 0 {
			s.c.Remove(e.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

func (s *Service) registerLocked(e *entry) error {
	job := cron.FuncJob(func() { s.fire(e.def) })

	if every, ok := strings.CutPrefix(e.spec, "@every "); ok {
		if d, err := time.ParseDuration(every); err == nil && d > 0 {
			sched, spread := withStartupSpread(d, time.Now().In(s.loc), e.def.Name)
			e.spread = spread
			e.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}
	e.spread = 0
	id, err := s.c.AddJob(e.spec, job)
	if err != nil {
		return fmt.Errorf("invalid cron %q: %w", e.spec, err)
	}
	e.entryID = id
	return nil
}

// fire runs on a cron goroutine.
func (s *Service) fire(d Def) {
	s.fired.Add(1)
	if s.poster == nil {
		return
	}
	s.poster.Post(func() {
		if err := d.Start(); err != nil {
			s.reportStartError(d.Name, err)
			return
		}
		s.started.Add(1)
	})
}

func (s *Service) reportStartError(name string, err error) {
	if errors.Is(err, ErrSkipped) {
		s.skipped.Add(1)
	} else {
		s.failed.Add(1)
	}

	s.warnMu.Lock()
	lim := s.warn[name]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(startWarnEvery), 1)
		s.warn[name] = lim
	}
	s.warnMu.Unlock()
	if !lim.Allow() {
		return
	}

	if errors.Is(err, ErrSkipped) {
		s.log.Warn("scheduled start skipped", logx.String("schedule", name), logx.Err(err))
		return
	}
	s.log.Error("scheduled start failed", logx.String("schedule", name), logx.Err(err))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

type ScheduleInfo struct {
	Name   string
	Spec   string
	Spread time.Duration
	Next   time.Time
	Prev   time.Time
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Fired     uint64
	Started   uint64
	Skipped   uint64
	Failed    uint64
	Schedules []ScheduleInfo
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Running:  s.c != nil,
		Timezone: strings.TrimSpace(s.cfg.Timezone),
		Fired:    s.fired.Load(),
		Started:  s.started.Load(),
		Skipped:  s.skipped.Load(),
		Failed:   s.failed.Load(),
	}
	if snap.Timezone == "" && s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	for _, e := range s.defs {
		it := ScheduleInfo{Name: e.def.Name, Spec: e.spec, Spread: e.spread}
		if s.c != nil && e.entryID != 0 {
			ce := s.c.Entry(e.entryID)
			it.Next, it.Prev = ce.Next, ce.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })
	return snap
}
