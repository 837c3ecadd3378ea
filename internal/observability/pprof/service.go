// Package pprof serves runtime profiles and the daemon status over HTTP.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"sync"
	"time"

	logx "threader/pkg/logx"
)

const (
	DefaultAddr = "127.0.0.1:6060"
	prefix      = "/debug/pprof/"
)

// ErrInsecureBind is returned when a non-loopback address is configured
// without a token.
var ErrInsecureBind = errors.New("pprof: non-loopback addr requires a token")

// Config controls the listener. A zero Addr means DefaultAddr.
type Config struct {
	Enabled              bool
	Addr                 string
	Token                string
	BlockProfileRate     int
	MutexProfileFraction int
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultAddr
}

// Validate checks the address form and the bind policy. A disabled config
// is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.addr()); err != nil {
		return fmt.Errorf("pprof.addr: invalid %q (expected host:port): %w", c.addr(), err)
	}
	if strings.TrimSpace(c.Token) == "" && !isLoopbackAddr(c.addr()) {
		return ErrInsecureBind
	}
	return nil
}

// Service owns at most one listener and swaps it on Apply.
type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	status http.Handler
	cfg    Config
	srv    *http.Server
	addr   string
	done   chan struct{}
}

// New returns a stopped service. status, when non-nil, is mounted at /status.
func New(log logx.Logger, status http.Handler) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log.With(logx.String("comp", "pprof")), status: status}
}

// Apply sets the profiling rates and starts, stops or restarts the listener
// to match cfg. It is safe to call on every config reload.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.cfg = cfg
		return s.stopLocked(ctx)
	}
	if s.srv != nil && s.cfg.addr() == cfg.addr() && s.cfg.Token == cfg.Token {
		s.cfg = cfg
		return nil
	}
	if err := s.stopLocked(ctx); err != nil {
		return err
	}
	s.cfg = cfg
	return s.startLocked()
}

func (s *Service) startLocked() error {
	ln, err := net.Listen("tcp", s.cfg.addr())
	if err != nil {
		return fmt.Errorf("pprof listen %s: %w", s.cfg.addr(), err)
	}
	srv := &http.Server{
		Handler:           s.handler(s.cfg.Token),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	done := make(chan struct{})
	s.srv, s.addr, s.done = srv, ln.Addr().String(), done

	log := s.log.With(logx.String("addr", s.addr))
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("pprof server error", logx.Err(err))
		}
	}()
	log.Info("pprof started", logx.Bool("token_set", s.cfg.Token != ""), logx.String("hint", "http://"+s.addr+prefix))
	return nil
}

// Stop shuts the listener down. It is a no-op when nothing is running.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

func (s *Service) stopLocked(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	srv, done, addr := s.srv, s.done, s.addr
	s.srv, s.done, s.addr = nil, nil, ""

	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("pprof stopped", logx.String("addr", addr))
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("pprof shutdown: %w", err)
	}
	return nil
}

// Addr reports the bound address, or "" when stopped.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Service) handler(token string) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }

	mux.HandleFunc("/healthz", wrap(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	if s.status != nil {
		mux.HandleFunc("/status", wrap(s.status.ServeHTTP))
	}
	mux.HandleFunc(prefix, wrap(hpprof.Index))
	mux.HandleFunc(prefix+"cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc(prefix+"profile", wrap(hpprof.Profile))
	mux.HandleFunc(prefix+"symbol", wrap(hpprof.Symbol))
	mux.HandleFunc(prefix+"trace", wrap(hpprof.Trace))
	return mux
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if ah := r.Header.Get("Authorization"); got == "" && strings.HasPrefix(ah, "Bearer ") {
			got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
