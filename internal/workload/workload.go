// Package workload provides the self-resuming step functions the daemon
// runs as scheduler tasks. Each Step does a small bounded amount of work
// and keeps its own cursor, so a task can be sliced across any number of
// cycles.
package workload

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"threader/internal/threader"
)

var ErrUnknownKind = errors.New("unknown workload kind")

// Work is a step function that reports its own progress.
type Work interface {
	threader.Stepper
	threader.Progresser
}

// chunk bounds the work done by a single Step.
const chunk = 256

const (
	KindPrimes   = "primes"
	KindCount    = "count"
	KindChecksum = "checksum"
	KindSpin     = "spin"
)

var defaults = map[string]int{
	KindPrimes:   100_000,
	KindCount:    1_000_000,
	KindChecksum: 1 << 20,
	KindSpin:     0,
}

// Kinds lists the registered workload kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(defaults))
	for k := range defaults {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Known reports whether kind names a workload.
func Known(kind string) bool {
	_, ok := defaults[normalize(kind)]
	return ok
}

// New builds a fresh workload. size <= 0 selects the kind's default size.
func New(kind string, size int) (Work, error) {
	k := normalize(kind)
	def, ok := defaults[k]
	if !ok {
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownKind, kind, strings.Join(Kinds(), ", "))
	}
	if size <= 0 {
		size = def
	}
	switch k {
	case KindPrimes:
		return NewPrimes(size), nil
	case KindCount:
		return NewCount(size), nil
	case KindChecksum:
		return NewChecksum(size), nil
	default:
		return &Spin{}, nil
	}
}

func normalize(kind string) string { return strings.ToLower(strings.TrimSpace(kind)) }

func ratio(done, total int) float64 {
	if total <= 0 || done >= total {
		return 1
	}
	if done <= 0 {
		return 0
	}
	return float64(done) / float64(total)
}
