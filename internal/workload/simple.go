package workload

import (
	"hash"
	"hash/fnv"
)

// Count increments a counter once per Step until it reaches N.
type Count struct {
	n, v int
}

func NewCount(n int) *Count { return &Count{n: n} }

func (c *Count) Step() bool {
	if c.v < c.n {
		c.v++
	}
	return c.v >= c.n
}

func (c *Count) Value() int        { return c.v }
func (c *Count) Progress() float64 { return ratio(c.v, c.n) }

// Checksum feeds N generated bytes through FNV-1a, chunk bytes per Step.
type Checksum struct {
	n, off int
	h      hash.Hash64
	buf    [chunk]byte
}

func NewChecksum(n int) *Checksum { return &Checksum{n: n, h: fnv.New64a()} }

func (c *Checksum) Step() bool {
	if c.off >= c.n {
		return true
	}
	m := min(chunk, c.n-c.off)
	for k := 0; k < m; k++ {
		c.buf[k] = GenByte(c.off + k)
	}
	_, _ = c.h.Write(c.buf[:m])
	c.off += m
	return c.off >= c.n
}

// Sum returns the hash of the bytes consumed so far.
func (c *Checksum) Sum() uint64       { return c.h.Sum64() }
func (c *Checksum) Progress() float64 { return ratio(c.off, c.n) }

// GenByte is the deterministic byte stream Checksum consumes.
func GenByte(i int) byte { return byte(i*31 + i>>8) }

// Spin never finishes. It keeps a task busy for its whole budget until it
// is stopped.
type Spin struct {
	steps uint64
}

func (s *Spin) Step() bool {
	s.steps++
	return false
}

func (s *Spin) Steps() uint64     { return s.steps }
func (s *Spin) Progress() float64 { return 0 }
