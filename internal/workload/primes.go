package workload

// Primes counts the primes up to N with a sieve of Eratosthenes that marks
// at most chunk cells per Step.
type Primes struct {
	n         int
	composite []bool

	i     int // next candidate
	j     int // next multiple of i to mark; 0 when not marking
	found int
	done  bool
}

func NewPrimes(n int) *Primes { return &Primes{n: n, i: 2} }

func (p *Primes) Step() bool {
	if p.done {
		return true
	}
	if p.composite == nil {
		p.composite = make([]bool, p.n+1)
	}
	for budget := chunk; budget > 0; budget-- {
		if p.i > p.n {
			p.done = true
			return true
		}
		if p.j == 0 {
			if p.composite[p.i] {
				p.i++
				continue
			}
			p.found++
			if p.i > p.n/p.i {
				p.i++
				continue
			}
			p.j = p.i * p.i
		}
		p.composite[p.j] = true
		p.j += p.i
		if p.j > p.n {
			p.j = 0
			p.i++
		}
	}
	return false
}

// Count returns the primes found so far.
func (p *Primes) Count() int { return p.found }

func (p *Primes) Progress() float64 {
	if p.done {
		return 1
	}
	return ratio(p.i-2, p.n-1)
}
