package shopify

import (
	"math"
	"sync"
	"time"
)

const (
	usageWindow   = time.Minute
	historyWindow = 5 * time.Minute
	minPause      = 50 * time.Millisecond
)

// Pacer spaces out requests based on how much of the request quota the trailing
// minute has used. Plus-tier stores get a larger quota and a faster pace.
type Pacer struct {
	mu    sync.Mutex
	plus  bool
	calls []time.Time
	pace  time.Duration
	now   func() time.Time
}

// NewPacer creates a pacer. now may be nil to use the wall clock.
func NewPacer(plus bool, now func() time.Time) *Pacer {
	if now == nil {
		now = time.Now
	}
	p := &Pacer{plus: plus, now: now}
	p.pace = p.paceFor(0)
	return p
}

func (p *Pacer) quota() int {
	if p.plus {
		return 240
	}
	return 120
}

func (p *Pacer) paceFor(usage float64) time.Duration {
	switch {
	case usage > 0.85:
		if p.plus {
			return 1500 * time.Millisecond
		}
		return 3000 * time.Millisecond
	case usage > 0.65:
		if p.plus {
			return 1100 * time.Millisecond
		}
		return 2400 * time.Millisecond
	}
	if p.plus {
		return 750 * time.Millisecond
	}
	return 1500 * time.Millisecond
}

// recentLocked counts calls in the trailing usage window.
func (p *Pacer) recentLocked(now time.Time) int {
	cutoff := now.Add(-usageWindow)
	n := 0
	for _, c := range p.calls {
		if !c.Before(cutoff) {
			n++
		}
	}
	return n
}

// Register records one completed request and recomputes the pace.
func (p *Pacer) Register() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.calls = append(p.calls, now)

	cutoff := now.Add(-historyWindow)
	kept := p.calls[:0]
	for _, c := range p.calls {
		if c.After(cutoff) {
			kept = append(kept, c)
		}
	}
	p.calls = kept

	p.pace = p.paceFor(float64(p.recentLocked(now)) / float64(p.quota()))
}

// Usage returns the trailing-minute quota use in percent, rounded up.
func (p *Pacer) Usage() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(math.Ceil(100 * float64(p.recentLocked(p.now())) / float64(p.quota())))
}

// Pace returns the current target interval between requests.
func (p *Pacer) Pace() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pace
}

// Delay returns how long to wait after a request that took elapsed.
func (p *Pacer) Delay(elapsed time.Duration) time.Duration {
	d := p.Pace() - elapsed
	if d < minPause {
		d = minPause
	}
	return d
}
