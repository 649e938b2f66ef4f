package archive

import (
	"sync"
	"time"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
)

// breaker opens after threshold consecutive failures and rejects calls until
// cooldown has elapsed. The first call after the cooldown is let through as a
// probe: success closes the circuit, failure re-opens it for another cooldown.
type breaker struct {
	mu        sync.Mutex
	state     circuitState
	failures  int
	openedAt  time.Time
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{
		state:     circuitClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed.
func (b *breaker) Allow() bool {
	if b == nil || b.threshold <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == circuitClosed {
		return true
	}
	if b.now().Sub(b.openedAt) >= b.cooldown {
		// half-open: admit one probe, push the window forward for the rest
		b.openedAt = b.now()
		return true
	}
	return false
}

// RecordFailure counts a failure and reports whether the circuit is open.
func (b *breaker) RecordFailure() bool {
	if b == nil || b.threshold <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == circuitOpen || b.failures >= b.threshold {
		b.state = circuitOpen
		b.openedAt = b.now()
		return true
	}
	return false
}

// RecordSuccess closes the circuit.
func (b *breaker) RecordSuccess() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.state = circuitClosed
	b.failures = 0
	b.mu.Unlock()
}

// IsOpen reports the current state.
func (b *breaker) IsOpen() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == circuitOpen
}
