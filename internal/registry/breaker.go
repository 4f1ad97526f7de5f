package registry

import (
	"sync"
	"time"
)

// breaker implements the per-candidate health ladder:
//
//	healthy --N consecutive failures--> circuit-open
//	circuit-open --cooldown elapsed--> one probe admitted
//	probe success --> degraded; next success --> healthy
//	probe failure --> circuit-open again (cooldown restarts)
//
// "Consecutive" is bounded by a window: failures older than the window
// do not count toward the threshold.
type breaker struct {
	mu sync.Mutex

	st              HealthState
	consecutive     int
	lastFailureTime time.Time
	openedAt        time.Time
	probeInFlight   bool
	probeStartedAt  time.Time

	cfg Config
	now func() time.Time
}

func newBreaker(cfg Config, now func() time.Time) *breaker {
	return &breaker{st: Healthy, cfg: cfg, now: now}
}

// allow reports whether the candidate may receive a request. In the
// open state it admits exactly one probe once the cooldown elapses.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st != CircuitOpen {
		return true
	}

	now := b.now()
	if now.Sub(b.openedAt) < b.cfg.Cooldown {
		return false
	}
	// An admitted probe that was never dispatched (a cheaper candidate
	// served the request first) must not block the slot forever; after
	// another cooldown the slot is handed out again.
	if b.probeInFlight && now.Sub(b.probeStartedAt) < b.cfg.Cooldown {
		return false
	}
	b.probeInFlight = true
	b.probeStartedAt = now
	return true
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	b.probeInFlight = false

	switch b.st {
	case CircuitOpen:
		b.st = Degraded
	case Degraded:
		b.st = Healthy
	}
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.st == CircuitOpen {
		// Probe failed; restart the cooldown.
		b.openedAt = now
		b.probeInFlight = false
		b.lastFailureTime = now
		return
	}

	if !b.lastFailureTime.IsZero() && now.Sub(b.lastFailureTime) > b.cfg.FailureWindow {
		b.consecutive = 0
	}
	b.lastFailureTime = now
	b.consecutive++

	if b.consecutive >= b.cfg.FailureThreshold {
		b.st = CircuitOpen
		b.openedAt = now
		b.probeInFlight = false
	}
}

func (b *breaker) state() HealthState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}
