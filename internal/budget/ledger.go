// Package budget implements per-identity spend accounting with atomic
// reserve-then-commit admission control.
//
// Admission reserves the pre-call cost estimate; after the provider
// responds, the reservation is reconciled against the actual cost. An
// actual cost above the estimate may push an identity over its limit
// on commit; that overage is recorded and denies the next admission
// rather than being revoked retroactively.
package budget

import (
	"fmt"
	"sync"
	"time"
)

// ErrBudgetExceeded is returned by Reserve when admitting the estimate
// would push the identity past its limit.
var ErrBudgetExceeded = fmt.Errorf("budget exceeded")

// Ledger tracks cumulative spend per identity against configured
// limits. Safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	entries  map[string]*entry
	limits   map[string]float64 // per-identity overrides
	limit    float64            // default limit per reset period
	period   time.Duration      // reset period
	now      func() time.Time   // injectable clock for tests
	reserved uint64             // reservation id sequence
}

type entry struct {
	consumed float64
	reserved float64
	limit    float64
	resetAt  time.Time
}

// Reservation represents admitted-but-not-yet-reconciled spend. It
// must be settled with exactly one of Commit or Release.
type Reservation struct {
	id       uint64
	Identity string
	Estimate float64
}

// Snapshot reports an identity's current accounting for error bodies
// and metrics.
type Snapshot struct {
	Identity string    `json:"identity"`
	Consumed float64   `json:"consumed"`
	Reserved float64   `json:"reserved"`
	Limit    float64   `json:"limit"`
	ResetAt  time.Time `json:"reset_at"`
}

// Config holds ledger configuration.
type Config struct {
	DefaultLimit float64            `yaml:"default_limit"` // USD per period; 0 means unlimited
	Period       time.Duration      `yaml:"period"`        // reset period (default 24h)
	Limits       map[string]float64 `yaml:"limits"`        // per-identity overrides
}

// New creates a ledger. Identities reset independently: each identity's
// reset boundary is anchored at the time it is first seen and advances
// in whole periods from that anchor.
func New(cfg Config) *Ledger {
	if cfg.Period <= 0 {
		cfg.Period = 24 * time.Hour
	}
	limits := make(map[string]float64, len(cfg.Limits))
	for k, v := range cfg.Limits {
		limits[k] = v
	}
	return &Ledger{
		entries: make(map[string]*entry),
		limits:  limits,
		limit:   cfg.DefaultLimit,
		period:  cfg.Period,
		now:     time.Now,
	}
}

// Reserve atomically admits the estimated cost for an identity. Between
// resets, the sum of all granted reservations plus committed spend
// never exceeds the identity's limit; concurrent reservations cannot
// both slip through a check-then-act window.
func (l *Ledger) Reserve(identity string, estimate float64) (Reservation, error) {
	if estimate < 0 {
		estimate = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entryLocked(identity)
	if e.limit > 0 && e.consumed+e.reserved+estimate > e.limit {
		return Reservation{}, fmt.Errorf("%w: identity %q consumed %.6f of %.6f USD",
			ErrBudgetExceeded, identity, e.consumed, e.limit)
	}

	e.reserved += estimate
	l.reserved++
	return Reservation{id: l.reserved, Identity: identity, Estimate: estimate}, nil
}

// Commit reconciles a reservation with the actual cost. Consumption
// accrues monotonically within a reset period.
func (l *Ledger) Commit(res Reservation, actual float64) {
	if actual < 0 {
		actual = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entryLocked(res.Identity)
	e.reserved -= res.Estimate
	if e.reserved < 0 {
		// Reservation predates a reset boundary; nothing to unwind.
		e.reserved = 0
	}
	e.consumed += actual
}

// Release drops a reservation whose dispatch never produced a billable
// response (chain exhausted, caller gone before any attempt).
func (l *Ledger) Release(res Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entryLocked(res.Identity)
	e.reserved -= res.Estimate
	if e.reserved < 0 {
		e.reserved = 0
	}
}

// Snapshot returns the identity's current consumption and limit.
func (l *Ledger) Snapshot(identity string) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entryLocked(identity)
	return Snapshot{
		Identity: identity,
		Consumed: e.consumed,
		Reserved: e.reserved,
		Limit:    e.limit,
		ResetAt:  e.resetAt,
	}
}

// SetLimit updates an identity's limit at runtime (config hot reload).
// A zero limit means unlimited.
func (l *Ledger) SetLimit(identity string, limit float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limits[identity] = limit
	if e, ok := l.entries[identity]; ok {
		e.limit = limit
	}
}

// entryLocked fetches or creates the identity's entry and rolls its
// reset boundary forward. Must be called with the lock held.
func (l *Ledger) entryLocked(identity string) *entry {
	now := l.now()

	e, ok := l.entries[identity]
	if !ok {
		limit := l.limit
		if override, ok := l.limits[identity]; ok {
			limit = override
		}
		e = &entry{limit: limit, resetAt: now.Add(l.period)}
		l.entries[identity] = e
		return e
	}

	if !now.Before(e.resetAt) {
		// Advance by whole periods so the boundary stays anchored to
		// the identity's original schedule regardless of idle time.
		elapsed := now.Sub(e.resetAt)
		periods := elapsed/l.period + 1
		e.resetAt = e.resetAt.Add(periods * l.period)
		e.consumed = 0
	}
	return e
}
