package budget

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveCommit_Basic(t *testing.T) {
	l := New(Config{DefaultLimit: 10})

	res, err := l.Reserve("team-a", 3)
	require.NoError(t, err)

	l.Commit(res, 2.5)

	snap := l.Snapshot("team-a")
	assert.InDelta(t, 2.5, snap.Consumed, 1e-9)
	assert.Zero(t, snap.Reserved)
}

func TestReserve_DeniedAtLimit(t *testing.T) {
	l := New(Config{DefaultLimit: 5})

	res, err := l.Reserve("team-a", 5)
	require.NoError(t, err)
	l.Commit(res, 5)

	_, err = l.Reserve("team-a", 0.01)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBudgetExceeded))
}

func TestReserve_PendingReservationsCount(t *testing.T) {
	l := New(Config{DefaultLimit: 10})

	_, err := l.Reserve("team-a", 6)
	require.NoError(t, err)

	// 6 reserved + 6 requested > 10: denied even though nothing is
	// committed yet.
	_, err = l.Reserve("team-a", 6)
	assert.True(t, errors.Is(err, ErrBudgetExceeded))
}

func TestReserve_ZeroLimitIsUnlimited(t *testing.T) {
	l := New(Config{DefaultLimit: 0})

	for i := 0; i < 100; i++ {
		res, err := l.Reserve("free", 1000)
		require.NoError(t, err)
		l.Commit(res, 1000)
	}
}

func TestCommit_OverageDeniesNextAdmit(t *testing.T) {
	l := New(Config{DefaultLimit: 10})

	res, err := l.Reserve("team-a", 8)
	require.NoError(t, err)

	// Actual exceeded the estimate; the commit is not revoked.
	l.Commit(res, 12)

	snap := l.Snapshot("team-a")
	assert.InDelta(t, 12, snap.Consumed, 1e-9)

	_, err = l.Reserve("team-a", 0.01)
	assert.True(t, errors.Is(err, ErrBudgetExceeded))
}

func TestRelease(t *testing.T) {
	l := New(Config{DefaultLimit: 10})

	res, err := l.Reserve("team-a", 10)
	require.NoError(t, err)
	l.Release(res)

	// Full headroom restored.
	_, err = l.Reserve("team-a", 10)
	assert.NoError(t, err)
}

func TestPerIdentityOverride(t *testing.T) {
	l := New(Config{
		DefaultLimit: 1,
		Limits:       map[string]float64{"vip": 100},
	})

	_, err := l.Reserve("vip", 50)
	assert.NoError(t, err)

	_, err = l.Reserve("regular", 50)
	assert.True(t, errors.Is(err, ErrBudgetExceeded))
}

func TestSetLimit_HotReload(t *testing.T) {
	l := New(Config{DefaultLimit: 1})

	_, err := l.Reserve("team-a", 5)
	require.Error(t, err)

	l.SetLimit("team-a", 10)

	_, err = l.Reserve("team-a", 5)
	assert.NoError(t, err)
}

func TestResetBoundary(t *testing.T) {
	l := New(Config{DefaultLimit: 10, Period: time.Hour})

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	res, err := l.Reserve("team-a", 10)
	require.NoError(t, err)
	l.Commit(res, 10)

	_, err = l.Reserve("team-a", 1)
	require.Error(t, err)

	// Crossing the boundary zeroes consumption.
	clock = clock.Add(61 * time.Minute)
	_, err = l.Reserve("team-a", 1)
	assert.NoError(t, err)

	snap := l.Snapshot("team-a")
	assert.Zero(t, snap.Consumed)
}

func TestResetBoundary_AnchoredToFirstSight(t *testing.T) {
	l := New(Config{DefaultLimit: 10, Period: time.Hour})

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	_, err := l.Reserve("team-a", 1)
	require.NoError(t, err)
	firstReset := l.Snapshot("team-a").ResetAt

	// After several idle periods the boundary stays on the original
	// hourly grid rather than drifting to now+period.
	clock = clock.Add(3*time.Hour + 17*time.Minute)
	_, err = l.Reserve("team-a", 1)
	require.NoError(t, err)

	next := l.Snapshot("team-a").ResetAt
	assert.Zero(t, next.Sub(firstReset)%time.Hour)
	assert.True(t, next.After(clock))
}

func TestReserve_ConcurrentNeverOversubscribes(t *testing.T) {
	l := New(Config{DefaultLimit: 100})

	var granted atomic.Int64
	var wg sync.WaitGroup

	// 50 goroutines each want 10 units; only 10 grants fit.
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := l.Reserve("team-a", 10); err == nil {
				granted.Add(1)
				l.Commit(res, 10)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), granted.Load())
	assert.InDelta(t, 100, l.Snapshot("team-a").Consumed, 1e-9)
}
