package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"anime-identifier-go/internal/apperr"
)

// fakeClock advances only when a caller waits on it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSameKeySpacedFromPreviousStart(t *testing.T) {
	for _, rps := range []float64{1, 2, 5, 10} {
		clock := newFakeClock()
		l := New(Settings{RequestsPerSecond: rps, MaxWait: time.Minute}, WithClock(clock))
		interval := time.Duration(float64(time.Second) / rps)

		var starts []time.Time
		for i := 0; i < 4; i++ {
			_, err := Execute(context.Background(), l, "acdb", func(context.Context) (struct{}, error) {
				starts = append(starts, clock.Now())
				clock.Advance(interval / 3) // the call itself takes time
				return struct{}{}, nil
			})
			require.NoError(t, err)
		}
		for i := 1; i < len(starts); i++ {
			require.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), interval, "rps=%v call %d", rps, i)
		}
	}
}

func TestFirstCallDoesNotWait(t *testing.T) {
	clock := newFakeClock()
	l := New(Settings{RequestsPerSecond: 1}, WithClock(clock))
	before := clock.Now()
	require.NoError(t, l.Wait(context.Background(), "youtube"))
	require.Equal(t, before, clock.Now())
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	clock := newFakeClock()
	l := New(Settings{RequestsPerSecond: 1, MaxWait: time.Minute}, WithClock(clock))
	before := clock.Now()

	require.NoError(t, l.Wait(context.Background(), "acdb"))
	require.NoError(t, l.Wait(context.Background(), "youtube"))
	require.NoError(t, l.Wait(context.Background(), "sam2"))
	require.Equal(t, before, clock.Now())

	require.NoError(t, l.Wait(context.Background(), "acdb"))
	require.Equal(t, time.Second, clock.Now().Sub(before))
}

func TestMaxWaitExceeded(t *testing.T) {
	clock := newFakeClock()
	l := New(Settings{RequestsPerSecond: 0.5, MaxWait: time.Second}, WithClock(clock))

	require.NoError(t, l.Wait(context.Background(), "acdb"))
	err := l.Wait(context.Background(), "acdb")
	require.ErrorIs(t, err, apperr.ErrRateLimitExceeded)

	// A rejected caller does not consume a slot.
	clock.Advance(2 * time.Second)
	require.NoError(t, l.Wait(context.Background(), "acdb"))
}

func TestPerKeySettings(t *testing.T) {
	clock := newFakeClock()
	l := New(Settings{RequestsPerSecond: 0}, WithClock(clock), WithKey("acdb", Settings{RequestsPerSecond: 2, MaxWait: time.Second}))

	before := clock.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background(), "unlimited"))
	}
	require.Equal(t, before, clock.Now())

	require.NoError(t, l.Wait(context.Background(), "acdb"))
	require.NoError(t, l.Wait(context.Background(), "acdb"))
	require.Equal(t, 500*time.Millisecond, clock.Now().Sub(before))
	require.Equal(t, 2.0, l.SettingsFor("acdb").RequestsPerSecond)
}

func TestCanceledContext(t *testing.T) {
	l := New(Settings{RequestsPerSecond: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := Execute(ctx, l, "acdb", func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	require.ErrorIs(t, err, apperr.ErrCanceled)
	require.False(t, called)
}

func TestConcurrentCallersAreSerialized(t *testing.T) {
	const rps = 20
	interval := time.Second / rps
	l := New(Settings{RequestsPerSecond: rps, MaxWait: 5 * time.Second})

	var (
		mu     sync.Mutex
		starts []time.Time
		wg     sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(context.Background(), "youtube"); err != nil {
				t.Errorf("wait: %v", err)
				return
			}
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, starts, 4)

	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	total := starts[len(starts)-1].Sub(starts[0])
	require.GreaterOrEqual(t, total, 3*interval-5*time.Millisecond)
}
