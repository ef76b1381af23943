// Package ratelimit spaces calls to downstream providers.
//
// Calls sharing a key start at least 1/RequestsPerSecond apart, measured from
// the recorded start of the previous call under that key. Admission is
// serialized per key; different keys never wait on each other. A caller whose
// wait would exceed MaxWait fails fast with apperr.ErrRateLimitExceeded.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"anime-identifier-go/internal/apperr"
)

const defaultMaxWait = 10 * time.Second

// Settings configures one key.
type Settings struct {
	RequestsPerSecond float64
	MaxWait           time.Duration
}

func (s Settings) interval() time.Duration {
	if s.RequestsPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / s.RequestsPerSecond)
}

func (s Settings) maxWait() time.Duration {
	if s.MaxWait <= 0 {
		return defaultMaxWait
	}
	return s.MaxWait
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type keyState struct {
	turn      chan struct{}
	lastStart time.Time
	started   bool
}

// Limiter holds per-key admission state. The zero value is not usable; use New.
type Limiter struct {
	mu       sync.Mutex
	defaults Settings
	settings map[string]Settings
	keys     map[string]*keyState
	clock    Clock
}

type Option func(*Limiter)

func WithClock(c Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithKey sets the settings for one key.
func WithKey(key string, s Settings) Option {
	return func(l *Limiter) {
		l.settings[key] = s
	}
}

func New(defaults Settings, opts ...Option) *Limiter {
	l := &Limiter{
		defaults: defaults,
		settings: map[string]Settings{},
		keys:     map[string]*keyState{},
		clock:    realClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Configure replaces the settings for key. It only affects later admissions.
func (l *Limiter) Configure(key string, s Settings) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settings[key] = s
}

// SettingsFor returns the effective settings for key.
func (l *Limiter) SettingsFor(key string) Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settingsLocked(key)
}

func (l *Limiter) settingsLocked(key string) Settings {
	if s, ok := l.settings[key]; ok {
		return s
	}
	return l.defaults
}

func (l *Limiter) state(key string) (*keyState, Settings) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.keys[key]
	if !ok {
		st = &keyState{turn: make(chan struct{}, 1)}
		l.keys[key] = st
	}
	return st, l.settingsLocked(key)
}

// Wait blocks until a call under key may start, then records that start.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	st, s := l.state(key)
	interval := s.interval()
	if interval == 0 {
		return nil
	}
	maxWait := s.maxWait()
	begin := l.clock.Now()
	deadline := begin.Add(maxWait)

	if err := ctx.Err(); err != nil {
		return apperr.FromContext("ratelimit "+key, err)
	}
	select {
	case st.turn <- struct{}{}:
	default:
		select {
		case st.turn <- struct{}{}:
		case <-ctx.Done():
			return apperr.FromContext("ratelimit "+key, ctx.Err())
		case <-l.clock.After(maxWait):
			return l.exceeded(key, maxWait, maxWait)
		}
	}
	release := func() { <-st.turn }

	now := l.clock.Now()
	next := now
	if st.started {
		if candidate := st.lastStart.Add(interval); candidate.After(now) {
			next = candidate
		}
	}
	if next.After(deadline) {
		release()
		return l.exceeded(key, next.Sub(begin), maxWait)
	}
	if wait := next.Sub(now); wait > 0 {
		select {
		case <-ctx.Done():
			release()
			return apperr.FromContext("ratelimit "+key, ctx.Err())
		case <-l.clock.After(wait):
		}
	}
	st.lastStart = l.clock.Now()
	st.started = true
	release()
	return nil
}

func (l *Limiter) exceeded(key string, needed, maxWait time.Duration) error {
	return apperr.New(apperr.KindRateLimitExceeded, "ratelimit "+key,
		fmt.Errorf("required wait %s exceeds max %s", needed, maxWait))
}

// Execute admits op under key and runs it. The limiter never retries op.
func Execute[T any](ctx context.Context, l *Limiter, key string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if l != nil {
		if err := l.Wait(ctx, key); err != nil {
			return zero, err
		}
	}
	return op(ctx)
}
