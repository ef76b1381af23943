package httpclient

import (
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type StrategyKind string

const (
	StrategyNone        StrategyKind = "none"
	StrategyFixed       StrategyKind = "fixed"
	StrategyExponential StrategyKind = "exponential"
)

// Strategy decides how many attempts a call gets and how long to wait between them.
type Strategy struct {
	Kind     StrategyKind
	Attempts int
	Delay    time.Duration
}

func None() Strategy { return Strategy{Kind: StrategyNone, Attempts: 1} }

func Fixed(attempts int, delay time.Duration) Strategy {
	return Strategy{Kind: StrategyFixed, Attempts: attempts, Delay: delay}
}

// Exponential waits initialDelay * 2^(n-1) after attempt n.
func Exponential(maxAttempts int, initialDelay time.Duration) Strategy {
	return Strategy{Kind: StrategyExponential, Attempts: maxAttempts, Delay: initialDelay}
}

// ParseStrategy builds a strategy from config values.
func ParseStrategy(kind string, attempts int, delay time.Duration) (Strategy, error) {
	switch StrategyKind(strings.ToLower(strings.TrimSpace(kind))) {
	case "", StrategyExponential:
		return Exponential(attempts, delay), nil
	case StrategyFixed:
		return Fixed(attempts, delay), nil
	case StrategyNone:
		return None(), nil
	default:
		return Strategy{}, fmt.Errorf("unknown retry strategy %q", kind)
	}
}

func (s Strategy) MaxAttempts() int {
	if s.Kind == StrategyNone || s.Attempts < 1 {
		return 1
	}
	return s.Attempts
}

func (s Strategy) String() string {
	switch s.Kind {
	case StrategyFixed:
		return fmt.Sprintf("fixed(attempts=%d, delay=%s)", s.MaxAttempts(), s.Delay)
	case StrategyExponential:
		return fmt.Sprintf("exponential(max_attempts=%d, initial_delay=%s)", s.MaxAttempts(), s.Delay)
	default:
		return "none"
	}
}

// backOff translates the strategy into a backoff policy. The caller binds it to a context.
func (s Strategy) backOff() backoff.BackOff {
	retries := uint64(s.MaxAttempts() - 1)
	switch s.Kind {
	case StrategyFixed:
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(s.Delay), retries)
	case StrategyExponential:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = s.Delay
		b.Multiplier = 2
		b.RandomizationFactor = 0
		b.MaxInterval = time.Duration(1<<62 - 1)
		b.MaxElapsedTime = 0
		b.Reset()
		return backoff.WithMaxRetries(b, retries)
	default:
		return &backoff.StopBackOff{}
	}
}
