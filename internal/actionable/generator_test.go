package actionable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"anime-identifier-go/internal/aggregator"
)

func insights(cards []ActionCard) []string {
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		out = append(out, c.Insight)
	}
	return out
}

func TestGenerateEmptyBatch(t *testing.T) {
	cards := Generate(aggregator.Summary{})

	require.Len(t, cards, 1)
	require.Equal(t, "No samples were processed", cards[0].Insight)
}

func TestGenerateHealthyBatch(t *testing.T) {
	cards := Generate(aggregator.Summary{
		Total: 4, Succeeded: 4, WithExpected: 4, Matched: 4, MatchRate: 1,
		FailuresByKind: map[string]int{},
	})

	require.Equal(t, []string{"No strong failure pattern detected"}, insights(cards))
}

func TestGenerateFailurePatterns(t *testing.T) {
	cards := Generate(aggregator.Summary{
		Total:          8,
		Succeeded:      2,
		Failed:         6,
		VideosDegraded: 2,
		WithExpected:   5,
		Matched:        1,
		MatchRate:      0.2,
		FailuresByKind: map[string]int{
			"configuration_error": 1,
			"quota_exceeded":      1,
			"rate_limit_exceeded": 1,
			"timeout":             1,
			"character_not_found": 2,
		},
	})

	require.Equal(t, []string{
		"1 runs failed on configuration",
		"Video search degraded for 2 of 2 successful runs",
		"1 runs were rejected by the local rate limiter",
		"1 runs hit the pipeline timeout",
		"Character database missed 25% of identifications",
		"Only 20% of labelled samples matched the expected character",
	}, insights(cards))
}

func TestGenerateIgnoresRareDegradation(t *testing.T) {
	cards := Generate(aggregator.Summary{
		Total: 10, Succeeded: 10, VideosDegraded: 1,
		FailuresByKind: map[string]int{},
	})

	require.Equal(t, []string{"No strong failure pattern detected"}, insights(cards))
}
