package actionable

import (
	"fmt"

	"anime-identifier-go/internal/aggregator"
	"anime-identifier-go/internal/apperr"
)

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

const (
	notFoundThreshold = 0.25
	degradedThreshold = 0.5
	matchThreshold    = 0.6
)

// Generate turns a batch summary into operator-facing action cards. It always
// returns at least one card.
func Generate(s aggregator.Summary) []ActionCard {
	var cards []ActionCard
	if s.Total == 0 {
		return []ActionCard{{
			Insight: "No samples were processed",
			Action:  "Check the manifest image column and paths",
			Impact:  "Nothing to evaluate",
		}}
	}

	if n := s.FailuresByKind[apperr.KindConfiguration.String()]; n > 0 {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("%d runs failed on configuration", n),
			Action:  "Run `acid config check` and set the missing API keys",
			Impact:  "Every run fails until credentials are fixed",
		})
	}
	if n := s.FailuresByKind[apperr.KindQuotaExceeded.String()]; n > 0 || s.VideosDegraded > 0 {
		ratio := float64(s.VideosDegraded) / float64(max(s.Succeeded, 1))
		if n > 0 || ratio >= degradedThreshold {
			cards = append(cards, ActionCard{
				Insight: fmt.Sprintf("Video search degraded for %d of %d successful runs", s.VideosDegraded, s.Succeeded),
				Action:  "Raise the YouTube Data API quota or lower video_search.max_results",
				Impact:  "Results ship without clips",
			})
		}
	}
	if n := s.FailuresByKind[apperr.KindRateLimitExceeded.String()]; n > 0 {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("%d runs were rejected by the local rate limiter", n),
			Action:  "Increase max_wait_seconds or reduce batch concurrency",
			Impact:  "Avoidable failures under load",
		})
	}
	if n := s.FailuresByKind[apperr.KindTimeout.String()]; n > 0 {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("%d runs hit the pipeline timeout", n),
			Action:  "Raise pipeline.timeout_seconds or check provider latency",
			Impact:  "Slow providers turn into hard failures",
		})
	}
	if n := s.FailuresByKind[apperr.KindCharacterNotFound.String()]; n > 0 {
		if rate := float64(n) / float64(s.Total); rate >= notFoundThreshold {
			cards = append(cards, ActionCard{
				Insight: fmt.Sprintf("Character database missed %.0f%% of identifications", rate*100),
				Action:  "Review the identification prompt so it returns canonical full names",
				Impact:  "Reduce lookup misses",
			})
		}
	}
	if s.WithExpected > 0 && s.MatchRate < matchThreshold {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("Only %.0f%% of labelled samples matched the expected character", s.MatchRate*100),
			Action:  "Inspect mismatches and tune the segmentation prompt or model version",
			Impact:  "Improve identification accuracy",
		})
	}

	if len(cards) == 0 {
		cards = append(cards, ActionCard{
			Insight: "No strong failure pattern detected",
			Action:  "Monitor and collect more labelled samples",
			Impact:  "Low immediate intervention",
		})
	}
	return cards
}
