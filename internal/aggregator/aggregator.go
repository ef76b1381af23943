package aggregator

import (
	"strings"

	"anime-identifier-go/internal/processor"
)

// Summary aggregates a batch of processing results.
type Summary struct {
	Total           int            `json:"total"`
	Succeeded       int            `json:"succeeded"`
	Failed          int            `json:"failed"`
	VideosDegraded  int            `json:"videos_degraded"`
	ByAnime         map[string]int `json:"by_anime"`
	FailuresByKind  map[string]int `json:"failures_by_kind"`
	FailuresByStage map[string]int `json:"failures_by_stage"`
	WithExpected    int            `json:"with_expected"`
	Matched         int            `json:"matched"`
	MatchRate       float64        `json:"match_rate"`
	AvgDurationMs   int64          `json:"avg_duration_ms"`
}

// Aggregate counts outcomes, failure kinds and expected-name matches.
func Aggregate(results []processor.Result) Summary {
	s := Summary{
		Total:           len(results),
		ByAnime:         map[string]int{},
		FailuresByKind:  map[string]int{},
		FailuresByStage: map[string]int{},
	}
	var totalMs int64
	for _, r := range results {
		totalMs += r.DurationMs
		if r.Expected != "" {
			s.WithExpected++
		}
		if r.Failed() {
			s.Failed++
			s.FailuresByKind[r.ErrorKind]++
			if r.Stage != "" {
				s.FailuresByStage[r.Stage]++
			}
			continue
		}
		s.Succeeded++
		if r.VideosDegraded {
			s.VideosDegraded++
		}
		if r.Character != nil && r.Character.AnimeName != "" {
			s.ByAnime[r.Character.AnimeName]++
		}
		if r.Expected != "" && Matches(r, r.Expected) {
			s.Matched++
		}
	}
	if s.WithExpected > 0 {
		s.MatchRate = float64(s.Matched) / float64(s.WithExpected)
	}
	if s.Total > 0 {
		s.AvgDurationMs = totalMs / int64(s.Total)
	}
	return s
}

// Matches reports whether the identified or looked up character agrees with
// expected. Names match case-insensitively when either contains the other, so
// "Naruto" matches "Naruto Uzumaki".
func Matches(r processor.Result, expected string) bool {
	want := normalize(expected)
	if want == "" {
		return false
	}
	var names []string
	if r.Character != nil {
		names = append(names, r.Character.Name)
	}
	if r.Identification != nil {
		names = append(names, r.Identification.Name)
	}
	for _, n := range names {
		got := normalize(n)
		if got != "" && (strings.Contains(got, want) || strings.Contains(want, got)) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
