package dataset

import (
	"sort"
	"strings"

	"anime-identifier-go/internal/imagesource"
	"anime-identifier-go/internal/types"
)

// Summary describes a manifest before it is processed.
type Summary struct {
	TotalSamples     int            `json:"total_samples"`
	RemoteSamples    int            `json:"remote_samples"`
	LocalSamples     int            `json:"local_samples"`
	WithExpected     int            `json:"with_expected"`
	ByExpected       map[string]int `json:"by_expected"`
	TopExpectedNames []string       `json:"top_expected"`
}

// Summarize counts sources and expected characters. Top names are ordered by
// count, then alphabetically.
func Summarize(samples []types.Sample, topN int) Summary {
	s := Summary{TotalSamples: len(samples), ByExpected: map[string]int{}}
	for _, sample := range samples {
		if imagesource.IsURL(sample.Source) {
			s.RemoteSamples++
		} else {
			s.LocalSamples++
		}
		if name := strings.TrimSpace(sample.Expected); name != "" {
			s.WithExpected++
			s.ByExpected[name]++
		}
	}

	names := make([]string, 0, len(s.ByExpected))
	for n := range s.ByExpected {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if s.ByExpected[names[i]] != s.ByExpected[names[j]] {
			return s.ByExpected[names[i]] > s.ByExpected[names[j]]
		}
		return names[i] < names[j]
	})
	if topN > 0 && len(names) > topN {
		names = names[:topN]
	}
	s.TopExpectedNames = names
	return s
}
