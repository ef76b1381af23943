package aggregator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"anime-identifier-go/internal/processor"
	"anime-identifier-go/internal/types"
)

func success(name, anime, expected string, degraded bool, ms int64) processor.Result {
	return processor.Result{
		Identification: &types.CharacterIdentification{Name: name, AnimeName: anime},
		Character:      &types.CharacterDetails{Name: name, AnimeName: anime},
		Videos:         []types.VideoResult{},
		VideosDegraded: degraded,
		Expected:       expected,
		DurationMs:     ms,
	}
}

func failure(kind, stage, expected string, ms int64) processor.Result {
	return processor.Result{Error: "boom", ErrorKind: kind, Stage: stage, Expected: expected, DurationMs: ms}
}

func TestAggregate(t *testing.T) {
	s := Aggregate([]processor.Result{
		success("Naruto Uzumaki", "Naruto", "naruto", false, 100),
		success("Sasuke Uchiha", "Naruto", "Itachi Uchiha", true, 200),
		success("Levi", "Attack on Titan", "", false, 300),
		failure("character_not_found", "lookup", "Nobody", 400),
		failure("timeout", "segmentation", "", 500),
	})

	require.Equal(t, 5, s.Total)
	require.Equal(t, 3, s.Succeeded)
	require.Equal(t, 2, s.Failed)
	require.Equal(t, 1, s.VideosDegraded)
	require.Equal(t, map[string]int{"Naruto": 2, "Attack on Titan": 1}, s.ByAnime)
	require.Equal(t, map[string]int{"character_not_found": 1, "timeout": 1}, s.FailuresByKind)
	require.Equal(t, map[string]int{"lookup": 1, "segmentation": 1}, s.FailuresByStage)
	require.Equal(t, 3, s.WithExpected)
	require.Equal(t, 1, s.Matched)
	require.InDelta(t, 1.0/3.0, s.MatchRate, 1e-9)
	require.EqualValues(t, 300, s.AvgDurationMs)
}

func TestAggregateEmpty(t *testing.T) {
	s := Aggregate(nil)

	require.Zero(t, s.Total)
	require.Zero(t, s.MatchRate)
	require.NotNil(t, s.ByAnime)
}

func TestMatches(t *testing.T) {
	r := success("Monkey D. Luffy", "One Piece", "", false, 0)

	require.True(t, Matches(r, "luffy"))
	require.True(t, Matches(r, "  Monkey   D. Luffy "))
	require.False(t, Matches(r, "Zoro"))
	require.False(t, Matches(r, ""))
	require.False(t, Matches(processor.Result{}, "Luffy"))
}
