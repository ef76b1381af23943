package pipeline

import "fmt"

type State int

const (
	StateIdle State = iota
	StateSegmenting
	StateIdentifying
	StateLookingUp
	StateSearchingVideos
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:            "idle",
	StateSegmenting:      "segmenting",
	StateIdentifying:     "identifying",
	StateLookingUp:       "looking_up",
	StateSearchingVideos: "searching_videos",
	StateDone:            "done",
	StateFailed:          "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// stage maps the state a run was in to the stage that was executing. The
// enrichment states both belong to the lookup, which is the hard dependency.
func (s State) stage() Stage {
	switch s {
	case StateSegmenting:
		return StageSegmentation
	case StateIdentifying:
		return StageIdentification
	case StateLookingUp, StateSearchingVideos:
		return StageLookup
	default:
		return StagePipeline
	}
}

type Stage string

const (
	StagePipeline       Stage = "pipeline"
	StageSegmentation   Stage = "segmentation"
	StageIdentification Stage = "identification"
	StageLookup         Stage = "lookup"
	StageVideoSearch    Stage = "video_search"
)

// StageError attributes a failure to the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
