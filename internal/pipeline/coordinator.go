// Package pipeline runs one image through segmentation, identification and
// enrichment.
//
// Segmentation and identification are sequential. After identification the
// character lookup and the video search run together; a lookup failure fails
// the run and cancels the search, while a search failure only leaves the
// outcome without videos. The whole run is bounded by a timeout; a stage that
// finishes after the run has ended cannot change the returned outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/logger"
	"anime-identifier-go/internal/types"
)

const DefaultTimeout = 40 * time.Second

type Segmenter interface {
	Segment(ctx context.Context, img types.ImageBlob) (types.SegmentationResult, error)
}

type Identifier interface {
	Identify(ctx context.Context, img types.ImageBlob) (types.CharacterIdentification, error)
}

type CharacterLookup interface {
	Lookup(ctx context.Context, name string) (types.CharacterDetails, error)
}

type VideoSearcher interface {
	SearchVideos(ctx context.Context, character, anime string) ([]types.VideoResult, error)
}

// EnrichmentMode controls how lookup and video search are scheduled.
type EnrichmentMode string

const (
	// EnrichConcurrent starts both calls together.
	EnrichConcurrent EnrichmentMode = "concurrent"
	// EnrichLookupFirst only searches for videos once the lookup succeeded.
	EnrichLookupFirst EnrichmentMode = "lookup_first"
)

func ParseEnrichmentMode(s string) (EnrichmentMode, error) {
	switch EnrichmentMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", EnrichConcurrent:
		return EnrichConcurrent, nil
	case EnrichLookupFirst:
		return EnrichLookupFirst, nil
	default:
		return "", fmt.Errorf("unknown enrichment mode %q", s)
	}
}

// StateHook observes state transitions of a run.
type StateHook func(runID string, state State)

// Outcome is the result of a successful run.
type Outcome struct {
	RunID          string                        `json:"run_id"`
	BBox           types.BoundingBox             `json:"bbox"`
	Identification types.CharacterIdentification `json:"identification"`
	Character      types.CharacterDetails        `json:"character"`
	Videos         []types.VideoResult           `json:"videos"`
	// VideoErr is the soft failure of the video search, if any.
	VideoErr error         `json:"-"`
	Duration time.Duration `json:"-"`
}

type Coordinator struct {
	segmenter  Segmenter
	identifier Identifier
	lookup     CharacterLookup
	videos     VideoSearcher

	timeout   time.Duration
	mode      EnrichmentMode
	log       *logrus.Entry
	hook      StateHook
	preflight func() error
}

type Option func(*Coordinator)

// WithTimeout bounds a whole run. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithEnrichmentMode(mode EnrichmentMode) Option {
	return func(c *Coordinator) {
		if mode != "" {
			c.mode = mode
		}
	}
}

func WithLogger(entry *logrus.Entry) Option {
	return func(c *Coordinator) {
		if entry != nil {
			c.log = entry
		}
	}
}

func WithStateHook(hook StateHook) Option {
	return func(c *Coordinator) {
		c.hook = hook
	}
}

// WithPreflight runs check before the first stage of every run. A failing
// check ends the run without contacting any provider.
func WithPreflight(check func() error) Option {
	return func(c *Coordinator) {
		c.preflight = check
	}
}

func New(seg Segmenter, id Identifier, lookup CharacterLookup, videos VideoSearcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		segmenter:  seg,
		identifier: id,
		lookup:     lookup,
		videos:     videos,
		timeout:    DefaultTimeout,
		mode:       EnrichConcurrent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.New().Entry
	}
	c.log = c.log.WithField("component", "pipeline")
	return c
}

func (c *Coordinator) Timeout() time.Duration { return c.timeout }

func (c *Coordinator) Mode() EnrichmentMode { return c.mode }

// ProcessImage runs the pipeline for img. On failure the error is a
// *StageError naming the stage that failed.
func (c *Coordinator) ProcessImage(parent context.Context, img types.ImageBlob) (*Outcome, error) {
	r := &run{c: c, id: uuid.NewString(), state: StateIdle}
	r.log = c.log.WithField("run_id", r.id)
	start := time.Now()

	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	type result struct {
		out *Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := r.execute(ctx, img)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			r.fail(res.err)
			return nil, res.err
		}
		res.out.RunID = r.id
		res.out.Duration = time.Since(start)
		r.finish(res.out)
		return res.out, nil
	case <-ctx.Done():
		err := &StageError{Stage: r.stage(), Err: apperr.FromContext("pipeline.process", ctx.Err())}
		r.fail(err)
		return nil, err
	}
}

// run is the state of one ProcessImage call.
type run struct {
	c   *Coordinator
	id  string
	log *logrus.Entry

	mu    sync.Mutex
	state State
}

func (r *run) transition(to State) bool {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return false
	}
	r.state = to
	r.mu.Unlock()

	r.log.WithField("state", to.String()).Debug("pipeline state changed")
	if r.c.hook != nil {
		r.c.hook(r.id, to)
	}
	return true
}

func (r *run) stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.stage()
}

func (r *run) fail(err error) {
	if !r.transition(StateFailed) {
		return
	}
	entry := logger.ErrorFields(r.log, err)
	var se *StageError
	if errors.As(err, &se) {
		entry = entry.WithField("stage", string(se.Stage))
	}
	entry.Warn("pipeline failed")
}

func (r *run) finish(out *Outcome) {
	if !r.transition(StateDone) {
		return
	}
	entry := r.log.WithFields(logrus.Fields{
		"character":   out.Character.Name,
		"anime":       out.Character.AnimeName,
		"videos":      len(out.Videos),
		"duration_ms": out.Duration.Milliseconds(),
	})
	if out.VideoErr != nil {
		entry = logger.ErrorFields(entry, out.VideoErr).WithField("videos_degraded", true)
	}
	entry.Info("pipeline complete")
}

func (r *run) execute(ctx context.Context, img types.ImageBlob) (*Outcome, error) {
	if r.c.preflight != nil {
		if err := r.c.preflight(); err != nil {
			return nil, &StageError{Stage: StagePipeline, Err: err}
		}
	}

	r.transition(StateSegmenting)
	seg, err := r.c.segmenter.Segment(ctx, img)
	if err != nil {
		return nil, &StageError{Stage: StageSegmentation, Err: err}
	}

	r.transition(StateIdentifying)
	id, err := r.c.identifier.Identify(ctx, seg.Image)
	if err != nil {
		return nil, &StageError{Stage: StageIdentification, Err: err}
	}

	var e enrichment
	if r.c.mode == EnrichLookupFirst {
		e, err = r.enrichSequential(ctx, id)
	} else {
		e, err = r.enrichConcurrent(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if e.videos == nil {
		e.videos = []types.VideoResult{}
	}
	return &Outcome{
		BBox:           seg.BBox,
		Identification: id,
		Character:      e.details,
		Videos:         e.videos,
		VideoErr:       e.videoErr,
	}, nil
}

type enrichment struct {
	details  types.CharacterDetails
	videos   []types.VideoResult
	videoErr error
}

func (r *run) enrichConcurrent(ctx context.Context, id types.CharacterIdentification) (enrichment, error) {
	r.transition(StateLookingUp)
	r.transition(StateSearchingVideos)

	var e enrichment
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		details, err := r.c.lookup.Lookup(gctx, id.Name)
		if err != nil {
			return &StageError{Stage: StageLookup, Err: err}
		}
		e.details = details
		return nil
	})
	g.Go(func() error {
		videos, err := r.c.videos.SearchVideos(gctx, id.Name, id.AnimeName)
		if err != nil {
			e.videoErr = &StageError{Stage: StageVideoSearch, Err: err}
			return nil
		}
		e.videos = videos
		return nil
	})
	if err := g.Wait(); err != nil {
		return enrichment{}, err
	}
	return e, nil
}

func (r *run) enrichSequential(ctx context.Context, id types.CharacterIdentification) (enrichment, error) {
	r.transition(StateLookingUp)
	details, err := r.c.lookup.Lookup(ctx, id.Name)
	if err != nil {
		return enrichment{}, &StageError{Stage: StageLookup, Err: err}
	}

	e := enrichment{details: details}
	r.transition(StateSearchingVideos)
	videos, err := r.c.videos.SearchVideos(ctx, id.Name, id.AnimeName)
	if err != nil {
		e.videoErr = &StageError{Stage: StageVideoSearch, Err: err}
		return e, nil
	}
	e.videos = videos
	return e, nil
}
