// Package processor wires configuration into a ready pipeline and turns runs
// into JSON friendly results for the API and the CLI.
package processor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/characterdb"
	"anime-identifier-go/internal/config"
	"anime-identifier-go/internal/httpclient"
	"anime-identifier-go/internal/identification"
	"anime-identifier-go/internal/imagesource"
	"anime-identifier-go/internal/pipeline"
	"anime-identifier-go/internal/ratelimit"
	"anime-identifier-go/internal/segmentation"
	"anime-identifier-go/internal/staging"
	"anime-identifier-go/internal/types"
	"anime-identifier-go/internal/videosearch"
)

// Result is returned by /process and printed by the CLI.
type Result struct {
	RunID          string                         `json:"run_id,omitempty"`
	Source         string                         `json:"source"`
	Expected       string                         `json:"expected_character,omitempty"`
	BBox           *types.BoundingBox             `json:"bbox,omitempty"`
	Identification *types.CharacterIdentification `json:"identification,omitempty"`
	Character      *types.CharacterDetails        `json:"character,omitempty"`
	Videos         []types.VideoResult            `json:"videos"`
	VideosDegraded bool                           `json:"videos_degraded"`
	VideoError     string                         `json:"video_error,omitempty"`
	DurationMs     int64                          `json:"duration_ms"`
	Stage          string                         `json:"stage,omitempty"`
	Error          string                         `json:"error,omitempty"`
	ErrorKind      string                         `json:"error_kind,omitempty"`
}

// Failed reports whether the run ended in an error.
func (r Result) Failed() bool { return r.Error != "" }

type ImagePipeline interface {
	ProcessImage(ctx context.Context, img types.ImageBlob) (*pipeline.Outcome, error)
}

type ImageLoader interface {
	Load(ctx context.Context, source string) (types.ImageBlob, error)
}

type Processor struct {
	pipeline  ImagePipeline
	loader    ImageLoader
	log       *logrus.Entry
	preflight func() error
}

func New(p ImagePipeline, loader ImageLoader, log *logrus.Entry) *Processor {
	return &Processor{pipeline: p, loader: loader, log: log.WithField("component", "processor")}
}

// Build wires the limiter, the retrying clients, the stage clients and the
// coordinator from cfg. Every run first checks that all provider keys are set,
// so a missing key fails as a configuration error before any request is sent.
func Build(cfg *config.Config, log *logrus.Entry) (*Processor, error) {
	limiter := ratelimit.New(ratelimit.Settings{},
		ratelimit.WithKey(segmentation.LimiterKey, cfg.Segmentation.Limits()),
		ratelimit.WithKey(identification.LimiterKey, cfg.Identification.Limits()),
		ratelimit.WithKey(characterdb.LimiterKey, cfg.CharacterDB.Limits()),
		ratelimit.WithKey(videosearch.LimiterKey, cfg.VideoSearch.Limits()),
	)

	clientFor := func(provider string, e config.Endpoint) (*httpclient.Client, error) {
		strategy, err := e.Strategy()
		if err != nil {
			return nil, apperr.New(apperr.KindConfiguration, "processor.build", err)
		}
		return httpclient.New(strategy,
			httpclient.WithHTTPClient(&http.Client{Timeout: e.RequestTimeout()}),
			httpclient.WithLogger(log.WithFields(logrus.Fields{"component": "httpclient", "provider": provider})),
		), nil
	}

	segHTTP, err := clientFor(segmentation.LimiterKey, cfg.Segmentation.Endpoint)
	if err != nil {
		return nil, err
	}
	idHTTP, err := clientFor(identification.LimiterKey, cfg.Identification.Endpoint)
	if err != nil {
		return nil, err
	}
	dbHTTP, err := clientFor(characterdb.LimiterKey, cfg.CharacterDB.Endpoint)
	if err != nil {
		return nil, err
	}
	ytHTTP, err := clientFor(videosearch.LimiterKey, cfg.VideoSearch.Endpoint)
	if err != nil {
		return nil, err
	}

	var stager staging.Stager = staging.DataURLStager{}
	if cfg.Staging.Mode == config.StagingDir {
		dir, err := staging.NewDirStager(cfg.Staging.Dir)
		if err != nil {
			return nil, err
		}
		stager = dir
	}

	mode, err := pipeline.ParseEnrichmentMode(cfg.Pipeline.Enrichment)
	if err != nil {
		return nil, apperr.New(apperr.KindConfiguration, "processor.build", err)
	}
	coord := pipeline.New(
		segmentation.New(cfg.Segmentation, limiter, segHTTP, stager, log),
		identification.New(cfg.Identification, limiter, idHTTP, log),
		characterdb.New(cfg.CharacterDB, limiter, dbHTTP, log),
		videosearch.New(cfg.VideoSearch, limiter, ytHTTP, log),
		pipeline.WithTimeout(cfg.Pipeline.Timeout()),
		pipeline.WithEnrichmentMode(mode),
		pipeline.WithLogger(log),
		pipeline.WithPreflight(cfg.RequireCredentials),
	)

	loader := imagesource.New(httpclient.Exponential(3, 500*time.Millisecond), int64(cfg.Source.MaxBytes),
		httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Source.TimeoutSeconds) * time.Second}),
		httpclient.WithLogger(log.WithFields(logrus.Fields{"component": "httpclient", "provider": "source"})),
	)
	p := New(coord, loader, log)
	p.preflight = cfg.RequireCredentials
	return p, nil
}

// ProcessSource loads source (path or URL) and runs it through the pipeline.
// A non-positive timeout leaves the coordinator's own bound in charge.
func (p *Processor) ProcessSource(ctx context.Context, source string, timeout time.Duration) (Result, error) {
	start := time.Now()
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	if p.preflight != nil {
		if err := p.preflight(); err != nil {
			return p.failEarly(source, start, &pipeline.StageError{Stage: pipeline.StagePipeline, Err: err})
		}
	}

	img, err := p.loader.Load(ctx, source)
	if err != nil {
		return p.failEarly(source, start, err)
	}
	return p.process(ctx, source, img, start)
}

// failEarly reports a run that ended before reaching the pipeline.
func (p *Processor) failEarly(source string, start time.Time, err error) (Result, error) {
	res := Result{Source: source, Videos: []types.VideoResult{}}
	res.setError(err)
	res.DurationMs = time.Since(start).Milliseconds()
	p.logResult(res)
	return res, err
}

// ProcessImage runs an already loaded image. source labels the result.
func (p *Processor) ProcessImage(ctx context.Context, source string, img types.ImageBlob, timeout time.Duration) (Result, error) {
	start := time.Now()
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	return p.process(ctx, source, img, start)
}

func (p *Processor) process(ctx context.Context, source string, img types.ImageBlob, start time.Time) (Result, error) {
	res := Result{Source: source, Videos: []types.VideoResult{}}
	out, err := p.pipeline.ProcessImage(ctx, img)
	res.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		res.setError(err)
		p.logResult(res)
		return res, err
	}

	res.RunID = out.RunID
	bbox := out.BBox
	id := out.Identification
	character := out.Character
	res.BBox = &bbox
	res.Identification = &id
	res.Character = &character
	if out.Videos != nil {
		res.Videos = out.Videos
	}
	if out.VideoErr != nil {
		res.VideosDegraded = true
		res.VideoError = out.VideoErr.Error()
	}
	p.logResult(res)
	return res, nil
}

// ProcessBatch runs samples one after another. progress, if set, is called
// after each sample. A canceled context stops the batch early.
func (p *Processor) ProcessBatch(ctx context.Context, samples []types.Sample, timeout time.Duration, progress func(Result)) []Result {
	results := make([]Result, 0, len(samples))
	for _, s := range samples {
		if ctx.Err() != nil {
			break
		}
		res, _ := p.ProcessSource(ctx, s.Source, timeout)
		res.Expected = s.Expected
		results = append(results, res)
		if progress != nil {
			progress(res)
		}
	}
	return results
}

func (r *Result) setError(err error) {
	r.Error = err.Error()
	r.ErrorKind = apperr.KindOf(err).String()
	var se *pipeline.StageError
	if errors.As(err, &se) {
		r.Stage = string(se.Stage)
	}
}

func (p *Processor) logResult(r Result) {
	entry := p.log.WithFields(logrus.Fields{
		"source":      r.Source,
		"duration_ms": r.DurationMs,
	})
	if r.Failed() {
		entry.WithFields(logrus.Fields{
			"error":      r.Error,
			"error_kind": r.ErrorKind,
			"stage":      r.Stage,
		}).Warn("image processing failed")
		return
	}
	entry.WithFields(logrus.Fields{
		"run_id":          r.RunID,
		"character":       r.Character.Name,
		"videos":          len(r.Videos),
		"videos_degraded": r.VideosDegraded,
	}).Info("image processed")
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
