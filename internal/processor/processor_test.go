package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/config"
	"anime-identifier-go/internal/pipeline"
	"anime-identifier-go/internal/types"
)

type fakePipeline struct {
	out      *pipeline.Outcome
	err      error
	deadline time.Time
}

func (f *fakePipeline) ProcessImage(ctx context.Context, img types.ImageBlob) (*pipeline.Outcome, error) {
	f.deadline, _ = ctx.Deadline()
	return f.out, f.err
}

type fakeLoader map[string]types.ImageBlob

func (f fakeLoader) Load(ctx context.Context, source string) (types.ImageBlob, error) {
	img, ok := f[source]
	if !ok {
		return types.ImageBlob{}, apperr.Newf(apperr.KindInvalidInput, "imagesource.load", "open %s: no such file", source)
	}
	return img, nil
}

func quietLog() *logrus.Entry {
	log, _ := test.NewNullLogger()
	return logrus.NewEntry(log)
}

var img = types.NewImageBlob([]byte("\xff\xd8\xffimg"), "jpeg")

func TestProcessSourceSuccess(t *testing.T) {
	fp := &fakePipeline{out: &pipeline.Outcome{
		RunID:          "run-1",
		BBox:           types.BoundingBox{1, 2, 3, 4},
		Identification: types.CharacterIdentification{Name: "Naruto Uzumaki", AnimeName: "Naruto", Confidence: 0.9},
		Character:      types.CharacterDetails{ID: 1, Name: "Naruto Uzumaki", AnimeName: "Naruto"},
		Videos:         []types.VideoResult{{VideoID: "a1"}},
	}}
	p := New(fp, fakeLoader{"naruto.jpg": img}, quietLog())

	res, err := p.ProcessSource(context.Background(), "naruto.jpg", 5*time.Second)

	require.NoError(t, err)
	require.False(t, res.Failed())
	require.Equal(t, "run-1", res.RunID)
	require.Equal(t, "Naruto Uzumaki", res.Character.Name)
	require.Len(t, res.Videos, 1)
	require.False(t, res.VideosDegraded)
	require.False(t, fp.deadline.IsZero())
}

func TestProcessSourceDegradedVideos(t *testing.T) {
	fp := &fakePipeline{out: &pipeline.Outcome{
		Character: types.CharacterDetails{Name: "Rem"},
		Videos:    []types.VideoResult{},
		VideoErr:  &pipeline.StageError{Stage: pipeline.StageVideoSearch, Err: apperr.ErrQuotaExceeded},
	}}
	p := New(fp, fakeLoader{"rem.png": img}, quietLog())

	res, err := p.ProcessSource(context.Background(), "rem.png", 0)

	require.NoError(t, err)
	require.True(t, res.VideosDegraded)
	require.Contains(t, res.VideoError, "quota_exceeded")
	require.True(t, fp.deadline.IsZero())

	data, err := json.Marshal(res)
	require.NoError(t, err)
	require.Contains(t, string(data), `"videos":[]`)
}

func TestProcessSourceReportsStageAndKind(t *testing.T) {
	fp := &fakePipeline{err: &pipeline.StageError{
		Stage: pipeline.StageLookup,
		Err:   apperr.Newf(apperr.KindCharacterNotFound, "characterdb.lookup", "no match"),
	}}
	p := New(fp, fakeLoader{"x.png": img}, quietLog())

	res, err := p.ProcessSource(context.Background(), "x.png", 0)

	require.ErrorIs(t, err, apperr.ErrCharacterNotFound)
	require.True(t, res.Failed())
	require.Equal(t, "character_not_found", res.ErrorKind)
	require.Equal(t, "lookup", res.Stage)
	require.Nil(t, res.Character)
	require.NotNil(t, res.Videos)
}

func TestProcessSourceLoadFailure(t *testing.T) {
	p := New(&fakePipeline{}, fakeLoader{}, quietLog())

	res, err := p.ProcessSource(context.Background(), "missing.png", 0)

	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	require.Equal(t, "invalid_input", res.ErrorKind)
	require.Empty(t, res.Stage)
}

func TestProcessBatchRunsEverySample(t *testing.T) {
	fp := &fakePipeline{out: &pipeline.Outcome{Character: types.CharacterDetails{Name: "Goku"}}}
	p := New(fp, fakeLoader{"a.png": img, "b.png": img}, quietLog())
	samples := []types.Sample{
		{ID: "1", Source: "a.png", Expected: "Goku"},
		{ID: "2", Source: "missing.png"},
		{ID: "3", Source: "b.png", Expected: "Vegeta"},
	}

	var seen int
	results := p.ProcessBatch(context.Background(), samples, 0, func(Result) { seen++ })

	require.Len(t, results, 3)
	require.Equal(t, 3, seen)
	require.False(t, results[0].Failed())
	require.Equal(t, "Goku", results[0].Expected)
	require.True(t, results[1].Failed())
	require.Equal(t, "Vegeta", results[2].Expected)
}

func TestProcessBatchStopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fp := &fakePipeline{out: &pipeline.Outcome{}}
	p := New(fp, fakeLoader{"a.png": img}, quietLog())

	results := p.ProcessBatch(ctx, []types.Sample{{Source: "a.png"}, {Source: "a.png"}}, 0, func(Result) { cancel() })

	require.Len(t, results, 1)
}

func TestBuildWiresConfiguredPipeline(t *testing.T) {
	cfg := config.Default()
	cfg.Staging.Mode = config.StagingDir
	cfg.Staging.Dir = t.TempDir()

	p, err := Build(&cfg, quietLog())

	require.NoError(t, err)
	coord, ok := p.pipeline.(*pipeline.Coordinator)
	require.True(t, ok)
	require.Equal(t, 40*time.Second, coord.Timeout())
	require.Equal(t, pipeline.EnrichConcurrent, coord.Mode())

	// Without credentials the run fails before any stage starts.
	res, err := p.ProcessImage(context.Background(), "upload", img, time.Second)
	require.ErrorIs(t, err, apperr.ErrConfiguration)
	require.Equal(t, "pipeline", res.Stage)
}

func countingConfig(t *testing.T) (*config.Config, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "unavailable", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	for _, e := range []*config.Endpoint{
		&cfg.Segmentation.Endpoint,
		&cfg.Identification.Endpoint,
		&cfg.CharacterDB.Endpoint,
		&cfg.VideoSearch.Endpoint,
	} {
		e.URL = srv.URL
		e.APIKey = "key"
		e.Retry.Strategy = "none"
	}
	return &cfg, &hits
}

func TestMissingKeyFailsBeforeAnyRequest(t *testing.T) {
	cases := map[string]func(*config.Config){
		config.EnvSegmentationKey:   func(c *config.Config) { c.Segmentation.APIKey = "" },
		config.EnvIdentificationKey: func(c *config.Config) { c.Identification.APIKey = "" },
		config.EnvCharacterDBKey:    func(c *config.Config) { c.CharacterDB.APIKey = "" },
		config.EnvVideoSearchKey:    func(c *config.Config) { c.VideoSearch.APIKey = "  " },
	}
	for env, unset := range cases {
		t.Run(env, func(t *testing.T) {
			cfg, hits := countingConfig(t)
			unset(cfg)
			p, err := Build(cfg, quietLog())
			require.NoError(t, err)

			res, err := p.ProcessImage(context.Background(), "upload", img, time.Second)
			require.ErrorIs(t, err, apperr.ErrConfiguration)
			require.Equal(t, "configuration_error", res.ErrorKind)
			require.Equal(t, "pipeline", res.Stage)
			require.Contains(t, res.Error, env)

			res, err = p.ProcessSource(context.Background(), "https://example.invalid/naruto.png", time.Second)
			require.ErrorIs(t, err, apperr.ErrConfiguration)
			require.Equal(t, "pipeline", res.Stage)

			require.EqualValues(t, 0, atomic.LoadInt32(hits))
		})
	}
}

func TestAllKeysSetReachesProviders(t *testing.T) {
	cfg, hits := countingConfig(t)
	p, err := Build(cfg, quietLog())
	require.NoError(t, err)

	res, err := p.ProcessImage(context.Background(), "upload", img, 5*time.Second)

	require.ErrorIs(t, err, apperr.ErrServer)
	require.Equal(t, "segmentation", res.Stage)
	require.EqualValues(t, 1, atomic.LoadInt32(hits))
}
