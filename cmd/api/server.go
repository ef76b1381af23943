package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"anime-identifier-go/internal/actionable"
	"anime-identifier-go/internal/aggregator"
	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/dataset"
	"anime-identifier-go/internal/imagesource"
	"anime-identifier-go/internal/logger"
	"anime-identifier-go/internal/processor"
	"anime-identifier-go/internal/types"
)

type imageProcessor interface {
	ProcessSource(ctx context.Context, source string, timeout time.Duration) (processor.Result, error)
	ProcessImage(ctx context.Context, source string, img types.ImageBlob, timeout time.Duration) (processor.Result, error)
	ProcessBatch(ctx context.Context, samples []types.Sample, timeout time.Duration, progress func(processor.Result)) []processor.Result
}

type server struct {
	proc         imageProcessor
	log          *logger.Logger
	limiter      *rate.Limiter
	maxBytes     int64
	demoManifest string
	demoLimit    int
	loadManifest func(path string) ([]types.Sample, error)
}

type demoResponse struct {
	Manifest dataset.Summary         `json:"manifest"`
	Results  []processor.Result      `json:"results"`
	Summary  aggregator.Summary      `json:"summary"`
	Actions  []actionable.ActionCard `json:"actions"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"error_kind,omitempty"`
}

// newLimiter returns nil when rps is not positive, which disables throttling.
func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/process", s.throttle(http.HandlerFunc(s.handleProcess)))
	mux.Handle("/demo", s.throttle(http.HandlerFunc(s.handleDemo)))
	return mux
}

func (s *server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.log.WithRequest(r).Warn("request throttled")
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error: "too many requests",
				Kind:  apperr.KindRateLimitExceeded.String(),
			}, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.log.WithRequest(r).Debug("health check")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// handleProcess accepts a multipart "image" field, a raw image body or an
// image_url query parameter.
func (s *server) handleProcess(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "process")

	timeout, err := parseTimeout(r.URL.Query().Get("timeout_sec"))
	if err != nil {
		writeError(w, reqLog, apperr.New(apperr.KindInvalidInput, "api.process", err))
		return
	}
	reqLog = reqLog.WithField("timeout_sec", timeout.Seconds())

	var res processor.Result
	switch imageURL := strings.TrimSpace(r.URL.Query().Get("image_url")); {
	case imageURL != "":
		if !imagesource.IsURL(imageURL) {
			writeError(w, reqLog, apperr.Newf(apperr.KindInvalidInput, "api.process", "image_url must be http or https"))
			return
		}
		reqLog = reqLog.WithField("image_url", imageURL)
		res, err = s.proc.ProcessSource(r.Context(), imageURL, timeout)
	case r.Method == http.MethodPost:
		img, source, readErr := s.readUpload(w, r)
		if readErr != nil {
			writeError(w, reqLog, readErr)
			return
		}
		reqLog = reqLog.WithFields(logrus.Fields{"upload": source, "bytes": img.Len()})
		res, err = s.proc.ProcessImage(r.Context(), source, img, timeout)
	default:
		writeError(w, reqLog, apperr.Newf(apperr.KindInvalidInput, "api.process", "missing image or image_url"))
		return
	}

	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		logger.ErrorFields(reqLog, err).WithField("status", status).Warn("process failed")
	} else {
		reqLog.WithFields(logrus.Fields{
			"run_id":      res.RunID,
			"duration_ms": res.DurationMs,
		}).Info("process finished")
	}
	writeJSON(w, status, res, reqLog)
}

func (s *server) readUpload(w http.ResponseWriter, r *http.Request) (types.ImageBlob, string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes+(1<<20))
		if err := r.ParseMultipartForm(s.maxBytes); err != nil {
			return types.ImageBlob{}, "", apperr.New(apperr.KindInvalidInput, "api.upload", err)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			return types.ImageBlob{}, "", apperr.New(apperr.KindInvalidInput, "api.upload", err)
		}
		defer file.Close()
		img, err := imagesource.ReadAll(file, s.maxBytes)
		return img, header.Filename, err
	}
	img, err := imagesource.ReadAll(r.Body, s.maxBytes)
	return img, "upload", err
}

func (s *server) handleDemo(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "demo")
	if s.demoManifest == "" {
		writeError(w, reqLog, apperr.Newf(apperr.KindConfiguration, "api.demo", "server.demo_manifest is not set"))
		return
	}

	limit := s.demoLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, reqLog, apperr.Newf(apperr.KindInvalidInput, "api.demo", "limit must be a positive integer"))
			return
		}
		limit = min(n, s.demoLimit)
	}

	samples, err := s.loadManifest(s.demoManifest)
	if err != nil {
		writeError(w, reqLog, apperr.New(apperr.KindConfiguration, "api.demo", err))
		return
	}
	if limit > 0 && len(samples) > limit {
		samples = samples[:limit]
	}
	reqLog.WithFields(logrus.Fields{"manifest": s.demoManifest, "samples": len(samples)}).Info("demo invoked")

	results := s.proc.ProcessBatch(r.Context(), samples, 0, func(res processor.Result) {
		reqLog.WithFields(logrus.Fields{
			"source":     res.Source,
			"error_kind": res.ErrorKind,
		}).Debug("demo sample processed")
	})
	summary := aggregator.Aggregate(results)
	writeJSON(w, http.StatusOK, demoResponse{
		Manifest: dataset.Summarize(samples, 5),
		Results:  results,
		Summary:  summary,
		Actions:  actionable.Generate(summary),
	}, reqLog)
}

func parseTimeout(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, errors.New("timeout_sec must be a positive integer")
	}
	return time.Duration(n) * time.Second, nil
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindCharacterNotFound:
		return http.StatusNotFound
	case apperr.KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindCanceled:
		return 499
	case apperr.KindServer, apperr.KindNetwork, apperr.KindInvalidResponse, apperr.KindDecoding, apperr.KindQuotaExceeded:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, log *logrus.Entry, err error) {
	status := statusFor(err)
	logger.ErrorFields(log, err).WithField("status", status).Warn("request rejected")
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: apperr.KindOf(err).String()}, log)
}

func writeJSON(w http.ResponseWriter, status int, v any, log *logrus.Entry) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil && log != nil {
		log.WithError(err).Error("failed to write response")
	}
}
