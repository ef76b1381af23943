// Package segmentation isolates the character in a photo using a hosted SAM2 worker.
package segmentation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/config"
	"anime-identifier-go/internal/httpclient"
	"anime-identifier-go/internal/logger"
	"anime-identifier-go/internal/ratelimit"
	"anime-identifier-go/internal/staging"
	"anime-identifier-go/internal/types"
)

// LimiterKey is the rate limiter key shared by every segmentation call.
const LimiterKey = "sam2"

const op = "segmentation.segment"

type request struct {
	Input requestInput `json:"input"`
}

type requestInput struct {
	ImageURL string `json:"image_url"`
	Prompt   string `json:"prompt"`
}

type result struct {
	SegmentedImage string    `json:"segmented_image"`
	BBox           []float64 `json:"bbox"`
}

// response accepts both the bare worker output and the RunPod envelope.
type response struct {
	result
	Status string  `json:"status"`
	Output *result `json:"output"`
}

type Client struct {
	cfg     config.Segmentation
	http    *httpclient.Client
	limiter *ratelimit.Limiter
	stager  staging.Stager
	log     *logrus.Entry
}

func New(cfg config.Segmentation, limiter *ratelimit.Limiter, client *httpclient.Client, stager staging.Stager, log *logrus.Entry) *Client {
	if stager == nil {
		stager = staging.DataURLStager{}
	}
	if log == nil {
		log = logger.New().Entry
	}
	return &Client{cfg: cfg, http: client, limiter: limiter, stager: stager, log: log.WithField("component", "segmentation")}
}

// Segment returns the segmented character image and its bounding box.
func (c *Client) Segment(ctx context.Context, img types.ImageBlob) (types.SegmentationResult, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return types.SegmentationResult{}, apperr.Newf(apperr.KindConfiguration, op, "%s is not set", config.EnvSegmentationKey)
	}
	if img.IsEmpty() {
		return types.SegmentationResult{}, apperr.Newf(apperr.KindInvalidInput, op, "empty image")
	}

	imageURL, cleanup, err := c.stager.Stage(ctx, img)
	if err != nil {
		return types.SegmentationResult{}, err
	}
	defer cleanup()

	body, err := json.Marshal(request{Input: requestInput{ImageURL: imageURL, Prompt: c.cfg.Prompt}})
	if err != nil {
		return types.SegmentationResult{}, apperr.New(apperr.KindInvalidInput, op, err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := ratelimit.Execute(ctx, c.limiter, LimiterKey, func(ctx context.Context) (response, error) {
		var out response
		err := c.http.DoJSON(ctx, httpclient.Request{Op: op, URL: c.cfg.URL, Header: header, Body: body}, &out)
		return out, err
	})
	if err != nil {
		return types.SegmentationResult{}, err
	}

	res := resp.result
	if resp.Output != nil {
		res = *resp.Output
	}
	out, err := parseResult(res)
	if err != nil {
		return types.SegmentationResult{}, err
	}
	c.log.WithFields(logrus.Fields{
		"bytes": out.Image.Len(),
		"bbox":  out.BBox,
	}).Debug("segmentation complete")
	return out, nil
}

func parseResult(r result) (types.SegmentationResult, error) {
	if len(r.BBox) != 4 {
		return types.SegmentationResult{}, apperr.Newf(apperr.KindInvalidResponse, op, "bbox has %d values, want 4", len(r.BBox))
	}
	encoded := strings.TrimSpace(r.SegmentedImage)
	if i := strings.Index(encoded, ";base64,"); strings.HasPrefix(encoded, "data:") && i >= 0 {
		encoded = encoded[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return types.SegmentationResult{}, apperr.New(apperr.KindInvalidResponse, op, fmt.Errorf("segmented_image: %w", err))
	}
	if len(data) == 0 {
		return types.SegmentationResult{}, apperr.Newf(apperr.KindInvalidResponse, op, "segmented_image is empty")
	}
	format := types.DetectFormat(data)
	if format == "unknown" {
		return types.SegmentationResult{}, apperr.Newf(apperr.KindInvalidResponse, op, "segmented_image is not an image")
	}
	var box types.BoundingBox
	copy(box[:], r.BBox)
	return types.SegmentationResult{Image: types.NewImageBlob(data, format), BBox: box}, nil
}
