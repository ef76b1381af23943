// Package identification asks a hosted vision language model who is in the picture.
package identification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/config"
	"anime-identifier-go/internal/httpclient"
	"anime-identifier-go/internal/imageprep"
	"anime-identifier-go/internal/logger"
	"anime-identifier-go/internal/ratelimit"
	"anime-identifier-go/internal/types"
)

// LimiterKey is the rate limiter key shared by every identification call.
const LimiterKey = "llama"

const op = "identification.identify"

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type predictionInput struct {
	Image       string  `json:"image"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// text flattens the output field. Models either return one string or a list of
// streamed tokens.
func (r predictionResponse) text() (string, error) {
	raw := strings.TrimSpace(string(r.Output))
	if raw == "" || raw == "null" {
		return "", fmt.Errorf("prediction %s has no output (status %q)", r.ID, r.Status)
	}
	var s string
	if err := json.Unmarshal(r.Output, &s); err == nil {
		return s, nil
	}
	var parts []string
	if err := json.Unmarshal(r.Output, &parts); err == nil {
		return strings.Join(parts, ""), nil
	}
	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	return "", fmt.Errorf("unexpected output shape: %.80s", raw)
}

type Client struct {
	cfg     config.Identification
	http    *httpclient.Client
	limiter *ratelimit.Limiter
	prep    *imageprep.Preparer
	log     *logrus.Entry
}

func New(cfg config.Identification, limiter *ratelimit.Limiter, client *httpclient.Client, log *logrus.Entry) *Client {
	if log == nil {
		log = logger.New().Entry
	}
	return &Client{
		cfg:     cfg,
		http:    client,
		limiter: limiter,
		prep: imageprep.New(imageprep.Options{
			MaxDimension: cfg.Image.MaxDimension,
			Quality:      cfg.Image.Quality,
			MaxBytes:     cfg.Image.MaxBytes,
		}),
		log: log.WithField("component", "identification"),
	}
}

// Identify names the character in img.
func (c *Client) Identify(ctx context.Context, img types.ImageBlob) (types.CharacterIdentification, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return types.CharacterIdentification{}, apperr.Newf(apperr.KindConfiguration, op, "%s is not set", config.EnvIdentificationKey)
	}
	prepared, err := c.prep.Prepare(img)
	if err != nil {
		return types.CharacterIdentification{}, err
	}

	body, err := json.Marshal(predictionRequest{
		Version: c.cfg.Version,
		Input: predictionInput{
			Image:       prepared.Base64(),
			Prompt:      c.cfg.Prompt,
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
		},
	})
	if err != nil {
		return types.CharacterIdentification{}, apperr.New(apperr.KindInvalidInput, op, err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	header.Set("Prefer", "wait")

	resp, err := ratelimit.Execute(ctx, c.limiter, LimiterKey, func(ctx context.Context) (predictionResponse, error) {
		var out predictionResponse
		err := c.http.DoJSON(ctx, httpclient.Request{Op: op, URL: c.cfg.URL, Header: header, Body: body}, &out)
		return out, err
	})
	if err != nil {
		return types.CharacterIdentification{}, err
	}
	if e := strings.TrimSpace(string(resp.Error)); e != "" && e != "null" {
		return types.CharacterIdentification{}, apperr.Newf(apperr.KindInvalidResponse, op, "prediction failed: %s", e)
	}

	text, err := resp.text()
	if err != nil {
		return types.CharacterIdentification{}, apperr.New(apperr.KindInvalidResponse, op, err)
	}
	c.log.WithField("output", text).Debug("model output")

	id, err := ParsePayload(text)
	if err != nil {
		return types.CharacterIdentification{}, err
	}
	c.log.WithFields(logrus.Fields{
		"character":  id.Name,
		"anime":      id.AnimeName,
		"confidence": id.Confidence,
	}).Info("character identified")
	return id, nil
}
