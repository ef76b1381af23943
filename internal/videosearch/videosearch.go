// Package videosearch finds scenes featuring a character on YouTube.
package videosearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/config"
	"anime-identifier-go/internal/httpclient"
	"anime-identifier-go/internal/logger"
	"anime-identifier-go/internal/ratelimit"
	"anime-identifier-go/internal/types"
)

// LimiterKey is the rate limiter key shared by every search.
const LimiterKey = "youtube"

const (
	op                = "videosearch.search"
	quotaReason       = "quotaExceeded"
	defaultMaxResults = 10
)

type thumbnail struct {
	URL string `json:"url"`
}

type searchItem struct {
	ID struct {
		VideoID string `json:"videoId"`
	} `json:"id"`
	Snippet struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Thumbnails  struct {
			Default *thumbnail `json:"default"`
			Medium  *thumbnail `json:"medium"`
			High    *thumbnail `json:"high"`
		} `json:"thumbnails"`
	} `json:"snippet"`
}

func (it searchItem) thumbnailURL() string {
	for _, t := range []*thumbnail{it.Snippet.Thumbnails.Medium, it.Snippet.Thumbnails.High, it.Snippet.Thumbnails.Default} {
		if t != nil && t.URL != "" {
			return t.URL
		}
	}
	return ""
}

type searchResponse struct {
	Items []searchItem `json:"items"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

type Client struct {
	cfg     config.VideoSearch
	http    *httpclient.Client
	limiter *ratelimit.Limiter
	log     *logrus.Entry
}

func New(cfg config.VideoSearch, limiter *ratelimit.Limiter, client *httpclient.Client, log *logrus.Entry) *Client {
	if log == nil {
		log = logger.New().Entry
	}
	return &Client{cfg: cfg, http: client, limiter: limiter, log: log.WithField("component", "videosearch")}
}

// Query builds the search phrase for a character.
func (c *Client) Query(character, anime string) string {
	parts := []string{strings.TrimSpace(character), strings.TrimSpace(anime), c.cfg.QuerySuffix}
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

// SearchVideos returns videos in the order the provider ranks them.
func (c *Client) SearchVideos(ctx context.Context, character, anime string) ([]types.VideoResult, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, apperr.Newf(apperr.KindConfiguration, op, "%s is not set", config.EnvVideoSearchKey)
	}
	if strings.TrimSpace(character) == "" {
		return nil, apperr.Newf(apperr.KindInvalidInput, op, "empty character name")
	}
	maxResults := c.cfg.MaxResults
	if maxResults < 1 {
		maxResults = defaultMaxResults
	}
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, apperr.New(apperr.KindConfiguration, op, fmt.Errorf("parse url: %w", err))
	}
	q := u.Query()
	q.Set("part", "snippet")
	q.Set("q", c.Query(character, anime))
	q.Set("type", "video")
	q.Set("maxResults", strconv.Itoa(maxResults))
	q.Set("key", c.cfg.APIKey)
	u.RawQuery = q.Encode()

	var out searchResponse
	_, err = ratelimit.Execute(ctx, c.limiter, LimiterKey, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.http.DoJSON(ctx, httpclient.Request{Op: op, Method: http.MethodGet, URL: u.String()}, &out)
	})
	if err != nil {
		if quotaExceeded(err) {
			return nil, &apperr.Error{Kind: apperr.KindQuotaExceeded, Op: op, StatusCode: http.StatusForbidden, Attempts: apperr.AttemptsOf(err), Err: err}
		}
		return nil, err
	}

	videos := make([]types.VideoResult, 0, len(out.Items))
	for _, it := range out.Items {
		if it.ID.VideoID == "" {
			continue
		}
		videos = append(videos, types.VideoResult{
			VideoID:      it.ID.VideoID,
			Title:        it.Snippet.Title,
			ThumbnailURL: it.thumbnailURL(),
			Description:  it.Snippet.Description,
		})
	}
	c.log.WithFields(logrus.Fields{
		"character": character,
		"videos":    len(videos),
	}).Debug("video search complete")
	return videos, nil
}

func quotaExceeded(err error) bool {
	if apperr.StatusCode(err) != http.StatusForbidden {
		return false
	}
	var body errorResponse
	if json.Unmarshal(apperr.BodyOf(err), &body) != nil {
		return false
	}
	for _, e := range body.Error.Errors {
		if e.Reason == quotaReason || e.Reason == "dailyLimitExceeded" {
			return true
		}
	}
	return false
}
