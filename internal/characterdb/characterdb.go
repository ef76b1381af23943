// Package characterdb looks characters up in the anime character database.
package characterdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/config"
	"anime-identifier-go/internal/httpclient"
	"anime-identifier-go/internal/logger"
	"anime-identifier-go/internal/ratelimit"
	"anime-identifier-go/internal/types"
)

// LimiterKey is the rate limiter key shared by every lookup.
const LimiterKey = "acdb"

const (
	op                 = "characterdb.lookup"
	noDescription      = "No description available"
	notFoundSentinel   = "-1"
	userAgentRequired  = http.StatusPaymentRequired
	defaultSearchLimit = 1
)

type searchRequest struct {
	Name  string `json:"name"`
	Limit int    `json:"limit"`
}

type character struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Anime       string  `json:"anime"`
	Description *string `json:"description"`
	ImageURL    string  `json:"image_url"`
}

// legacyCharacter is the older search_results schema.
type legacyCharacter struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	AnimeName      string `json:"anime_name"`
	Desc           string `json:"desc"`
	CharacterImage string `json:"character_image"`
}

type searchResponse struct {
	Characters    []character       `json:"characters"`
	SearchResults []legacyCharacter `json:"search_results"`
}

func (r searchResponse) first() (types.CharacterDetails, bool) {
	if len(r.Characters) > 0 {
		c := r.Characters[0]
		desc := noDescription
		if c.Description != nil && strings.TrimSpace(*c.Description) != "" {
			desc = *c.Description
		}
		return types.CharacterDetails{ID: c.ID, Name: c.Name, AnimeName: c.Anime, Description: desc, ImageURL: c.ImageURL}, true
	}
	if len(r.SearchResults) > 0 {
		c := r.SearchResults[0]
		desc := c.Desc
		if strings.TrimSpace(desc) == "" {
			desc = noDescription
		}
		return types.CharacterDetails{ID: c.ID, Name: c.Name, AnimeName: c.AnimeName, Description: desc, ImageURL: c.CharacterImage}, true
	}
	return types.CharacterDetails{}, false
}

type Client struct {
	cfg     config.CharacterDB
	http    *httpclient.Client
	limiter *ratelimit.Limiter
	log     *logrus.Entry
}

func New(cfg config.CharacterDB, limiter *ratelimit.Limiter, client *httpclient.Client, log *logrus.Entry) *Client {
	if log == nil {
		log = logger.New().Entry
	}
	return &Client{cfg: cfg, http: client, limiter: limiter, log: log.WithField("component", "characterdb")}
}

// Lookup returns the best database match for name.
func (c *Client) Lookup(ctx context.Context, name string) (types.CharacterDetails, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return types.CharacterDetails{}, apperr.Newf(apperr.KindConfiguration, op, "%s is not set", config.EnvCharacterDBKey)
	}
	query := CleanName(name)
	if query == "" {
		return types.CharacterDetails{}, apperr.Newf(apperr.KindInvalidInput, op, "empty character name")
	}
	limit := c.cfg.Limit
	if limit < 1 {
		limit = defaultSearchLimit
	}
	body, err := json.Marshal(searchRequest{Name: query, Limit: limit})
	if err != nil {
		return types.CharacterDetails{}, apperr.New(apperr.KindInvalidInput, op, err)
	}
	header := http.Header{}
	header.Set("X-API-Key", c.cfg.APIKey)
	header.Set("User-Agent", c.cfg.UserAgent)
	header.Set("Accept", "application/json")

	resp, err := ratelimit.Execute(ctx, c.limiter, LimiterKey, func(ctx context.Context) (*httpclient.Response, error) {
		return c.http.Do(ctx, httpclient.Request{Op: op, URL: c.cfg.URL, Header: header, Body: body})
	})
	if err != nil {
		if httpclient.IsStatus(err, userAgentRequired) {
			return types.CharacterDetails{}, apperr.New(apperr.KindConfiguration, op, fmt.Errorf("database rejected user agent %q: %w", c.cfg.UserAgent, err))
		}
		return types.CharacterDetails{}, err
	}

	raw := bytes.TrimSpace(resp.Body)
	if string(raw) == notFoundSentinel {
		return types.CharacterDetails{}, notFound(query)
	}
	var out searchResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return types.CharacterDetails{}, &apperr.Error{Kind: apperr.KindDecoding, Op: op, Attempts: resp.Attempts, Err: fmt.Errorf("decode search response: %w", err)}
	}
	details, ok := out.first()
	if !ok {
		return types.CharacterDetails{}, notFound(query)
	}
	c.log.WithFields(logrus.Fields{
		"query":        query,
		"character_id": details.ID,
		"anime":        details.AnimeName,
	}).Info("character found")
	return details, nil
}

func notFound(query string) error {
	return apperr.Newf(apperr.KindCharacterNotFound, op, "no character matches %q", query)
}

// CleanName strips the labels models like to prepend, drops commas and
// splits run-together names ("NarutoUzumaki" becomes "Naruto Uzumaki").
func CleanName(name string) string {
	for _, label := range []string{"Character:", "Japanese:", "From:"} {
		name = strings.ReplaceAll(name, label, "")
	}
	name = strings.ReplaceAll(name, ",", "")
	name = strings.Trim(name, " \t\r\n[]")

	var b strings.Builder
	var prev rune
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(prev) {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
		prev = r
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
