package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/httpclient"
	"anime-identifier-go/internal/ratelimit"
)

//go:embed sample_config.toml
var sampleConfig string

// Retry selects a retry strategy for one provider.
type Retry struct {
	Strategy string `toml:"strategy"` // none | fixed | exponential
	Attempts int    `toml:"attempts"`
	DelayMS  int    `toml:"delay_ms"`
}

// Endpoint holds the connection settings every provider shares.
type Endpoint struct {
	URL                   string  `toml:"url"`
	APIKey                string  `toml:"api_key"`
	RequestsPerSecond     float64 `toml:"requests_per_second"`
	MaxWaitSeconds        int     `toml:"max_wait_seconds"`
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"`
	Retry                 Retry   `toml:"retry"`
}

// Server contains the HTTP API settings.
type Server struct {
	Addr              string  `toml:"addr"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	DemoManifest      string  `toml:"demo_manifest"`
	DemoLimit         int     `toml:"demo_limit"`
}

// Pipeline contains coordinator settings.
type Pipeline struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Enrichment     string `toml:"enrichment"` // concurrent | lookup_first
}

// Segmentation configures the SAM2 segmentation provider.
type Segmentation struct {
	Endpoint
	Prompt string `toml:"prompt"`
}

// ImagePrep controls how images are shrunk before identification.
type ImagePrep struct {
	MaxDimension int `toml:"max_dimension"`
	Quality      int `toml:"quality"`
	MaxBytes     int `toml:"max_bytes"`
}

// Identification configures the vision language model provider.
type Identification struct {
	Endpoint
	Version     string    `toml:"version"`
	Prompt      string    `toml:"prompt"`
	Temperature float64   `toml:"temperature"`
	MaxTokens   int       `toml:"max_tokens"`
	Image       ImagePrep `toml:"image"`
}

// CharacterDB configures the character metadata provider.
type CharacterDB struct {
	Endpoint
	UserAgent string `toml:"user_agent"`
	Limit     int    `toml:"limit"`
}

// VideoSearch configures the video search provider.
type VideoSearch struct {
	Endpoint
	MaxResults  int    `toml:"max_results"`
	QuerySuffix string `toml:"query_suffix"`
}

// Staging controls how images are handed to providers that take a URL.
type Staging struct {
	Mode string `toml:"mode"` // data_url | dir
	Dir  string `toml:"dir"`
}

// Source limits how images are loaded from paths and URLs.
type Source struct {
	MaxBytes       int `toml:"max_bytes"`
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Config encapsulates all configuration values.
//
// Configuration sections by subsystem:
//   - Server: HTTP API bind address and inbound throttling
//   - Pipeline: coordinator timeout and enrichment mode
//   - Segmentation, Identification, CharacterDB, VideoSearch: one per provider
//   - Staging: temporary image hand-off for URL based providers
//   - Source: image loading limits
type Config struct {
	Server         Server         `toml:"server"`
	Pipeline       Pipeline       `toml:"pipeline"`
	Segmentation   Segmentation   `toml:"segmentation"`
	Identification Identification `toml:"identification"`
	CharacterDB    CharacterDB    `toml:"characterdb"`
	VideoSearch    VideoSearch    `toml:"videosearch"`
	Staging        Staging        `toml:"staging"`
	Source         Source         `toml:"source"`
}

// SampleConfig returns an annotated configuration file.
func SampleConfig() string {
	return sampleConfig
}

// LoadDotEnv loads .env style files into the process environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load parses the file at path (or the default location), applies environment
// overrides and validates the result.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = os.Getenv("ACID_CONFIG")
	}
	if path == "" {
		path = defaultConfigFile
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return abs, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %s is a directory", abs)
	}
	return abs, true, nil
}

// RequireCredentials reports every provider whose API key is missing.
func (c *Config) RequireCredentials() error {
	var missing []string
	for _, check := range []struct {
		env string
		key string
	}{
		{EnvSegmentationKey, c.Segmentation.APIKey},
		{EnvIdentificationKey, c.Identification.APIKey},
		{EnvCharacterDBKey, c.CharacterDB.APIKey},
		{EnvVideoSearchKey, c.VideoSearch.APIKey},
	} {
		if strings.TrimSpace(check.key) == "" {
			missing = append(missing, check.env)
		}
	}
	if len(missing) > 0 {
		return apperr.Newf(apperr.KindConfiguration, "config.credentials", "missing API keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Timeout is the coordinator boundary timeout.
func (p Pipeline) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Limits returns the rate limiter settings for the endpoint.
func (e Endpoint) Limits() ratelimit.Settings {
	return ratelimit.Settings{
		RequestsPerSecond: e.RequestsPerSecond,
		MaxWait:           time.Duration(e.MaxWaitSeconds) * time.Second,
	}
}

// Strategy returns the endpoint's retry strategy.
func (e Endpoint) Strategy() (httpclient.Strategy, error) {
	return httpclient.ParseStrategy(e.Retry.Strategy, e.Retry.Attempts, time.Duration(e.Retry.DelayMS)*time.Millisecond)
}

// RequestTimeout bounds a single HTTP attempt.
func (e Endpoint) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutSeconds) * time.Second
}
