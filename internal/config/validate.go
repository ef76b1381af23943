package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable. Credentials are checked
// separately by RequireCredentials so that tooling can run without them.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	for name, e := range map[string]Endpoint{
		"segmentation":   c.Segmentation.Endpoint,
		"identification": c.Identification.Endpoint,
		"characterdb":    c.CharacterDB.Endpoint,
		"videosearch":    c.VideoSearch.Endpoint,
	} {
		if err := validateEndpoint(name, e); err != nil {
			return err
		}
	}
	if err := c.validateIdentification(); err != nil {
		return err
	}
	if c.CharacterDB.Limit < 1 {
		return errors.New("characterdb.limit must be at least 1")
	}
	if c.VideoSearch.MaxResults < 1 || c.VideoSearch.MaxResults > 50 {
		return errors.New("videosearch.max_results must be between 1 and 50")
	}
	if c.Staging.Mode != StagingDataURL && c.Staging.Mode != StagingDir {
		return fmt.Errorf("staging.mode must be %q or %q", StagingDataURL, StagingDir)
	}
	if c.Source.MaxBytes <= 0 {
		return errors.New("source.max_bytes must be positive")
	}
	if c.Source.TimeoutSeconds <= 0 {
		return errors.New("source.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.RequestsPerSecond < 0 {
		return errors.New("server.requests_per_second must not be negative")
	}
	if c.Server.RequestsPerSecond > 0 && c.Server.Burst < 1 {
		return errors.New("server.burst must be at least 1 when throttling is enabled")
	}
	if c.Server.DemoLimit < 0 {
		return errors.New("server.demo_limit must not be negative")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.TimeoutSeconds <= 0 {
		return errors.New("pipeline.timeout_seconds must be positive")
	}
	switch c.Pipeline.Enrichment {
	case EnrichmentConcurrent, EnrichmentLookupFirst:
	default:
		return fmt.Errorf("pipeline.enrichment must be %q or %q", EnrichmentConcurrent, EnrichmentLookupFirst)
	}
	return nil
}

func validateEndpoint(section string, e Endpoint) error {
	u, err := url.Parse(e.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s.url must be an absolute URL, got %q", section, e.URL)
	}
	if e.RequestsPerSecond < 0 {
		return fmt.Errorf("%s.requests_per_second must not be negative", section)
	}
	if e.MaxWaitSeconds < 0 {
		return fmt.Errorf("%s.max_wait_seconds must not be negative", section)
	}
	if e.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("%s.request_timeout_seconds must not be negative", section)
	}
	if _, err := e.Strategy(); err != nil {
		return fmt.Errorf("%s.retry.strategy: %w", section, err)
	}
	if e.Retry.Strategy != "none" && e.Retry.Attempts < 1 {
		return fmt.Errorf("%s.retry.attempts must be at least 1", section)
	}
	if e.Retry.DelayMS < 0 {
		return fmt.Errorf("%s.retry.delay_ms must not be negative", section)
	}
	return nil
}

func (c *Config) validateIdentification() error {
	id := c.Identification
	if id.Version == "" {
		return errors.New("identification.version must be set")
	}
	if id.Temperature < 0 || id.Temperature > 2 {
		return errors.New("identification.temperature must be between 0 and 2")
	}
	if id.MaxTokens < 1 {
		return errors.New("identification.max_tokens must be at least 1")
	}
	if id.Image.MaxDimension < 1 {
		return errors.New("identification.image.max_dimension must be at least 1")
	}
	if id.Image.Quality < 1 || id.Image.Quality > 100 {
		return errors.New("identification.image.quality must be between 1 and 100")
	}
	if id.Image.MaxBytes < 0 {
		return errors.New("identification.image.max_bytes must not be negative")
	}
	return nil
}
