package config

import (
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	if c.Server.Addr == "" {
		c.Server.Addr = defaultServerAddr
	}
	if addr := strings.TrimSpace(os.Getenv("PORT")); addr != "" {
		c.Server.Addr = ":" + strings.TrimPrefix(addr, ":")
	}

	c.Pipeline.Enrichment = strings.ToLower(strings.TrimSpace(c.Pipeline.Enrichment))
	if c.Pipeline.Enrichment == "" {
		c.Pipeline.Enrichment = defaultEnrichment
	}

	normalizeEndpoint(&c.Segmentation.Endpoint, EnvSegmentationKey, defaultSegmentationURL)
	normalizeEndpoint(&c.Identification.Endpoint, EnvIdentificationKey, defaultIdentificationURL)
	normalizeEndpoint(&c.CharacterDB.Endpoint, EnvCharacterDBKey, defaultCharacterDBURL)
	normalizeEndpoint(&c.VideoSearch.Endpoint, EnvVideoSearchKey, defaultVideoSearchURL)

	if strings.TrimSpace(c.Segmentation.Prompt) == "" {
		c.Segmentation.Prompt = defaultSegmentationPrompt
	}
	if strings.TrimSpace(c.Identification.Prompt) == "" {
		c.Identification.Prompt = defaultIdentificationPrompt
	}
	c.CharacterDB.UserAgent = strings.TrimSpace(c.CharacterDB.UserAgent)
	if c.CharacterDB.UserAgent == "" {
		c.CharacterDB.UserAgent = defaultCharacterDBUserAgent
	}
	c.VideoSearch.QuerySuffix = strings.TrimSpace(c.VideoSearch.QuerySuffix)

	c.Staging.Mode = strings.ToLower(strings.TrimSpace(c.Staging.Mode))
	if c.Staging.Mode == "" {
		c.Staging.Mode = defaultStagingMode
	}
	if c.Staging.Mode == StagingDir && strings.TrimSpace(c.Staging.Dir) == "" {
		c.Staging.Dir = filepath.Join(os.TempDir(), "anime-identifier")
	}
	return nil
}

func normalizeEndpoint(e *Endpoint, envKey, defaultURL string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		e.APIKey = strings.TrimSpace(value)
	}
	e.APIKey = strings.TrimSpace(e.APIKey)
	e.URL = strings.TrimSpace(e.URL)
	if e.URL == "" {
		e.URL = defaultURL
	}
	e.Retry.Strategy = strings.ToLower(strings.TrimSpace(e.Retry.Strategy))
	if e.Retry.Strategy == "" {
		e.Retry.Strategy = defaultRetryStrategy
	}
	if e.MaxWaitSeconds == 0 {
		e.MaxWaitSeconds = defaultMaxWaitSeconds
	}
	if e.RequestTimeoutSeconds == 0 {
		e.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
}
