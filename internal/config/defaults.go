package config

const (
	defaultConfigFile             = "acid.toml"
	defaultServerAddr             = ":8080"
	defaultServerRPS              = 5
	defaultServerBurst            = 10
	defaultDemoLimit              = 5
	defaultPipelineTimeoutSeconds = 40
	defaultEnrichment             = EnrichmentConcurrent
	defaultRequestTimeoutSeconds  = 30
	defaultMaxWaitSeconds         = 10
	defaultRetryStrategy          = "exponential"
	defaultRetryAttempts          = 3
	defaultRetryDelayMS           = 1000
	defaultSegmentationURL        = "https://api.runpod.ai/v2/sam2/run"
	defaultSegmentationPrompt     = "anime character"
	defaultIdentificationURL      = "https://api.replicate.com/v1/predictions"
	defaultIdentificationVersion  = "2b017d9b67edd2ee1b0b7389e2105ed693d949ea9f7321cab24871e5b79ee3b4"
	defaultIdentificationPrompt   = "Identify the anime character in this image. Respond in JSON format with fields: name, animeName, confidence"
	defaultTemperature            = 0.7
	defaultMaxTokens              = 100
	defaultImageMaxDimension      = 1024
	defaultImageQuality           = 80
	defaultImageMaxBytes          = 1 << 20
	defaultCharacterDBURL         = "https://www.animecharactersdatabase.com/api/character/search"
	defaultCharacterDBUserAgent   = "anime-identifier-go/1.0"
	defaultCharacterDBLimit       = 1
	defaultCharacterDBRPS         = 2
	defaultVideoSearchURL         = "https://www.googleapis.com/youtube/v3/search"
	defaultVideoSearchMaxResults  = 10
	defaultVideoSearchSuffix      = "anime scene"
	defaultStagingMode            = StagingDataURL
	defaultSourceMaxBytes         = 20 << 20
	defaultSourceTimeoutSeconds   = 30
)

// Environment variables that carry provider credentials. They override file values.
const (
	EnvSegmentationKey   = "SAM2_API_KEY"
	EnvIdentificationKey = "LLAMA3_API_KEY"
	EnvCharacterDBKey    = "ACDB_API_KEY"
	EnvVideoSearchKey    = "YOUTUBE_API_KEY"
)

const (
	EnrichmentConcurrent  = "concurrent"
	EnrichmentLookupFirst = "lookup_first"

	StagingDataURL = "data_url"
	StagingDir     = "dir"
)

func defaultEndpoint(url string, rps float64) Endpoint {
	return Endpoint{
		URL:                   url,
		RequestsPerSecond:     rps,
		MaxWaitSeconds:        defaultMaxWaitSeconds,
		RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
		Retry: Retry{
			Strategy: defaultRetryStrategy,
			Attempts: defaultRetryAttempts,
			DelayMS:  defaultRetryDelayMS,
		},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			Addr:              defaultServerAddr,
			RequestsPerSecond: defaultServerRPS,
			Burst:             defaultServerBurst,
			DemoLimit:         defaultDemoLimit,
		},
		Pipeline: Pipeline{
			TimeoutSeconds: defaultPipelineTimeoutSeconds,
			Enrichment:     defaultEnrichment,
		},
		Segmentation: Segmentation{
			Endpoint: defaultEndpoint(defaultSegmentationURL, 1),
			Prompt:   defaultSegmentationPrompt,
		},
		Identification: Identification{
			Endpoint:    defaultEndpoint(defaultIdentificationURL, 1),
			Version:     defaultIdentificationVersion,
			Prompt:      defaultIdentificationPrompt,
			Temperature: defaultTemperature,
			MaxTokens:   defaultMaxTokens,
			Image: ImagePrep{
				MaxDimension: defaultImageMaxDimension,
				Quality:      defaultImageQuality,
				MaxBytes:     defaultImageMaxBytes,
			},
		},
		CharacterDB: CharacterDB{
			Endpoint:  defaultEndpoint(defaultCharacterDBURL, defaultCharacterDBRPS),
			UserAgent: defaultCharacterDBUserAgent,
			Limit:     defaultCharacterDBLimit,
		},
		VideoSearch: VideoSearch{
			Endpoint:    defaultEndpoint(defaultVideoSearchURL, 1),
			MaxResults:  defaultVideoSearchMaxResults,
			QuerySuffix: defaultVideoSearchSuffix,
		},
		Staging: Staging{
			Mode: defaultStagingMode,
		},
		Source: Source{
			MaxBytes:       defaultSourceMaxBytes,
			TimeoutSeconds: defaultSourceTimeoutSeconds,
		},
	}
}
