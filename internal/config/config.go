package config

import "time"

// Config is the root of the TOML configuration tree.
type Config struct {
	Server    ServerConfig          `toml:"server"`
	Provider  ProviderConfig        `toml:"provider"`
	Models    ModelParams           `toml:"models"`
	Cost      CostConfig            `toml:"cost"`
	Tools     map[string]ToolConfig `toml:"tools"`
	Storage   StorageConfig         `toml:"storage"`
	KB        KBConfig              `toml:"knowledge_base"`
	Reminders ReminderConfig        `toml:"reminders"`
	RateLimit RateLimitConfig       `toml:"rate_limit"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	CallbackAuthToken string `toml:"callback_auth_token"`
	IRCCallbackURL    string `toml:"irc_callback_url"`
}

// ProviderConfig holds provider credentials. Values are typically left
// empty in the TOML file and supplied via ${ENV_VAR} expansion.
type ProviderConfig struct {
	OpenAIAPIKey          string `toml:"openai_api_key"`
	GoogleAPIKey          string `toml:"google_api_key"`
	GeminiAPIKey          string `toml:"gemini_api_key"`
	BFLAPIKey             string `toml:"bfl_api_key"`
	BotbinAPIKey          string `toml:"botbin_api_key"`
	AnthropicAPIKey       string `toml:"anthropic_api_key"`
	AWSBearerTokenBedrock string `toml:"aws_bearer_token_bedrock"`
}

// ModelParams are the reasoning-loop defaults and deep-mode overrides from
// spec.md §4.1 step 2.
type ModelParams struct {
	Model                 string        `toml:"model"`
	NormalReasoningEffort string        `toml:"normal_reasoning_effort"`
	DeepReasoningEffort   string        `toml:"deep_reasoning_effort"`
	NormalMaxTokens       int           `toml:"normal_max_tokens"`
	DeepMaxTokens         int           `toml:"deep_max_tokens"`
	NormalTimeout         time.Duration `toml:"normal_timeout"`
	DeepTimeout           time.Duration `toml:"deep_timeout"`
	NormalMaxIterations   int           `toml:"normal_max_iterations"`
	DeepMaxIterations     int           `toml:"deep_max_iterations"`
	PromptCacheRetention  time.Duration `toml:"prompt_cache_retention"`
}

// CostConfig is the per-million-token price list keyed by model id; unknown
// models fall back to models.DefaultCostTable.
type CostConfig struct {
	Models map[string]ModelCost `toml:"models"`
}

// ModelCost mirrors models.CostTable for TOML decoding.
type ModelCost struct {
	InputPerMillion  float64 `toml:"input_per_million"`
	CachedPerMillion float64 `toml:"cached_per_million"`
	OutputPerMillion float64 `toml:"output_per_million"`
	WebSearchPerCall float64 `toml:"web_search_per_call"`
}

// ToolConfig is one entry of the per-tool enable-flags table. This is the
// table fsnotify watches for hot-reload (§0 AMBIENT STACK).
type ToolConfig struct {
	Enabled bool           `toml:"enabled"`
	Options map[string]any `toml:"options"`
}

// StorageConfig selects and configures the relational backend.
type StorageConfig struct {
	Driver    string `toml:"driver"` // "sqlite" or "postgres"
	DSN       string `toml:"dsn"`
	RulesPath string `toml:"rules_path"`
}

// KBConfig configures the knowledge base's embedding provider and chunking.
type KBConfig struct {
	EmbeddingProvider string `toml:"embedding_provider"` // "openai" or "bedrock"
	EmbeddingModel    string `toml:"embedding_model"`
	ChunkSize         int    `toml:"chunk_size"`
	ChunkOverlap      int    `toml:"chunk_overlap"`
	VectorDSN         string `toml:"vector_dsn"`
}

// ReminderConfig configures the scheduler's polling cadence.
type ReminderConfig struct {
	StartupGrace time.Duration `toml:"startup_grace"`
	PollInterval time.Duration `toml:"poll_interval"`
}

// RateLimitConfig configures the sliding-window quotas.
type RateLimitConfig struct {
	ImageQuotaPerHour   int `toml:"image_quota_per_hour"`
	DeepModeQuotaPerDay int `toml:"deep_mode_quota_per_day"`
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Models.Model == "" {
		c.Models.Model = "gpt-5"
	}
	if c.Models.NormalReasoningEffort == "" {
		c.Models.NormalReasoningEffort = "medium"
	}
	if c.Models.DeepReasoningEffort == "" {
		c.Models.DeepReasoningEffort = "high"
	}
	if c.Models.NormalMaxTokens == 0 {
		c.Models.NormalMaxTokens = 4000
	}
	if c.Models.DeepMaxTokens == 0 {
		c.Models.DeepMaxTokens = 16000
	}
	if c.Models.NormalTimeout == 0 {
		c.Models.NormalTimeout = 240 * time.Second
	}
	if c.Models.DeepTimeout == 0 {
		c.Models.DeepTimeout = 480 * time.Second
	}
	if c.Models.NormalMaxIterations == 0 {
		c.Models.NormalMaxIterations = 18
	}
	if c.Models.DeepMaxIterations == 0 {
		c.Models.DeepMaxIterations = 30
	}
	if c.Models.PromptCacheRetention == 0 {
		c.Models.PromptCacheRetention = 24 * time.Hour
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.RulesPath == "" {
		c.Storage.RulesPath = "data/user_rules.json"
	}
	if c.KB.EmbeddingProvider == "" {
		c.KB.EmbeddingProvider = "openai"
	}
	if c.KB.ChunkSize == 0 {
		c.KB.ChunkSize = 1000
	}
	if c.KB.ChunkOverlap == 0 {
		c.KB.ChunkOverlap = 150
	}
	if c.Reminders.StartupGrace == 0 {
		c.Reminders.StartupGrace = 10 * time.Second
	}
	if c.Reminders.PollInterval == 0 {
		c.Reminders.PollInterval = 15 * time.Second
	}
	if c.RateLimit.ImageQuotaPerHour == 0 {
		c.RateLimit.ImageQuotaPerHour = 3
	}
	if c.RateLimit.DeepModeQuotaPerDay == 0 {
		c.RateLimit.DeepModeQuotaPerDay = 3
	}
}
