// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "evidence-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// LoggingConfig selects the zap encoder and destination.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is "json" or "console".
	Format string `json:"format" yaml:"format" mapstructure:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `json:"output" yaml:"output" mapstructure:"output"`
}

// ServerConfig holds settings for the streaming HTTP surface.
type ServerConfig struct {
	Addr         string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`

	// ReplayBuffer is the number of events kept per request for resume.
	ReplayBuffer int `json:"replay_buffer" yaml:"replay_buffer" mapstructure:"replay_buffer"`
}

// RedisConfig configures the provider response cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password string        `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`
	DB       int           `json:"db" yaml:"db" mapstructure:"db"`
	TTL      time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
}

// StoreConfig locates the SQLite journey store. An empty Path disables persistence.
type StoreConfig struct {
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

// ModelsConfig names the generative model used by each stage.
type ModelsConfig struct {
	// Backend is "openai", "claude", or "fake".
	Backend    string `json:"backend" yaml:"backend" mapstructure:"backend"`
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`
	Router     string `json:"router" yaml:"router" mapstructure:"router"`
	Planner    string `json:"planner" yaml:"planner" mapstructure:"planner"`
	Reflection string `json:"reflection" yaml:"reflection" mapstructure:"reflection"`
	Synthesis  string `json:"synthesis" yaml:"synthesis" mapstructure:"synthesis"`

	// Prices maps a model id to its USD cost per million input and output tokens.
	Prices map[string]ModelPrice `json:"prices,omitempty" yaml:"prices,omitempty" mapstructure:"prices"`
}

// ModelPrice is the USD price per million tokens.
type ModelPrice struct {
	Input  float64 `json:"input" yaml:"input" mapstructure:"input"`
	Output float64 `json:"output" yaml:"output" mapstructure:"output"`
}

// Cost returns the USD cost of a call with the given token counts.
func (p ModelPrice) Cost(in, out int) float64 {
	return (float64(in)*p.Input + float64(out)*p.Output) / 1e6
}

// RouterConfig holds settings for the query router.
type RouterConfig struct {
	// ConfidenceThreshold below which the tier is lowered by one (default 0.6).
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
}

// PlannerConfig holds settings for the research planner.
type PlannerConfig struct {
	// MaxRetries is the number of attempts before the default plan is used (default 2).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// ResearchConfig holds settings for the round executor and the journey deadline.
type ResearchConfig struct {
	// Providers is the allow-list of provider names used in deep rounds.
	Providers []string `json:"providers" yaml:"providers" mapstructure:"providers"`

	// HybridProvider is the single provider used by tier 2 (default "pubmed").
	HybridProvider string `json:"hybrid_provider" yaml:"hybrid_provider" mapstructure:"hybrid_provider"`

	// MaxResultsPerProvider is the per-call result budget (default 10).
	MaxResultsPerProvider int `json:"max_results_per_provider" yaml:"max_results_per_provider" mapstructure:"max_results_per_provider"`

	// ProviderTimeout bounds each provider call independently (default 15s).
	ProviderTimeout time.Duration `json:"provider_timeout" yaml:"provider_timeout" mapstructure:"provider_timeout"`

	// RequestTimeout is the global deadline for the whole journey (default 3m).
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" mapstructure:"request_timeout"`
}

// ReflectionConfig holds settings for the gap analyzer.
type ReflectionConfig struct {
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// StoppingConfig holds the stopping policy thresholds.
type StoppingConfig struct {
	// MaxRounds is the hard cap on rounds (default 4).
	MaxRounds int `json:"max_rounds" yaml:"max_rounds" mapstructure:"max_rounds"`

	// SourceCeiling is the comprehensive-coverage ceiling (default 50).
	SourceCeiling int `json:"source_ceiling" yaml:"source_ceiling" mapstructure:"source_ceiling"`

	// GapScoreThreshold stops the loop once reached; 0 disables (default 0.85).
	GapScoreThreshold float64 `json:"gap_score_threshold" yaml:"gap_score_threshold" mapstructure:"gap_score_threshold"`
}

// RankingConfig holds the source ranker settings.
type RankingConfig struct {
	Weights RankingWeights `json:"weights" yaml:"weights" mapstructure:"weights"`

	// WeightsFile overrides Weights when set.
	WeightsFile string `json:"weights_file,omitempty" yaml:"weights_file,omitempty" mapstructure:"weights_file"`

	// TopN is the number of sources passed to synthesis (default 10).
	TopN int `json:"top_n" yaml:"top_n" mapstructure:"top_n"`

	// MinScore excludes sources scoring below it (default 0.2).
	MinScore float64 `json:"min_score" yaml:"min_score" mapstructure:"min_score"`

	// RecencyWindowYears is the linear recency decay window (default 10).
	RecencyWindowYears int `json:"recency_window_years" yaml:"recency_window_years" mapstructure:"recency_window_years"`
}

// SynthesisConfig holds the streaming synthesis settings.
type SynthesisConfig struct {
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
}

// VerificationConfig holds the citation verifier settings.
type VerificationConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// Inline waits for verification before the complete event.
	Inline bool `json:"inline" yaml:"inline" mapstructure:"inline"`

	Timeout             time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	AccurateThreshold   float64       `json:"accurate_threshold" yaml:"accurate_threshold" mapstructure:"accurate_threshold"`
	NuanceLostThreshold float64       `json:"nuance_lost_threshold" yaml:"nuance_lost_threshold" mapstructure:"nuance_lost_threshold"`
}

// ProvidersConfig holds credentials and switches for the knowledge-source adapters.
type ProvidersConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	NCBIAPIKey            string `json:"ncbi_api_key,omitempty" yaml:"ncbi_api_key,omitempty" mapstructure:"ncbi_api_key"`
	SemanticScholarAPIKey string `json:"semantic_scholar_api_key,omitempty" yaml:"semantic_scholar_api_key,omitempty" mapstructure:"semantic_scholar_api_key"`
	SerpAPIKey            string `json:"serpapi_api_key,omitempty" yaml:"serpapi_api_key,omitempty" mapstructure:"serpapi_api_key"`

	// OpenAlexEmail joins the OpenAlex polite pool when set.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty" mapstructure:"openalex_email"`

	// RatePerSecond caps requests per provider; 0 disables limiting.
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// EngineConfig groups all component configurations.
type EngineConfig struct {
	Logging      LoggingConfig      `json:"logging" yaml:"logging" mapstructure:"logging"`
	Server       ServerConfig       `json:"server" yaml:"server" mapstructure:"server"`
	Redis        RedisConfig        `json:"redis" yaml:"redis" mapstructure:"redis"`
	Store        StoreConfig        `json:"store" yaml:"store" mapstructure:"store"`
	Models       ModelsConfig       `json:"models" yaml:"models" mapstructure:"models"`
	Router       RouterConfig       `json:"router" yaml:"router" mapstructure:"router"`
	Planner      PlannerConfig      `json:"planner" yaml:"planner" mapstructure:"planner"`
	Research     ResearchConfig     `json:"research" yaml:"research" mapstructure:"research"`
	Reflection   ReflectionConfig   `json:"reflection" yaml:"reflection" mapstructure:"reflection"`
	Stopping     StoppingConfig     `json:"stopping" yaml:"stopping" mapstructure:"stopping"`
	Ranking      RankingConfig      `json:"ranking" yaml:"ranking" mapstructure:"ranking"`
	Synthesis    SynthesisConfig    `json:"synthesis" yaml:"synthesis" mapstructure:"synthesis"`
	Verification VerificationConfig `json:"verification" yaml:"verification" mapstructure:"verification"`
	Providers    ProvidersConfig    `json:"providers" yaml:"providers" mapstructure:"providers"`
}

// DefaultEngineConfig returns the defaults also registered with viper.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stderr"},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			ReplayBuffer: 512,
		},
		Redis: RedisConfig{TTL: 24 * time.Hour},
		Store: StoreConfig{Path: "data/journeys.db"},
		Models: ModelsConfig{
			Backend:    "openai",
			Router:     "gpt-4o-mini",
			Planner:    "gpt-4o-mini",
			Reflection: "gpt-4o-mini",
			Synthesis:  "gpt-4o",
		},
		Router:  RouterConfig{ConfidenceThreshold: 0.6},
		Planner: PlannerConfig{MaxRetries: 2},
		Research: ResearchConfig{
			Providers:             []string{"pubmed", "openalex", "semantic_scholar", "clinicaltrials", "arxiv", "web"},
			HybridProvider:        "pubmed",
			MaxResultsPerProvider: 10,
			ProviderTimeout:       15 * time.Second,
			RequestTimeout:        3 * time.Minute,
		},
		Reflection: ReflectionConfig{MaxRetries: 1},
		Stopping:   StoppingConfig{MaxRounds: 4, SourceCeiling: 50, GapScoreThreshold: 0.85},
		Ranking: RankingConfig{
			Weights:            DefaultRankingWeights(),
			TopN:               10,
			MinScore:           0.2,
			RecencyWindowYears: 10,
		},
		Synthesis: SynthesisConfig{Temperature: 0.3, MaxTokens: 1500},
		Verification: VerificationConfig{
			Enabled:             true,
			Inline:              true,
			Timeout:             5 * time.Second,
			AccurateThreshold:   0.35,
			NuanceLostThreshold: 0.15,
		},
		Providers: ProvidersConfig{
			HTTPConfig:    HTTPConfig{Timeout: 15 * time.Second, UserAgent: "evidence-engine/0.1"},
			RatePerSecond: 3,
		},
	}
}
