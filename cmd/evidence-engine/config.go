// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/pdiddy/evidence-engine/internal/secrets"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// setDefaults registers every configuration key so that environment
// variables resolve for nested keys.
func setDefaults(v *viper.Viper) {
	d := types.DefaultEngineConfig()

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.replay_buffer", d.Server.ReplayBuffer)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("models.backend", d.Models.Backend)
	v.SetDefault("models.base_url", d.Models.BaseURL)
	v.SetDefault("models.api_key", d.Models.APIKey)
	v.SetDefault("models.router", d.Models.Router)
	v.SetDefault("models.planner", d.Models.Planner)
	v.SetDefault("models.reflection", d.Models.Reflection)
	v.SetDefault("models.synthesis", d.Models.Synthesis)

	v.SetDefault("router.confidence_threshold", d.Router.ConfidenceThreshold)
	v.SetDefault("planner.max_retries", d.Planner.MaxRetries)
	v.SetDefault("reflection.max_retries", d.Reflection.MaxRetries)

	v.SetDefault("research.providers", d.Research.Providers)
	v.SetDefault("research.hybrid_provider", d.Research.HybridProvider)
	v.SetDefault("research.max_results_per_provider", d.Research.MaxResultsPerProvider)
	v.SetDefault("research.provider_timeout", d.Research.ProviderTimeout)
	v.SetDefault("research.request_timeout", d.Research.RequestTimeout)

	v.SetDefault("stopping.max_rounds", d.Stopping.MaxRounds)
	v.SetDefault("stopping.source_ceiling", d.Stopping.SourceCeiling)
	v.SetDefault("stopping.gap_score_threshold", d.Stopping.GapScoreThreshold)

	v.SetDefault("ranking.weights.relevance", d.Ranking.Weights.Relevance)
	v.SetDefault("ranking.weights.recency", d.Ranking.Weights.Recency)
	v.SetDefault("ranking.weights.venue_quality", d.Ranking.Weights.Venue)
	v.SetDefault("ranking.weights.citations", d.Ranking.Weights.Citations)
	v.SetDefault("ranking.weights_file", d.Ranking.WeightsFile)
	v.SetDefault("ranking.top_n", d.Ranking.TopN)
	v.SetDefault("ranking.min_score", d.Ranking.MinScore)
	v.SetDefault("ranking.recency_window_years", d.Ranking.RecencyWindowYears)

	v.SetDefault("synthesis.temperature", d.Synthesis.Temperature)
	v.SetDefault("synthesis.max_tokens", d.Synthesis.MaxTokens)

	v.SetDefault("verification.enabled", d.Verification.Enabled)
	v.SetDefault("verification.inline", d.Verification.Inline)
	v.SetDefault("verification.timeout", d.Verification.Timeout)
	v.SetDefault("verification.accurate_threshold", d.Verification.AccurateThreshold)
	v.SetDefault("verification.nuance_lost_threshold", d.Verification.NuanceLostThreshold)

	v.SetDefault("providers.timeout", d.Providers.Timeout)
	v.SetDefault("providers.user_agent", d.Providers.UserAgent)
	v.SetDefault("providers.ncbi_api_key", d.Providers.NCBIAPIKey)
	v.SetDefault("providers.semantic_scholar_api_key", d.Providers.SemanticScholarAPIKey)
	v.SetDefault("providers.serpapi_api_key", d.Providers.SerpAPIKey)
	v.SetDefault("providers.openalex_email", d.Providers.OpenAlexEmail)
	v.SetDefault("providers.rate_per_second", d.Providers.RatePerSecond)
}

// loadConfig decodes the merged viper configuration and fills empty
// credentials from the secrets directory.
func loadConfig(v *viper.Viper, s *secrets.Set) (types.EngineConfig, error) {
	var cfg types.EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding configuration: %w", err)
	}

	key := secrets.OpenAIKey
	if cfg.Models.Backend == "claude" {
		key = secrets.AnthropicKey
	}
	cfg.Models.APIKey = s.Or(key, cfg.Models.APIKey)
	cfg.Providers.NCBIAPIKey = s.Or(secrets.NCBIKey, cfg.Providers.NCBIAPIKey)
	cfg.Providers.SemanticScholarAPIKey = s.Or(secrets.SemanticScholarKey, cfg.Providers.SemanticScholarAPIKey)
	cfg.Providers.SerpAPIKey = s.Or(secrets.SerpAPIKey, cfg.Providers.SerpAPIKey)
	cfg.Providers.OpenAlexEmail = s.Or(secrets.OpenAlexEmail, cfg.Providers.OpenAlexEmail)
	return cfg, nil
}
