package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/utils"
)

// Config is the engine configuration record. Env vars are the base layer; an
// optional YAML file named by PATTERNOS_CONFIG overlays them.
type Config struct {
	RetentionDays           int     `yaml:"retention_days"`
	AttributionLookbackDays int     `yaml:"attribution_lookback_days"`
	ScoreCacheTTLSeconds    int     `yaml:"score_cache_ttl_seconds"`
	RescoreThresholdEvents  int     `yaml:"rescore_threshold_events"`
	ClockSkewBudgetSeconds  int     `yaml:"clock_skew_budget_seconds"`
	HighIntentThreshold     float64 `yaml:"high_intent_threshold"`
	AdCommissionRate        float64 `yaml:"ad_commission_rate"`
	HighIntentPremiumRate   float64 `yaml:"high_intent_premium_rate"`
	DefaultAttributionModel string  `yaml:"default_attribution_model"`

	// Fallback average order values used by revenue-opportunity estimates when
	// a category has no purchase history yet.
	AvgOrderValueFallbackByCategory map[string]float64 `yaml:"avg_order_value_fallback_by_category"`

	// Annual contract value feeding the monthly retainer stream.
	ContractAnnualValue float64 `yaml:"contract_annual_value"`

	// Operational knobs.
	WorkerConcurrency     int    `yaml:"worker_concurrency"`
	WriteLatencyBudgetMs  int    `yaml:"write_latency_budget_ms"`
	EvictionIdleHours     int    `yaml:"eviction_idle_hours"`
	CampaignCASMaxRetries int    `yaml:"campaign_cas_max_retries"`
	RedisAddr             string `yaml:"redis_addr"`
}

func Load(log *logger.Logger) (*Config, error) {
	cfg := &Config{
		RetentionDays:           utils.GetEnvAsInt("RETENTION_DAYS", 365, log),
		AttributionLookbackDays: utils.GetEnvAsInt("ATTRIBUTION_LOOKBACK_DAYS", 30, log),
		ScoreCacheTTLSeconds:    utils.GetEnvAsInt("SCORE_CACHE_TTL_SECONDS", 300, log),
		RescoreThresholdEvents:  utils.GetEnvAsInt("RESCORE_THRESHOLD_EVENTS", 3, log),
		ClockSkewBudgetSeconds:  utils.GetEnvAsInt("CLOCK_SKEW_BUDGET_SECONDS", 86400, log),
		HighIntentThreshold:     utils.GetEnvAsFloat("HIGH_INTENT_THRESHOLD", 70, log),
		AdCommissionRate:        utils.GetEnvAsFloat("AD_COMMISSION_RATE", 0.10, log),
		HighIntentPremiumRate:   utils.GetEnvAsFloat("HIGH_INTENT_PREMIUM_RATE", 0.20, log),
		DefaultAttributionModel: utils.GetEnv("DEFAULT_ATTRIBUTION_MODEL", "last_click", log),
		ContractAnnualValue:     utils.GetEnvAsFloat("CONTRACT_ANNUAL_VALUE", 0, log),
		WorkerConcurrency:       utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, log),
		WriteLatencyBudgetMs:    utils.GetEnvAsInt("WRITE_LATENCY_BUDGET_MS", 250, log),
		EvictionIdleHours:       utils.GetEnvAsInt("EVICTION_IDLE_HOURS", 24, log),
		CampaignCASMaxRetries:   utils.GetEnvAsInt("CAMPAIGN_CAS_MAX_RETRIES", 10, log),
		RedisAddr:               utils.GetEnv("REDIS_ADDR", "", log),

		AvgOrderValueFallbackByCategory: map[string]float64{},
	}

	path := strings.TrimSpace(os.Getenv("PATTERNOS_CONFIG"))
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive, got %d", c.RetentionDays)
	}
	if c.AttributionLookbackDays <= 0 {
		return fmt.Errorf("attribution_lookback_days must be positive, got %d", c.AttributionLookbackDays)
	}
	if c.AdCommissionRate < 0 || c.AdCommissionRate > 1 {
		return fmt.Errorf("ad_commission_rate must be in [0,1], got %v", c.AdCommissionRate)
	}
	if c.HighIntentPremiumRate < 0 || c.HighIntentPremiumRate > 1 {
		return fmt.Errorf("high_intent_premium_rate must be in [0,1], got %v", c.HighIntentPremiumRate)
	}
	if c.HighIntentThreshold < 0 || c.HighIntentThreshold > 100 {
		return fmt.Errorf("high_intent_threshold must be in [0,100], got %v", c.HighIntentThreshold)
	}
	switch c.DefaultAttributionModel {
	case "last_click", "first_click", "linear", "time_decay", "position_based":
	default:
		return fmt.Errorf("unknown default_attribution_model %q", c.DefaultAttributionModel)
	}
	return nil
}
