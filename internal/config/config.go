package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Workspace WorkspaceConfig  `json:"workspace"`
	Providers []ProviderConfig `json:"providers,omitempty"`
	Cache     CacheConfig      `json:"cache"`
	Budget    BudgetConfig     `json:"budget"`
	Routing   RoutingConfig    `json:"routing"`
	Database  DatabaseConfig   `json:"database"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// WorkspaceConfig locates the on-disk workspace holding agent definitions,
// the cache snapshot and the budget snapshot.
type WorkspaceConfig struct {
	Dir string `json:"dir"`
}

// ProviderConfig combines connection settings with the provider's cost and
// speed profile. Zero profile numbers fall back to the built-in profile for
// the same type.
type ProviderConfig struct {
	ID                string   `json:"id"`
	Type              string   `json:"type"`
	Name              string   `json:"name"`
	Endpoint          string   `json:"endpoint,omitempty"`
	APIKey            string   `json:"api_key,omitempty"`
	Model             string   `json:"model,omitempty"`
	InputCostPerMTok  float64  `json:"input_cost_per_mtok,omitempty"`
	OutputCostPerMTok float64  `json:"output_cost_per_mtok,omitempty"`
	AvgResponseTimeMs int64    `json:"avg_response_time_ms,omitempty"`
	Reliability       float64  `json:"reliability,omitempty"`
	OptimalFor        []string `json:"optimal_for,omitempty"`
	Strengths         []string `json:"strengths,omitempty"`
	MaxBatchSize      int      `json:"max_batch_size,omitempty"`
	BatchDelayMs      int64    `json:"batch_delay_ms,omitempty"`
}

type CacheConfig struct {
	MaxEntries int `json:"max_entries,omitempty"`
	TTLMinutes int `json:"ttl_minutes,omitempty"`
}

// BudgetConfig sets daily spending caps in USD. Zero means uncapped.
type BudgetConfig struct {
	GlobalDailyUSD float64            `json:"global_daily_usd,omitempty"`
	AgentDailyUSD  map[string]float64 `json:"agent_daily_usd,omitempty"`
}

type RoutingConfig struct {
	MaxParallelSteps int `json:"max_parallel_steps,omitempty"`
	// SpeedThresholdsMs seeds per-agent response-time ceilings; agents
	// listed here only route to providers at or under their ceiling.
	SpeedThresholdsMs map[string]int64 `json:"speed_thresholds_ms,omitempty"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
