// Package config loads and validates runtime configuration using viper,
// following the same environment-override + defaults discipline the rest
// of this codebase's ancestor used for its queue system.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Broker selects and configures the queue/store backend.
type Broker struct {
	Backend     string        `mapstructure:"backend"` // "redis" or "sqlite"
	Address     string        `mapstructure:"address"`
	SqlitePath  string        `mapstructure:"sqlite_path"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

type Backoff struct {
	Base time.Duration `mapstructure:"base"`
	Max  time.Duration `mapstructure:"max"`
}

// Model configures the language-model server collaborator.
type Model struct {
	Endpoint            string        `mapstructure:"endpoint"`
	Name                string        `mapstructure:"name"`
	ContextTokens       int           `mapstructure:"context_tokens"`
	PerRequestTimeout   time.Duration `mapstructure:"per_request_timeout"`
	APIKeyEnv           string        `mapstructure:"api_key_env"`
}

// Orchestrator bounds the per-job generate/execute loop (spec §6).
type Orchestrator struct {
	MaxRounds         int           `mapstructure:"max_rounds"`
	PerExecTimeout    time.Duration `mapstructure:"per_exec_timeout"`
	PerJobExecBudget  time.Duration `mapstructure:"per_job_exec_budget"`
	PerJobWallTimeout time.Duration `mapstructure:"per_job_wall_timeout"`
	MaxFileBytes      int64         `mapstructure:"max_file_bytes"`
}

// Worker configures the worker pool's lease and concurrency behavior.
type Worker struct {
	Count                  int           `mapstructure:"count"`
	MaxJobAttempts         int           `mapstructure:"max_job_attempts"`
	LeaseDuration          time.Duration `mapstructure:"lease_duration"`
	LeaseExtensionInterval time.Duration `mapstructure:"lease_extension_interval"`
	ReserveTimeout         time.Duration `mapstructure:"reserve_timeout"`
	ShutdownGrace          time.Duration `mapstructure:"shutdown_grace"`
	Backoff                Backoff       `mapstructure:"backoff"`
}

// Data configures where DataFiles and the inflation cache live.
type Data struct {
	DataDir                    string        `mapstructure:"data_dir"`
	InflationCachePath         string        `mapstructure:"inflation_cache_path"`
	InflationSourceURL         string        `mapstructure:"inflation_source_url"`
	InflationRefreshMaxAgeDays int           `mapstructure:"inflation_refresh_max_age_days"`
	InflationFetchTimeout      time.Duration `mapstructure:"inflation_fetch_timeout"`
	SchemaHeadRows             int           `mapstructure:"schema_head_rows"`
}

type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

type TracingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Endpoint         string  `mapstructure:"endpoint"`
	Environment      string  `mapstructure:"environment"`
	SamplingStrategy string  `mapstructure:"sampling_strategy"`
	SamplingRate     float64 `mapstructure:"sampling_rate"`
}

// Tracing is a backwards-compatible alias.
type Tracing = TracingConfig

type ObservabilityConfig struct {
	MetricsPort         int           `mapstructure:"metrics_port"`
	LogLevel            string        `mapstructure:"log_level"`
	Tracing             TracingConfig `mapstructure:"tracing"`
	QueueSampleInterval time.Duration `mapstructure:"queue_sample_interval"`
}

// Observability is a backwards-compatible alias.
type Observability = ObservabilityConfig

// HTTPAPI configures the optional HTTP front (internal/jobapi/httpapi).
type HTTPAPI struct {
	Addr string `mapstructure:"addr"`
}

type Config struct {
	Broker         Broker         `mapstructure:"broker"`
	Model          Model          `mapstructure:"model"`
	Orchestrator   Orchestrator   `mapstructure:"orchestrator"`
	Worker         Worker         `mapstructure:"worker"`
	Data           Data           `mapstructure:"data"`
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
	Observability  Observability  `mapstructure:"observability"`
	HTTPAPI        HTTPAPI        `mapstructure:"http_api"`
}

// Default returns a configuration populated with the same defaults Load
// applies, useful for tests that need a valid Config without a file on disk.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Broker: Broker{
			Backend:     "redis",
			Address:     "localhost:6379",
			SqlitePath:  "./data/jobqueue.db",
			DialTimeout: 5 * time.Second,
			MaxRetries:  3,
		},
		Model: Model{
			Endpoint:          "http://localhost:8081",
			Name:              "gemini-1.5-flash",
			ContextTokens:     8192,
			PerRequestTimeout: 600 * time.Second,
			APIKeyEnv:         "MODEL_API_KEY",
		},
		Orchestrator: Orchestrator{
			MaxRounds:         10,
			PerExecTimeout:    120 * time.Second,
			PerJobExecBudget:  600 * time.Second,
			PerJobWallTimeout: 1800 * time.Second,
			MaxFileBytes:      100 * 1024 * 1024,
		},
		Worker: Worker{
			Count:                  4,
			MaxJobAttempts:         1,
			LeaseDuration:          10 * time.Minute,
			LeaseExtensionInterval: 5 * time.Minute,
			ReserveTimeout:         5 * time.Second,
			ShutdownGrace:          30 * time.Second,
			Backoff:                Backoff{Base: 500 * time.Millisecond, Max: 10 * time.Second},
		},
		Data: Data{
			DataDir:                    "./data",
			InflationCachePath:         "./data/inflation_cache.json",
			InflationSourceURL:         "https://www.usinflationcalculator.com/inflation/current-inflation-rates/",
			InflationRefreshMaxAgeDays: 30,
			InflationFetchTimeout:      10 * time.Second,
			SchemaHeadRows:             5,
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           1 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       20,
		},
		Observability: Observability{
			MetricsPort:         9090,
			LogLevel:            "info",
			Tracing:             Tracing{Enabled: false, SamplingStrategy: "probabilistic", SamplingRate: 0.1},
			QueueSampleInterval: 2 * time.Second,
		},
		HTTPAPI: HTTPAPI{Addr: ":8080"},
	}
}

// Load reads configuration from a YAML file and environment overrides.
// A missing file is not an error: callers rely purely on defaults and env.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("broker.backend", def.Broker.Backend)
	v.SetDefault("broker.address", def.Broker.Address)
	v.SetDefault("broker.sqlite_path", def.Broker.SqlitePath)
	v.SetDefault("broker.dial_timeout", def.Broker.DialTimeout)
	v.SetDefault("broker.max_retries", def.Broker.MaxRetries)

	v.SetDefault("model.endpoint", def.Model.Endpoint)
	v.SetDefault("model.name", def.Model.Name)
	v.SetDefault("model.context_tokens", def.Model.ContextTokens)
	v.SetDefault("model.per_request_timeout", def.Model.PerRequestTimeout)
	v.SetDefault("model.api_key_env", def.Model.APIKeyEnv)

	v.SetDefault("orchestrator.max_rounds", def.Orchestrator.MaxRounds)
	v.SetDefault("orchestrator.per_exec_timeout", def.Orchestrator.PerExecTimeout)
	v.SetDefault("orchestrator.per_job_exec_budget", def.Orchestrator.PerJobExecBudget)
	v.SetDefault("orchestrator.per_job_wall_timeout", def.Orchestrator.PerJobWallTimeout)
	v.SetDefault("orchestrator.max_file_bytes", def.Orchestrator.MaxFileBytes)

	v.SetDefault("worker.count", def.Worker.Count)
	v.SetDefault("worker.max_job_attempts", def.Worker.MaxJobAttempts)
	v.SetDefault("worker.lease_duration", def.Worker.LeaseDuration)
	v.SetDefault("worker.lease_extension_interval", def.Worker.LeaseExtensionInterval)
	v.SetDefault("worker.reserve_timeout", def.Worker.ReserveTimeout)
	v.SetDefault("worker.shutdown_grace", def.Worker.ShutdownGrace)
	v.SetDefault("worker.backoff.base", def.Worker.Backoff.Base)
	v.SetDefault("worker.backoff.max", def.Worker.Backoff.Max)

	v.SetDefault("data.data_dir", def.Data.DataDir)
	v.SetDefault("data.inflation_cache_path", def.Data.InflationCachePath)
	v.SetDefault("data.inflation_source_url", def.Data.InflationSourceURL)
	v.SetDefault("data.inflation_refresh_max_age_days", def.Data.InflationRefreshMaxAgeDays)
	v.SetDefault("data.inflation_fetch_timeout", def.Data.InflationFetchTimeout)
	v.SetDefault("data.schema_head_rows", def.Data.SchemaHeadRows)

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", def.Observability.Tracing.Endpoint)
	v.SetDefault("observability.tracing.sampling_strategy", def.Observability.Tracing.SamplingStrategy)
	v.SetDefault("observability.tracing.sampling_rate", def.Observability.Tracing.SamplingRate)
	v.SetDefault("observability.queue_sample_interval", def.Observability.QueueSampleInterval)

	v.SetDefault("http_api.addr", def.HTTPAPI.Addr)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Broker.Backend != "redis" && cfg.Broker.Backend != "sqlite" {
		return fmt.Errorf("broker.backend must be \"redis\" or \"sqlite\"")
	}
	if cfg.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be >= 1")
	}
	if cfg.Worker.MaxJobAttempts < 1 {
		return fmt.Errorf("worker.max_job_attempts must be >= 1")
	}
	if cfg.Worker.LeaseDuration < 5*time.Second {
		return fmt.Errorf("worker.lease_duration must be >= 5s")
	}
	if cfg.Worker.LeaseExtensionInterval <= 0 || cfg.Worker.LeaseExtensionInterval > cfg.Worker.LeaseDuration/2 {
		return fmt.Errorf("worker.lease_extension_interval must be >0 and <= lease_duration/2")
	}
	if cfg.Orchestrator.MaxRounds < 1 {
		return fmt.Errorf("orchestrator.max_rounds must be >= 1")
	}
	if cfg.Orchestrator.PerExecTimeout <= 0 {
		return fmt.Errorf("orchestrator.per_exec_timeout must be > 0")
	}
	if cfg.Orchestrator.PerJobExecBudget < cfg.Orchestrator.PerExecTimeout {
		return fmt.Errorf("orchestrator.per_job_exec_budget must be >= per_exec_timeout")
	}
	if cfg.Orchestrator.PerJobWallTimeout < cfg.Orchestrator.PerJobExecBudget {
		return fmt.Errorf("orchestrator.per_job_wall_timeout must be >= per_job_exec_budget")
	}
	if cfg.Orchestrator.MaxFileBytes <= 0 {
		return fmt.Errorf("orchestrator.max_file_bytes must be > 0")
	}
	if cfg.Data.InflationRefreshMaxAgeDays < 1 {
		return fmt.Errorf("data.inflation_refresh_max_age_days must be >= 1")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}
