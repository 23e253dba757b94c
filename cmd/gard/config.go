package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"gar"
)

// Config is the file and environment configuration of gard.
type Config struct {
	Addr    string        `mapstructure:"addr"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Sweep   SweepConfig   `mapstructure:"sweep"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Circuit CircuitConfig `mapstructure:"circuit"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// StoreConfig selects the transaction store.
type StoreConfig struct {
	// Driver is one of memory, mysql, postgres, bolt.
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	Path    string `mapstructure:"path"`
	Migrate bool   `mapstructure:"migrate"`
}

// RedisConfig enables Redis-backed locks and notification dedup when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type EngineConfig struct {
	VerificationWindow time.Duration `mapstructure:"verification_window"`
	ReferenceAttempts  int           `mapstructure:"reference_attempts"`
	ConflictRetries    int           `mapstructure:"conflict_retries"`
}

type SweepConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
}

type NotifyConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	DedupTTL   time.Duration `mapstructure:"dedup_ttl"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Token      string        `mapstructure:"token"`
	OutboxSize int           `mapstructure:"outbox_size"`
}

type CircuitConfig struct {
	Threshold        int           `mapstructure:"threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
	HalfOpenRequests int           `mapstructure:"half_open_requests"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// setDefaults registers every key so GAR_* variables can override it.
func setDefaults(v *viper.Viper) {
	d := gar.DefaultConfig()

	v.SetDefault("addr", ":8080")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.path", "gar.db")
	v.SetDefault("store.migrate", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("engine.verification_window", d.VerificationWindow)
	v.SetDefault("engine.reference_attempts", d.ReferenceAttempts)
	v.SetDefault("engine.conflict_retries", d.ConflictRetries)

	v.SetDefault("sweep.interval", d.SweepInterval)
	v.SetDefault("sweep.batch_size", d.SweepBatchSize)
	v.SetDefault("sweep.lock_ttl", d.SweepLockTTL)

	v.SetDefault("notify.timeout", d.NotifyTimeout)
	v.SetDefault("notify.dedup_ttl", d.NotifyDedupTTL)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.token", "")
	v.SetDefault("notify.outbox_size", 1024)

	v.SetDefault("circuit.threshold", d.CircuitThreshold)
	v.SetDefault("circuit.timeout", d.CircuitTimeout)
	v.SetDefault("circuit.half_open_requests", d.CircuitHalfOpenReqs)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "gard")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// loadConfig reads path (optional) and applies GAR_* environment overrides,
// e.g. GAR_STORE_DRIVER=postgres or GAR_SWEEP_INTERVAL=1m.
func loadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	ec := cfg.engineConfig()
	if err := ec.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// engineConfig converts the file layout to the engine configuration.
func (c *Config) engineConfig() gar.Config {
	return gar.ApplyOptions(
		gar.WithVerificationWindow(c.Engine.VerificationWindow),
		gar.WithReferenceAttempts(c.Engine.ReferenceAttempts),
		gar.WithConflictRetries(c.Engine.ConflictRetries),
		gar.WithSweepInterval(c.Sweep.Interval),
		gar.WithSweepBatchSize(c.Sweep.BatchSize),
		gar.WithSweepLockTTL(c.Sweep.LockTTL),
		gar.WithNotifyTimeout(c.Notify.Timeout),
		gar.WithNotifyDedupTTL(c.Notify.DedupTTL),
		gar.WithCircuitThreshold(c.Circuit.Threshold),
		gar.WithCircuitTimeout(c.Circuit.Timeout),
		gar.WithCircuitHalfOpenReqs(c.Circuit.HalfOpenRequests),
	)
}
