// Package config loads mdfetch settings from a YAML file, a .env file and
// the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/portfolio-ledger/mdscheduler/pkg/logging"
	"github.com/portfolio-ledger/mdscheduler/pkg/scheduler"
	"github.com/portfolio-ledger/mdscheduler/pkg/store"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Config is the full mdfetch configuration.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SchedulerConfig mirrors scheduler.Config.
type SchedulerConfig struct {
	Mode           string        `yaml:"mode"`
	Capacity       int           `yaml:"capacity"`
	RetryBudget    int           `yaml:"retry_budget"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	Lookback       string        `yaml:"lookback"`
	BarSize        string        `yaml:"bar_size"`
	UseRTH         bool          `yaml:"use_rth"`
	SubmitInterval time.Duration `yaml:"submit_interval"`
}

// CatalogConfig locates the request catalog.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig configures result persistence. An empty URL disables it.
type RedisConfig struct {
	URL    string        `yaml:"url"`
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the defaults for the given scheduler mode.
func Default(mode scheduler.Mode) Config {
	sc := scheduler.DefaultConfig()
	if mode == scheduler.ModeSnapshot {
		sc = scheduler.DefaultSnapshotConfig()
	}
	return Config{
		Scheduler: SchedulerConfig{
			Mode:           string(sc.Mode),
			Capacity:       sc.Capacity,
			RetryBudget:    sc.RetryBudget,
			RetryDelay:     sc.RetryDelay,
			Lookback:       sc.Lookback,
			BarSize:        sc.BarSize,
			UseRTH:         sc.UseRTH,
			SubmitInterval: sc.SubmitInterval,
		},
		Catalog: CatalogConfig{Path: "catalog.yaml"},
		Redis:   RedisConfig{Prefix: store.DefaultPrefix},
		Logging: LoggingConfig{Level: string(logging.LevelInfo)},
	}
}

// Parse decodes YAML over the defaults of the mode the document selects.
func Parse(data []byte) (Config, error) {
	return parse(data, "")
}

// parse decodes data over the defaults of mode, or of the document's
// scheduler.mode when mode is empty.
func parse(data []byte, mode scheduler.Mode) (Config, error) {
	var probe struct {
		Scheduler struct {
			Mode string `yaml:"mode"`
		} `yaml:"scheduler"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return Config{}, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if mode == "" {
		mode = scheduler.Mode(probe.Scheduler.Mode)
	}

	cfg := Default(mode)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

// Load reads the file at path (skipped when empty), applies environment
// overrides and validates the result.
//
// Defaults come from the effective mode: MDFETCH_MODE when set, else the
// file's scheduler.mode, else historical. Values in the file override
// those defaults.
func Load(path string) (Config, error) {
	envMode := scheduler.Mode(os.Getenv(EnvMode))
	cfg := Default(envMode)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config file does not exist: %s", path)
			}
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if cfg, err = parse(data, envMode); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are skipped; variables already set win.
func LoadEnvFiles(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.SchedulerConfig().Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if strings.TrimSpace(c.Catalog.Path) == "" {
		return errors.New("catalog: path is required")
	}
	if c.Redis.TTL < 0 {
		return fmt.Errorf("redis: ttl must be >= 0 (got %v)", c.Redis.TTL)
	}
	if c.Redis.URL != "" {
		if _, err := c.RedisOptions(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if _, err := logging.ParseLevel(logging.LogLevel(c.Logging.Level)); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// SchedulerConfig converts to scheduler.Config.
func (c Config) SchedulerConfig() scheduler.Config {
	s := c.Scheduler
	return scheduler.Config{
		Mode:           scheduler.Mode(s.Mode),
		Capacity:       s.Capacity,
		RetryBudget:    s.RetryBudget,
		RetryDelay:     s.RetryDelay,
		Lookback:       s.Lookback,
		BarSize:        s.BarSize,
		UseRTH:         s.UseRTH,
		SubmitInterval: s.SubmitInterval,
	}
}

// LoggingConfig converts to logging.Config writing to stderr.
func (c Config) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.LogLevel(c.Logging.Level)
	lc.Pretty = c.Logging.Pretty
	return lc
}

// RedisOptions parses the Redis URL. A bare host:port is accepted.
func (c Config) RedisOptions() (*redis.Options, error) {
	if c.Redis.URL == "" {
		return nil, errors.New("url is empty")
	}
	if strings.Contains(c.Redis.URL, "://") {
		opts, err := redis.ParseURL(c.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: c.Redis.URL}, nil
}

// StoreOptions returns the store options for the redis section.
func (c Config) StoreOptions() []store.Option {
	opts := []store.Option{store.WithTTL(c.Redis.TTL)}
	if c.Redis.Prefix != "" {
		opts = append(opts, store.WithPrefix(c.Redis.Prefix))
	}
	return opts
}
