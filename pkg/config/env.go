package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/portfolio-ledger/mdscheduler/pkg/scheduler"
)

// Environment variables read by ApplyEnv.
const (
	EnvMode        = "MDFETCH_MODE"
	EnvCapacity    = "MDFETCH_CAPACITY"
	EnvRetryDelay  = "MDFETCH_RETRY_DELAY"
	EnvLookback    = "MDFETCH_LOOKBACK"
	EnvCatalog     = "MDFETCH_CATALOG"
	EnvRedisURL    = "REDIS_URL"
	EnvLogLevel    = "LOG_LEVEL"
	EnvLogPretty   = "LOG_PRETTY"
	EnvMetricsAddr = "METRICS_ADDR"
)

// ApplyEnv overrides fields from the environment. lookup is usually
// os.LookupEnv.
//
// MDFETCH_LOOKBACK accepts a day count ("10") or a provider duration
// ("1 Y").
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}

	if v, ok := get(EnvMode); ok {
		c.Scheduler.Mode = v
	}
	if v, ok := get(EnvCapacity); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCapacity, err)
		}
		c.Scheduler.Capacity = n
	}
	if v, ok := get(EnvRetryDelay); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRetryDelay, err)
		}
		c.Scheduler.RetryDelay = d
	}
	if v, ok := get(EnvLookback); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.Lookback = scheduler.LookbackDays(n)
		} else {
			c.Scheduler.Lookback = v
		}
	}
	if v, ok := get(EnvCatalog); ok {
		c.Catalog.Path = v
	}
	if v, ok := get(EnvRedisURL); ok {
		c.Redis.URL = v
	}
	if v, ok := get(EnvLogLevel); ok {
		c.Logging.Level = v
	}
	if v, ok := get(EnvLogPretty); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLogPretty, err)
		}
		c.Logging.Pretty = b
	}
	if v, ok := get(EnvMetricsAddr); ok {
		c.Metrics.Addr = v
	}
	return nil
}
