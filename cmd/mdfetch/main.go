package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-ledger/mdscheduler/pkg/catalog"
	"github.com/portfolio-ledger/mdscheduler/pkg/config"
	"github.com/portfolio-ledger/mdscheduler/pkg/logging"
	"github.com/portfolio-ledger/mdscheduler/pkg/metrics"
	"github.com/portfolio-ledger/mdscheduler/pkg/provider/sim"
	"github.com/portfolio-ledger/mdscheduler/pkg/records"
	"github.com/portfolio-ledger/mdscheduler/pkg/scheduler"
	"github.com/portfolio-ledger/mdscheduler/pkg/sink"
	"github.com/portfolio-ledger/mdscheduler/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := config.LoadEnvFiles(".env"); err != nil {
		log.Fatal().Err(err).Msg("Failed to load .env")
	}

	cfg, err := config.Load(getEnv("MDFETCH_CONFIG", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.Setup(cfg.LoggingConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sim.New(), os.Stdout); err != nil {
		stop()
		log.Fatal().Err(err).Msg("Batch failed")
	}
}

// run loads the catalog, drives one batch and hands the results to Redis
// when configured, or prints them as JSON otherwise.
func run(ctx context.Context, cfg config.Config, conn scheduler.Connection, out io.Writer) error {
	logger := logging.NewLogger("mdfetch")

	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	logger.Info().
		Str("path", cfg.Catalog.Path).
		Int("items", cat.Len()).
		Int("dropped", cat.Dropped()).
		Msg("Catalog loaded")

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	var st *store.Store
	if cfg.Redis.URL != "" {
		opts, err := cfg.RedisOptions()
		if err != nil {
			return err
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
		}
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
		st = store.New(redisClient, cfg.StoreOptions()...)
	}

	sched, err := scheduler.New(cfg.SchedulerConfig(), cat, conn)
	if err != nil {
		return err
	}

	sum, runErr := sched.Run(ctx)
	if sum == nil {
		return runErr
	}

	// Partial results of a lost connection are still worth keeping.
	if st != nil {
		stats, err := st.Persist(context.WithoutCancel(ctx), cat, sum.Records)
		if err != nil {
			return errors.Join(runErr, fmt.Errorf("persist results: %w", err))
		}
		logger.Info().
			Int("bars", stats.Bars).
			Int("quotes", stats.Quotes).
			Int("ignored", stats.Ignored).
			Msg("Results persisted")
	} else if err := writeReport(out, cat, sum); err != nil {
		return errors.Join(runErr, err)
	}

	return runErr
}

// Report is the JSON document printed when no store is configured. Bars
// and quotes are keyed by rollup-qualified instrument key.
type Report struct {
	Total     int                         `json:"total"`
	Completed int                         `json:"completed"`
	Retries   int                         `json:"retries"`
	Drained   bool                        `json:"drained"`
	Skipped   []ReportSkip                `json:"skipped,omitempty"`
	Bars      map[string][]records.Bar    `json:"bars,omitempty"`
	Quotes    map[string]store.QuoteEntry `json:"quotes,omitempty"`
}

// ReportSkip is one skipped item in a Report.
type ReportSkip struct {
	Key     string `json:"key"`
	Code    int    `json:"code,omitempty"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

func buildReport(cat *catalog.Catalog, sum *scheduler.Summary) Report {
	r := Report{
		Total:     sum.Total,
		Completed: len(sum.Completed),
		Retries:   sum.Retries,
		Drained:   sum.Drained,
		Bars:      make(map[string][]records.Bar),
		Quotes:    make(map[string]store.QuoteEntry),
	}
	for _, sk := range sum.Skipped {
		rs := ReportSkip{Key: sk.Key, Code: sk.Code, Reason: sk.Reason, Message: sk.Message}
		if e, err := cat.Get(sk.Index); err == nil {
			rs.Key = e.Descriptor.RollupKey()
		}
		r.Skipped = append(r.Skipped, rs)
	}

	for _, g := range sink.ByIndex(sum.Records) {
		entry, err := cat.Get(g.Index)
		if err != nil {
			continue
		}
		key := entry.Descriptor.RollupKey()
		var bars []records.Bar
		var ticks []records.Tick
		for _, p := range g.Payloads {
			switch v := p.(type) {
			case records.Bar:
				bars = append(bars, v.NormalizeWAP())
			case records.Tick:
				ticks = append(ticks, v)
			}
		}
		if len(bars) > 0 {
			r.Bars[key] = store.DedupeBars(bars)
		}
		if q := records.AssembleQuote(ticks); !q.Empty() {
			r.Quotes[key] = store.NewQuoteEntry(entry.Descriptor, q, lastArrival(sum.Records, g.Index))
		}
	}
	return r
}

func lastArrival(results []sink.Result, index catalog.RequestIndex) (at time.Time) {
	for _, res := range results {
		if res.Index == index && res.ReceivedAt.After(at) {
			at = res.ReceivedAt
		}
	}
	return at
}

func writeReport(w io.Writer, cat *catalog.Catalog, sum *scheduler.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(buildReport(cat, sum)); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
