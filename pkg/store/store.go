package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/portfolio-ledger/mdscheduler/pkg/catalog"
	"github.com/portfolio-ledger/mdscheduler/pkg/logging"
	"github.com/portfolio-ledger/mdscheduler/pkg/records"
	"github.com/portfolio-ledger/mdscheduler/pkg/sink"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrInvalidEntry indicates a stored value could not be decoded.
var ErrInvalidEntry = errors.New("invalid store entry")

// Store persists drained batch results in Redis hashes.
type Store struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix replaces the key namespace.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithTTL expires written hashes after ttl (0 keeps them forever).
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// New creates a store with a Redis backend.
func New(redisClient *redis.Client, opts ...Option) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	s := &Store{
		redis:  redisClient,
		prefix: DefaultPrefix,
		logger: logging.NewLogger("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats counts what one Persist call wrote.
type Stats struct {
	Items   int // catalog entries with at least one field written
	Bars    int
	Quotes  int
	Ignored int // payloads of unknown type, unknown index or empty quotes
}

type write struct {
	key   string
	field string
	value []byte
}

// Persist writes bars and assembled quotes for every result in one
// pipeline. Bars delivered twice for one date are written once. Ticks of
// one request are folded into a single quote keyed by the day of their
// last arrival.
func (s *Store) Persist(ctx context.Context, cat *catalog.Catalog, results []sink.Result) (Stats, error) {
	writes, stats, err := s.plan(cat, results)
	if err != nil {
		StoreErrors.WithLabelValues("persist").Inc()
		return stats, err
	}
	if len(writes) == 0 {
		return stats, nil
	}

	pipe := s.redis.Pipeline()
	expiring := make(map[string]struct{})
	for _, w := range writes {
		pipe.HSet(ctx, w.key, w.field, w.value)
		expiring[w.key] = struct{}{}
	}
	if s.ttl > 0 {
		for key := range expiring {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		StoreErrors.WithLabelValues("persist").Inc()
		return Stats{}, fmt.Errorf("redis pipeline: %w", err)
	}

	StoreWrites.WithLabelValues("bar").Add(float64(stats.Bars))
	StoreWrites.WithLabelValues("quote").Add(float64(stats.Quotes))
	s.logger.Debug().
		Int("items", stats.Items).
		Int("bars", stats.Bars).
		Int("quotes", stats.Quotes).
		Int("ignored", stats.Ignored).
		Msg("Persisted batch results")

	return stats, nil
}

// plan turns results into hash writes without touching Redis.
func (s *Store) plan(cat *catalog.Catalog, results []sink.Result) ([]write, Stats, error) {
	var stats Stats
	if cat == nil {
		return nil, stats, fmt.Errorf("catalog is required")
	}

	lastSeen := make(map[catalog.RequestIndex]time.Time)
	for _, r := range results {
		if r.ReceivedAt.After(lastSeen[r.Index]) {
			lastSeen[r.Index] = r.ReceivedAt
		}
	}

	var writes []write
	for _, g := range sink.ByIndex(results) {
		entry, err := cat.Get(g.Index)
		if err != nil {
			stats.Ignored += len(g.Payloads)
			continue
		}
		d := entry.Descriptor

		var bars []records.Bar
		var ticks []records.Tick
		for _, p := range g.Payloads {
			switch v := p.(type) {
			case records.Bar:
				bars = append(bars, v)
			case records.Tick:
				ticks = append(ticks, v)
			default:
				stats.Ignored++
			}
		}

		wrote := false
		barKey := BarKey{Prefix: s.prefix, Descriptor: d}.String()
		for _, b := range DedupeBars(bars) {
			data, err := json.Marshal(NewBarEntry(d, b))
			if err != nil {
				return nil, stats, fmt.Errorf("marshal bar: %w", err)
			}
			writes = append(writes, write{key: barKey, field: BarField(b), value: data})
			stats.Bars++
			wrote = true
		}

		if len(ticks) > 0 {
			q := records.AssembleQuote(ticks)
			if q.Empty() {
				stats.Ignored += len(ticks)
			} else {
				at := lastSeen[g.Index]
				data, err := json.Marshal(NewQuoteEntry(d, q, at))
				if err != nil {
					return nil, stats, fmt.Errorf("marshal quote: %w", err)
				}
				writes = append(writes, write{
					key:   QuoteKey{Prefix: s.prefix, Day: at}.String(),
					field: d.RollupKey(),
					value: data,
				})
				stats.Quotes++
				wrote = true
			}
		}
		if wrote {
			stats.Items++
		}
	}
	return writes, stats, nil
}

// Bars returns the stored bars of one instrument, oldest first.
func (s *Store) Bars(ctx context.Context, d catalog.Descriptor) ([]BarEntry, error) {
	fields, err := s.redis.HGetAll(ctx, BarKey{Prefix: s.prefix, Descriptor: d}.String()).Result()
	if err != nil {
		StoreErrors.WithLabelValues("bars").Inc()
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	bars := make([]BarEntry, 0, len(fields))
	for field, raw := range fields {
		var b BarEntry
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			StoreErrors.WithLabelValues("bars").Inc()
			return nil, fmt.Errorf("%w: bar %s: %v", ErrInvalidEntry, field, err)
		}
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// Quotes returns the quotes stored for one day keyed by rollup-qualified
// instrument key.
func (s *Store) Quotes(ctx context.Context, day time.Time) (map[string]QuoteEntry, error) {
	fields, err := s.redis.HGetAll(ctx, QuoteKey{Prefix: s.prefix, Day: day}.String()).Result()
	if err != nil {
		StoreErrors.WithLabelValues("quotes").Inc()
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	out := make(map[string]QuoteEntry, len(fields))
	for field, raw := range fields {
		var e QuoteEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			StoreErrors.WithLabelValues("quotes").Inc()
			return nil, fmt.Errorf("%w: quote %s: %v", ErrInvalidEntry, field, err)
		}
		out[field] = e
	}
	return out, nil
}

// DeleteBars removes the bar hash of one instrument.
func (s *Store) DeleteBars(ctx context.Context, d catalog.Descriptor) error {
	if err := s.redis.Del(ctx, BarKey{Prefix: s.prefix, Descriptor: d}.String()).Err(); err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
