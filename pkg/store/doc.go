// Package store persists drained batch results with a Redis backend.
//
// Bars are kept in one hash per instrument and rollup, keyed by bar
// date, so a re-run of the same batch overwrites instead of duplicating.
// Snapshot quotes are kept in one hash per day, keyed by instrument.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//	st := store.New(redisClient, store.WithTTL(30*24*time.Hour))
//
//	sum, err := sched.Run(ctx)
//	if err != nil {
//		return err
//	}
//	stats, err := st.Persist(ctx, cat, sum.Records)
//
// # Keys
//
//	mdfetch:bars:AAPL:AAPL:STK:USD     field 20250620 -> JSON bar entry
//	mdfetch:quotes:20250620            field SEMIS:ASML:OPT:EUR:20250620:C:600 -> JSON quote
//
// Every key and stored entry carries the item's rollup (the symbol when
// the catalog gives none), so one contract held under two rollups is
// stored twice.
//
// # Metrics
//
//	mdsched_store_writes_total{kind}       - Fields written ("bar", "quote")
//	mdsched_store_errors_total{operation}  - Failed store operations
package store
