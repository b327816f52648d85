package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreWrites tracks hash fields written by kind
	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdsched_store_writes_total",
			Help: "Total number of record fields written to Redis",
		},
		[]string{"kind"}, // "bar", "quote"
	)

	// StoreErrors tracks store operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdsched_store_errors_total",
			Help: "Total number of store operation errors",
		},
		[]string{"operation"}, // "persist", "bars", "quotes", "delete"
	)
)
