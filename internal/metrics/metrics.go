package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload outcomes.
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

var (
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imagestore",
		Name:      "uploads_total",
		Help:      "Uploads by outcome.",
	}, []string{"outcome"})

	Resizes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imagestore",
		Name:      "resizes_total",
		Help:      "Derivative regenerations by outcome.",
	}, []string{"outcome"})

	Deletes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "imagestore",
		Name:      "deletes_total",
		Help:      "Images removed from the catalog.",
	})

	DerivativeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "imagestore",
		Name:      "derivative_seconds",
		Help:      "Time spent decoding, resizing and encoding a derivative.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})
)
