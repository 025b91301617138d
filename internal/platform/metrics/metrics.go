// Package metrics exposes Prometheus instruments for the terminology engine.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ayushbridge/bridge/internal/platform/fhir"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_terminology_requests_total",
		Help: "Terminology operations by outcome",
	}, []string{"operation", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_terminology_request_duration_seconds",
		Help:    "Terminology operation latency",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
	}, []string{"operation"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_result_cache_lookups_total",
		Help: "Result cache lookups by operation and result",
	}, []string{"operation", "result"})

	snapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_snapshot_version",
		Help: "Version of the active terminology snapshot",
	})

	snapshotConcepts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_snapshot_concepts",
		Help: "Concepts in the active snapshot",
	})

	snapshotMappings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_snapshot_mappings",
		Help: "Mapping entries in the active snapshot",
	})

	snapshotLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_snapshot_loads_total",
		Help: "Snapshot load attempts by result",
	}, []string{"result"})
)

// Outcome classifies an operation error into a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, fhir.ErrNotFound):
		return "not_found"
	case errors.Is(err, fhir.ErrInvalidFilter):
		return "invalid"
	case errors.Is(err, fhir.ErrSnapshotUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

// Observe records one operation. Use with defer:
//
//	defer metrics.Observe("expand", time.Now(), &err)
func Observe(operation string, start time.Time, err *error) {
	var e error
	if err != nil {
		e = *err
	}
	requestsTotal.WithLabelValues(operation, Outcome(e)).Inc()
	requestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func CacheHit(operation string)  { cacheLookups.WithLabelValues(operation, "hit").Inc() }
func CacheMiss(operation string) { cacheLookups.WithLabelValues(operation, "miss").Inc() }

// SnapshotSwapped updates the snapshot gauges.
func SnapshotSwapped(version int64, concepts, mappings int) {
	snapshotVersion.Set(float64(version))
	snapshotConcepts.Set(float64(concepts))
	snapshotMappings.Set(float64(mappings))
	snapshotLoads.WithLabelValues("ok").Inc()
}

func SnapshotLoadFailed() {
	snapshotLoads.WithLabelValues("error").Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
