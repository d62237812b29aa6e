package reporting

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process-wide instrumentation for the engine. Every
// counter lives on its own registry so tests can create isolated instances.
type Metrics struct {
	Registry *prometheus.Registry

	ObservationsDropped *prometheus.CounterVec
	FusionPasses        prometheus.Counter
	FusionBatchSize     prometheus.Histogram
	FusionDuration      prometheus.Histogram
	RasterErrors        prometheus.Counter

	SchedulerTicks     *prometheus.CounterVec
	SchedulerTickError *prometheus.CounterVec

	RoutingRequests *prometheus.CounterVec
	RoutingDuration prometheus.Histogram

	BusDropped   *prometheus.CounterVec
	MissionsOpen prometheus.Gauge
}

// NewMetrics creates and registers the engine metric set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ObservationsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masfro_observations_dropped_total",
			Help: "Hazard observations rejected at ingest, by reason.",
		}, []string{"reason"}),
		FusionPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "masfro_fusion_passes_total",
			Help: "Completed hazard fusion passes.",
		}),
		FusionBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "masfro_fusion_batch_edges",
			Help:    "Edges updated per fusion batch.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		FusionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "masfro_fusion_duration_seconds",
			Help:    "Wall time of one fusion pass.",
			Buckets: prometheus.DefBuckets,
		}),
		RasterErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "masfro_raster_errors_total",
			Help: "Raster provider failures tolerated during fusion.",
		}),
		SchedulerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masfro_scheduler_ticks_total",
			Help: "Agent ticks driven by the scheduler, by agent.",
		}, []string{"agent"}),
		SchedulerTickError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masfro_scheduler_tick_errors_total",
			Help: "Agent tick failures, by agent.",
		}, []string{"agent"}),
		RoutingRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masfro_routing_requests_total",
			Help: "Routing requests answered, by outcome.",
		}, []string{"status"}),
		RoutingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "masfro_routing_duration_seconds",
			Help:    "Wall time of one route computation.",
			Buckets: prometheus.DefBuckets,
		}),
		BusDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masfro_bus_send_failures_total",
			Help: "Bus sends rejected, by reason.",
		}, []string{"reason"}),
		MissionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "masfro_missions_open",
			Help: "Missions currently pending or waiting on replies.",
		}),
	}

	reg.MustRegister(
		m.ObservationsDropped,
		m.FusionPasses,
		m.FusionBatchSize,
		m.FusionDuration,
		m.RasterErrors,
		m.SchedulerTicks,
		m.SchedulerTickError,
		m.RoutingRequests,
		m.RoutingDuration,
		m.BusDropped,
		m.MissionsOpen,
	)
	return m
}
