package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors are the Prometheus series exported by the report engine.
type Collectors struct {
	Samples         prometheus.Counter
	Intervals       prometheus.Counter
	Alerts          *prometheus.CounterVec
	ExtractErrors   prometheus.Counter
	ExtractDuration prometheus.Histogram
	Published       prometheus.Counter
	PublishErrors   prometheus.Counter
	Suppressed      prometheus.Counter
	StorageErrors   prometheus.Counter
	TrackedEntities prometheus.Gauge
}

// NewCollectors registers the collectors with reg. A nil reg uses the
// default registerer.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collectors{
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statereport_samples_total",
			Help: "Samples handed to the interval extractor.",
		}),
		Intervals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statereport_intervals_total",
			Help: "Intervals produced by the extractor.",
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statereport_alert_records_total",
			Help: "Alert records produced, by signal type.",
		}, []string{"signal_type"}),
		ExtractErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statereport_extract_errors_total",
			Help: "Batches rejected as invalid input.",
		}),
		ExtractDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "statereport_extract_duration_seconds",
			Help:    "Time spent extracting intervals from one batch.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statereport_alerts_published_total",
			Help: "Alert records published downstream.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statereport_publish_errors_total",
			Help: "Failed alert publish attempts.",
		}),
		Suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statereport_alerts_suppressed_total",
			Help: "Alert records not republished because they were already sent.",
		}),
		StorageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statereport_storage_errors_total",
			Help: "Failed storage writes.",
		}),
		TrackedEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "statereport_tracked_entities",
			Help: "Entities with a timeline in the state store.",
		}),
	}
	reg.MustRegister(
		c.Samples,
		c.Intervals,
		c.Alerts,
		c.ExtractErrors,
		c.ExtractDuration,
		c.Published,
		c.PublishErrors,
		c.Suppressed,
		c.StorageErrors,
		c.TrackedEntities,
	)
	return c
}
