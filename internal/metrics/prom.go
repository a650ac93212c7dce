package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "vintel_"

	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"

	LineParsed    = "parsed"
	LineMalformed = "malformed"
	LineEmpty     = "empty"
)

var (
	registerOnce sync.Once

	cacheRequests *prometheus.CounterVec
	chatLines     *prometheus.CounterVec
	events        *prometheus.CounterVec
	stateChanges  *prometheus.CounterVec
	staleEvents   prometheus.Counter
	dupEvents     prometheus.Counter
	tracked       prometheus.Gauge
	tickLatency   prometheus.Histogram
	notifyErrors  *prometheus.CounterVec
)

// Init registers the collectors with the default registry. Safe to call
// more than once; helpers are no-ops until Init has run.
func Init() {
	registerOnce.Do(func() {
		cacheRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_requests_total",
				Help: "Cache lookups by result",
			},
			[]string{"result"},
		)
		chatLines = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "chat_lines_total",
				Help: "Raw chat lines read by source and parse result",
			},
			[]string{"source", "result"},
		)
		events = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_total",
				Help: "Chat events processed by intent",
			},
			[]string{"intent"},
		)
		stateChanges = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "state_changes_total",
				Help: "Location status transitions by new status",
			},
			[]string{"status"},
		)
		staleEvents = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "stale_updates_total",
				Help: "Location updates rejected for an older timestamp",
			},
		)
		dupEvents = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "duplicate_events_total",
				Help: "Chat events dropped as redelivered duplicates",
			},
		)
		tracked = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "tracked_locations",
				Help: "Locations currently tracked by the engine",
			},
		)
		tickLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "decay_tick_seconds",
				Help:    "Decay tick duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		notifyErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notify_errors_total",
				Help: "State change notifications that failed by sink",
			},
			[]string{"sink"},
		)
		prometheus.MustRegister(
			cacheRequests,
			chatLines,
			events,
			stateChanges,
			staleEvents,
			dupEvents,
			tracked,
			tickLatency,
			notifyErrors,
		)
	})
}

func IncCache(result string) {
	if cacheRequests != nil {
		cacheRequests.WithLabelValues(result).Inc()
	}
}

func IncChatLine(source, result string) {
	if source == "" {
		source = "unknown"
	}
	if chatLines != nil {
		chatLines.WithLabelValues(source, result).Inc()
	}
}

func IncEvent(intent string) {
	if events != nil {
		events.WithLabelValues(intent).Inc()
	}
}

func IncStateChange(status string) {
	if stateChanges != nil {
		stateChanges.WithLabelValues(status).Inc()
	}
}

func IncStale() {
	if staleEvents != nil {
		staleEvents.Inc()
	}
}

func IncDuplicate() {
	if dupEvents != nil {
		dupEvents.Inc()
	}
}

func SetTracked(n int) {
	if tracked != nil {
		tracked.Set(float64(n))
	}
}

// ObserveTick records how long one decay pass took.
func ObserveTick(d time.Duration) {
	if tickLatency != nil {
		tickLatency.Observe(d.Seconds())
	}
}

func IncNotifyError(sink string) {
	if sink == "" {
		sink = "unknown"
	}
	if notifyErrors != nil {
		notifyErrors.WithLabelValues(sink).Inc()
	}
}
