package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "flowmon_"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	readingsTotal     *prometheus.CounterVec
	leakEventsTotal   *prometheus.CounterVec
	commandsTotal     *prometheus.CounterVec
	ingestTotal       *prometheus.CounterVec
	publishErrors     *prometheus.CounterVec
	broadcastDropped  prometheus.Counter
	liveConnections   prometheus.Gauge
	generatorDuration prometheus.Histogram
	httpRequests      *prometheus.CounterVec
)

// Init registers the service metrics with the default registry
func Init() {
	registerOnce.Do(func() {
		readingsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_total",
				Help: "Total recorded readings by source",
			},
			[]string{"source"},
		)
		leakEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "leak_events_total",
				Help: "Total leak event transitions by event and severity",
			},
			[]string{"event", "severity"},
		)
		commandsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_total",
				Help: "Total live channel commands by type and result",
			},
			[]string{"type", "result"},
		)
		ingestTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_messages_total",
				Help: "Total queued reading messages by source and result",
			},
			[]string{"source", "result"},
		)
		publishErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_publish_errors_total",
				Help: "Total failed event deliveries by event type",
			},
			[]string{"type"},
		)
		broadcastDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcast_dropped_total",
				Help: "Total live messages dropped because a connection could not accept them",
			},
		)
		liveConnections = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "live_connections",
				Help: "Currently registered live connections",
			},
		)
		generatorDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "generator_tick_seconds",
				Help:    "Reading generator tick duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total REST requests by method and status",
			},
			[]string{"method", "status"},
		)

		prometheus.MustRegister(
			readingsTotal,
			leakEventsTotal,
			commandsTotal,
			ingestTotal,
			publishErrors,
			broadcastDropped,
			liveConnections,
			generatorDuration,
			httpRequests,
		)
	})
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// IncReading counts a recorded reading
func IncReading(source string) {
	if readingsTotal != nil {
		readingsTotal.WithLabelValues(orUnknown(source)).Inc()
	}
}

// IncLeakEvent counts a leak event transition such as detected or resolved
func IncLeakEvent(event, severity string) {
	if leakEventsTotal != nil {
		leakEventsTotal.WithLabelValues(orUnknown(event), orUnknown(severity)).Inc()
	}
}

// IncCommand counts a dispatched live channel command
func IncCommand(commandType, result string) {
	if result == "" {
		result = ResultSuccess
	}
	if commandsTotal != nil {
		commandsTotal.WithLabelValues(orUnknown(commandType), result).Inc()
	}
}

// IncIngest counts a queued reading message
func IncIngest(source, result string) {
	if result == "" {
		result = ResultSuccess
	}
	if ingestTotal != nil {
		ingestTotal.WithLabelValues(orUnknown(source), result).Inc()
	}
}

// IncPublishError counts a failed event delivery
func IncPublishError(eventType string) {
	if publishErrors != nil {
		publishErrors.WithLabelValues(orUnknown(eventType)).Inc()
	}
}

// IncBroadcastDropped counts a message that could not be queued for a connection
func IncBroadcastDropped() {
	if broadcastDropped != nil {
		broadcastDropped.Inc()
	}
}

// SetLiveConnections sets the live connection gauge
func SetLiveConnections(n int) {
	if liveConnections != nil {
		liveConnections.Set(float64(n))
	}
}

// ObserveGeneratorTick records one generator tick
func ObserveGeneratorTick(duration time.Duration) {
	if generatorDuration != nil {
		generatorDuration.Observe(duration.Seconds())
	}
}

// IncHTTPRequest counts a served REST request
func IncHTTPRequest(method string, status int) {
	if httpRequests != nil {
		httpRequests.WithLabelValues(methodLabel(method), http.StatusText(status)).Inc()
	}
}

func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodConnect, http.MethodOptions, http.MethodTrace:
		return method
	}
	return "OTHER"
}
