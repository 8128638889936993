package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Subscriptions
	SubscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livequery_subscriptions_active",
		Help: "The number of registered subscriptions",
	})

	FiltersCompiled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livequery_filters_compiled_total",
		Help: "The total number of compiled filters",
	}, []string{"result"})

	// Matching
	DocumentsMatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livequery_documents_matched_total",
		Help: "The total number of documents evaluated against subscriptions",
	}, []string{"index"})

	MatchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livequery_match_latency_seconds",
		Help:    "The latency of matching one document",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{"index"})

	// Notifications
	NotificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livequery_notifications_sent_total",
		Help: "The total number of notifications handed to the connection layer",
	}, []string{"type", "scope"})

	NotificationsVetoed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livequery_notifications_vetoed_total",
		Help: "The total number of notifications dropped by a pipe",
	}, []string{"type"})

	DispatchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livequery_dispatch_errors_total",
		Help: "The total number of failed notification dispatches",
	}, []string{"type"})

	// Cache
	CacheOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livequery_cache_operations_total",
		Help: "The total number of notification cache operations",
	}, []string{"op"})

	CacheErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livequery_cache_errors_total",
		Help: "The total number of notification cache errors",
	}, []string{"op"})

	// Cluster
	ClusterEnvelopes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livequery_cluster_envelopes_total",
		Help: "The total number of notification envelopes exchanged with peers",
	}, []string{"direction"})

	// Ingest
	ChangeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livequery_change_events_total",
		Help: "The total number of consumed document change events",
	}, []string{"action"})

	ChangeEventErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livequery_change_event_errors_total",
		Help: "The total number of change events that could not be processed",
	})

	// Connections
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livequery_connections_active",
		Help: "The number of open realtime connections",
	})

	// HTTP
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livequery_http_requests_total",
		Help: "The total number of HTTP requests by status class",
	}, []string{"class"})
)

func init() {
	prometheus.MustRegister(SubscriptionsActive)
	prometheus.MustRegister(FiltersCompiled)
	prometheus.MustRegister(DocumentsMatched)
	prometheus.MustRegister(MatchLatency)
	prometheus.MustRegister(NotificationsSent)
	prometheus.MustRegister(NotificationsVetoed)
	prometheus.MustRegister(DispatchErrors)
	prometheus.MustRegister(CacheOperations)
	prometheus.MustRegister(CacheErrors)
	prometheus.MustRegister(ClusterEnvelopes)
	prometheus.MustRegister(ChangeEvents)
	prometheus.MustRegister(ChangeEventErrors)
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(HTTPRequests)
}
