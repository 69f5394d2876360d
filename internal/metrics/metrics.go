package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crucible_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crucible_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ClientConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crucible_ws_client_connections",
		Help: "Browser WebSocket connections currently open",
	})

	ContainerConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crucible_ws_container_connections",
		Help: "Container WebSocket connections currently open",
	})

	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crucible_messages_total",
		Help: "Messages persisted, by role",
	}, []string{"role"})

	ContainerStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crucible_container_starts_total",
		Help: "Successful sandbox container starts",
	})

	ContainerStartsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crucible_container_starts_failed_total",
		Help: "Failed sandbox container start attempts",
	})

	ContainersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crucible_containers_running",
		Help: "Sandbox containers currently registered",
	})

	ContainersReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crucible_containers_reaped_total",
		Help: "Containers stopped by the idle reaper",
	})

	PendingMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crucible_pending_messages",
		Help: "Messages stashed while a container starts",
	})
)
