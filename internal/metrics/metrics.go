// Package metrics instruments the gateway with Prometheus counters/gauges/histograms (C-cross-cutting, spec §1
// "single gateway process"). Every metric is process-local; cluster-wide aggregation happens at the scrape layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the gateway registers. One instance per process, threaded into the
// hub (which also runs the fan-out engine) and the resource sampler at construction time.
type Metrics struct {
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	connectionDuration prometheus.Histogram
	connectionsKicked prometheus.Counter

	framesReceived prometheus.Counter
	framesSent     prometheus.Counter
	frameSize      prometheus.Histogram
	framesRejected *prometheus.CounterVec

	dispatchLatency prometheus.Histogram
	dispatchErrors  *prometheus.CounterVec

	fanoutLatency   prometheus.Histogram
	fanoutTargets   prometheus.Histogram
	offlineEnqueued prometheus.Counter

	offlineQueueDepth prometheus.Gauge
	offlineDelivered  prometheus.Counter

	brokerConnected prometheus.Gauge
	brokerReconnects prometheus.Counter

	goroutines  prometheus.Gauge
	cpuPercent  prometheus.Gauge
	memoryRSS   prometheus.Gauge
	onlineUsers prometheus.Gauge
}

// New registers every collector against the default Prometheus registry.
func New() *Metrics {
	return &Metrics{
		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_connections_total",
			Help: "Total number of WebSocket connections accepted.",
		}),
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connections_active",
			Help: "Number of currently open WebSocket connections.",
		}),
		connectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_connection_duration_seconds",
			Help:    "Lifetime of a WebSocket connection from acceptance to close.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		connectionsKicked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_connections_kicked_total",
			Help: "Total number of sessions evicted by a same-device reconnect (KICKED_OFFLINE).",
		}),

		framesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_frames_received_total",
			Help: "Total number of inbound frames decoded successfully.",
		}),
		framesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_frames_sent_total",
			Help: "Total number of outbound frames written to a socket.",
		}),
		frameSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_frame_size_bytes",
			Help:    "Size of decoded inbound frames in bytes.",
			Buckets: []float64{128, 512, 1024, 4096, 16384, 65536},
		}),
		framesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_frames_rejected_total",
			Help: "Total number of inbound frames rejected, by reason.",
		}, []string{"reason"}),

		dispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_dispatch_latency_seconds",
			Help:    "Time from frame decode to handler completion.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		dispatchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_dispatch_errors_total",
			Help: "Total number of handler errors, by error kind.",
		}, []string{"kind"}),

		fanoutLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_fanout_latency_seconds",
			Help:    "Time from event receipt to last target write attempted.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		fanoutTargets: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_fanout_targets",
			Help:    "Number of online targets reached per fan-out event.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		offlineEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_offline_enqueued_total",
			Help: "Total number of offline queue rows requested for offline targets.",
		}),

		offlineQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_offline_queue_depth",
			Help: "Last observed pending-offline row count across an OFFLINE_SYNC batch.",
		}),
		offlineDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_offline_delivered_total",
			Help: "Total number of offline rows sent in OFFLINE_SYNC responses.",
		}),

		brokerConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_broker_connected",
			Help: "1 if the NATS connection is currently up, 0 otherwise.",
		}),
		brokerReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_broker_reconnects_total",
			Help: "Total number of NATS reconnections observed.",
		}),

		goroutines: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_goroutines",
			Help: "Number of live goroutines, sampled periodically.",
		}),
		cpuPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_cpu_percent",
			Help: "Host CPU utilization percentage, sampled periodically.",
		}),
		memoryRSS: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_memory_rss_bytes",
			Help: "Process resident set size in bytes, sampled periodically.",
		}),
		onlineUsers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_online_users",
			Help: "Cluster-wide count of users with at least one authenticated session, sampled periodically.",
		}),
	}
}

func (m *Metrics) ConnectionAccepted() { m.connectionsTotal.Inc(); m.connectionsActive.Inc() }
func (m *Metrics) ConnectionClosed(lifetime time.Duration) {
	m.connectionsActive.Dec()
	m.connectionDuration.Observe(lifetime.Seconds())
}
func (m *Metrics) ConnectionKicked() { m.connectionsKicked.Inc() }

func (m *Metrics) FrameReceived(size int) {
	m.framesReceived.Inc()
	m.frameSize.Observe(float64(size))
}
func (m *Metrics) FrameSent()              { m.framesSent.Inc() }
func (m *Metrics) FrameRejected(reason string) { m.framesRejected.WithLabelValues(reason).Inc() }

func (m *Metrics) DispatchObserved(latency time.Duration) { m.dispatchLatency.Observe(latency.Seconds()) }
func (m *Metrics) DispatchError(kind string)               { m.dispatchErrors.WithLabelValues(kind).Inc() }

func (m *Metrics) FanoutObserved(latency time.Duration, targets int) {
	m.fanoutLatency.Observe(latency.Seconds())
	m.fanoutTargets.Observe(float64(targets))
}
func (m *Metrics) OfflineEnqueued(count int) { m.offlineEnqueued.Add(float64(count)) }

func (m *Metrics) OfflineQueueDepthObserved(depth int) { m.offlineQueueDepth.Set(float64(depth)) }
func (m *Metrics) OfflineDelivered(count int)          { m.offlineDelivered.Add(float64(count)) }

func (m *Metrics) SetBrokerConnected(connected bool) {
	if connected {
		m.brokerConnected.Set(1)
	} else {
		m.brokerConnected.Set(0)
	}
}
func (m *Metrics) BrokerReconnected() { m.brokerReconnects.Inc() }

func (m *Metrics) SetGoroutines(n int)       { m.goroutines.Set(float64(n)) }
func (m *Metrics) SetCPUPercent(pct float64) { m.cpuPercent.Set(pct) }
func (m *Metrics) SetMemoryRSS(bytes uint64) { m.memoryRSS.Set(float64(bytes)) }
func (m *Metrics) SetOnlineUsers(n int)      { m.onlineUsers.Set(float64(n)) }
