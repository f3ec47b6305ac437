package monitoring

import (
	"context"
	"time"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"
	pkgerrors "meetsfu/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports orchestrator, signaling and media handle
// metrics. It implements ports.SessionMetrics, ports.RoomEvents and the
// signaling server's Metrics.
type PrometheusCollector struct {
	sessionsActive    prometheus.Gauge
	connectionsActive prometheus.Gauge
	roomsActive       prometheus.Gauge
	peersJoined       prometheus.Gauge

	requestsTotal        *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
	transportTimeouts    prometheus.Counter
	notificationsDropped *prometheus.CounterVec
	connectionsRejected  *prometheus.CounterVec

	handlesActive  *prometheus.GaugeVec
	handlesCreated *prometheus.CounterVec
}

// NewPrometheusCollector registers the metrics with reg, or with the default
// registerer when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetsfu_sessions_active",
			Help: "Number of open signaling sessions",
		}),

		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetsfu_signal_connections_active",
			Help: "Number of open websocket connections",
		}),

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetsfu_rooms_active",
			Help: "Number of live rooms",
		}),

		peersJoined: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetsfu_peers_joined",
			Help: "Number of peers that are members of a room",
		}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsfu_signal_requests_total",
			Help: "Signaling requests by method and result code",
		}, []string{"method", "code"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meetsfu_signal_request_duration_seconds",
			Help:    "Duration of signaling requests",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method"}),

		transportTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetsfu_transport_connect_timeouts_total",
			Help: "Transports closed because they did not connect in time",
		}),

		notificationsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsfu_notifications_dropped_total",
			Help: "Notifications dropped because the peer's send queue was full",
		}, []string{"method"}),

		connectionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsfu_signal_connections_rejected_total",
			Help: "Websocket connections refused before upgrade",
		}, []string{"reason"}),

		handlesActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meetsfu_media_handles_active",
			Help: "Live media engine handles by kind",
		}, []string{"kind"}),

		handlesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsfu_media_handles_created_total",
			Help: "Media engine handles created by kind",
		}, []string{"kind"}),
	}
}

func (p *PrometheusCollector) RecordRequest(method string, err error, duration time.Duration) {
	code := "OK"
	if err != nil {
		code = string(pkgerrors.FromDomain(err).Code)
	}
	p.requestsTotal.WithLabelValues(method, code).Inc()
	p.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordTransportTimeout() {
	p.transportTimeouts.Inc()
}

func (p *PrometheusCollector) SetSessions(n int) {
	p.sessionsActive.Set(float64(n))
}

func (p *PrometheusCollector) SetConnections(n int) {
	p.connectionsActive.Set(float64(n))
}

func (p *PrometheusCollector) NotificationDropped(method string) {
	p.notificationsDropped.WithLabelValues(method).Inc()
}

func (p *PrometheusCollector) ConnectionRejected(reason string) {
	p.connectionsRejected.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RoomCreated(context.Context, domain.RoomID) {
	p.roomsActive.Inc()
}

func (p *PrometheusCollector) RoomClosed(context.Context, domain.RoomID) {
	p.roomsActive.Dec()
}

func (p *PrometheusCollector) PeerJoined(context.Context, domain.RoomID, domain.PeerID) {
	p.peersJoined.Inc()
}

func (p *PrometheusCollector) PeerLeft(context.Context, domain.RoomID, domain.PeerID) {
	p.peersJoined.Dec()
}

// RecordLifecycle tracks media handle gauges. Pass it to the registry's
// OnChange.
func (p *PrometheusCollector) RecordLifecycle(ev ports.LifecycleEvent) {
	kind := string(ev.Kind)
	switch ev.Action {
	case ports.LifecycleNew:
		p.handlesActive.WithLabelValues(kind).Inc()
		p.handlesCreated.WithLabelValues(kind).Inc()
	case ports.LifecycleClosed:
		p.handlesActive.WithLabelValues(kind).Dec()
	}
}
