// Package metrics exposes connectord's internal counters and histograms
// to Prometheus. Instrumentation is gated entirely behind
// cfg.PrometheusEnabled: when disabled, Registry's methods are safe
// no-ops so call sites never need a nil check, mirroring the teacher's
// convention of a monitoring package that degrades to cheap no-ops
// rather than branching at every call site.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every Prometheus collector connectord registers. A
// disabled Registry (New with enabled=false) holds a nil *prometheus.Registry
// and every recording method becomes a no-op.
type Registry struct {
	enabled bool
	reg     *prometheus.Registry

	packetsReceived  *prometheus.CounterVec
	packetsForwarded *prometheus.CounterVec
	packetsRejected  *prometheus.CounterVec

	settlementAttempts *prometheus.CounterVec
	settlementDuration *prometheus.HistogramVec

	fraudStrikes  *prometheus.CounterVec
	peersPaused   prometheus.Counter

	btpReconnects  *prometheus.CounterVec
	btpConnState   *prometheus.GaugeVec

	ledgerAccounts prometheus.GaugeFunc
}

// New builds a Registry. When enabled is false (PROMETHEUS_ENABLED unset
// or false) every collector is left nil and recording calls are no-ops,
// so callers never need to branch on whether metrics are turned on.
func New(enabled bool) *Registry {
	r := &Registry{enabled: enabled}
	if !enabled {
		return r
	}

	r.reg = prometheus.NewRegistry()
	factory := promauto.With(r.reg)

	r.packetsReceived = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectord",
		Name:      "packets_received_total",
		Help:      "ILP PREPARE packets received, by originating peer.",
	}, []string{"peer"})

	r.packetsForwarded = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectord",
		Name:      "packets_forwarded_total",
		Help:      "ILP PREPARE packets successfully forwarded, by originating peer.",
	}, []string{"peer"})

	r.packetsRejected = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectord",
		Name:      "packets_rejected_total",
		Help:      "ILP PREPARE packets rejected, by ILP error code.",
	}, []string{"code"})

	r.settlementAttempts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectord",
		Name:      "settlement_attempts_total",
		Help:      "Settlement attempts, by method and outcome (completed|failed).",
	}, []string{"method", "outcome"})

	r.settlementDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "connectord",
		Name:      "settlement_duration_seconds",
		Help:      "Time from settlement trigger to completion or failure, by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	r.fraudStrikes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectord",
		Name:      "fraud_strikes_total",
		Help:      "Suspicious-activity strikes recorded, by rule name.",
	}, []string{"rule"})

	r.peersPaused = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "connectord",
		Name:      "peers_paused_total",
		Help:      "Peers paused by the fraud detector.",
	})

	r.btpReconnects = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectord",
		Name:      "btp_reconnects_total",
		Help:      "BTP endpoint reconnect attempts, by peer.",
	}, []string{"peer"})

	r.btpConnState = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "connectord",
		Name:      "btp_connection_state",
		Help:      "Current BTP connection state per peer (0=disconnected,1=connecting,2=authenticating,3=ready).",
	}, []string{"peer"})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "connectord",
		Name:      "build_info",
		Help:      "Always 1, a label carrier for build metadata.",
	}, func() float64 { return 1 })

	return r
}

// SetAccountGauge wires a GaugeFunc backed by the ledger's live account
// count. Called once during startup wiring, after the ledger exists.
func (r *Registry) SetAccountGauge(fn func() float64) {
	if !r.enabled {
		return
	}
	r.ledgerAccounts = promauto.With(r.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "connectord",
		Name:      "ledger_accounts",
		Help:      "Number of peer accounts currently tracked by the ledger.",
	}, fn)
}

func (r *Registry) PacketReceived(peer string) {
	if !r.enabled {
		return
	}
	r.packetsReceived.WithLabelValues(peer).Inc()
}

func (r *Registry) PacketForwarded(peer string) {
	if !r.enabled {
		return
	}
	r.packetsForwarded.WithLabelValues(peer).Inc()
}

func (r *Registry) PacketRejected(code string) {
	if !r.enabled {
		return
	}
	r.packetsRejected.WithLabelValues(code).Inc()
}

func (r *Registry) SettlementAttempt(method, outcome string, durationSeconds float64) {
	if !r.enabled {
		return
	}
	r.settlementAttempts.WithLabelValues(method, outcome).Inc()
	r.settlementDuration.WithLabelValues(method).Observe(durationSeconds)
}

func (r *Registry) FraudStrike(rule string) {
	if !r.enabled {
		return
	}
	r.fraudStrikes.WithLabelValues(rule).Inc()
}

func (r *Registry) PeerPaused() {
	if !r.enabled {
		return
	}
	r.peersPaused.Inc()
}

func (r *Registry) BTPReconnect(peer string) {
	if !r.enabled {
		return
	}
	r.btpReconnects.WithLabelValues(peer).Inc()
}

func (r *Registry) BTPConnState(peer string, state int) {
	if !r.enabled {
		return
	}
	r.btpConnState.WithLabelValues(peer).Set(float64(state))
}

// Handler returns the /metrics HTTP handler. Returns nil when metrics
// are disabled; callers must check before registering it.
func (r *Registry) Handler() http.Handler {
	if !r.enabled {
		return nil
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Enabled reports whether this Registry is actually recording.
func (r *Registry) Enabled() bool { return r.enabled }
