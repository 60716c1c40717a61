// Package metrics exposes the server's Prometheus gauges and counters,
// following the teacher's promauto registration style.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveConnections tracks live connections currently open on the
	// server, regardless of authentication phase.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orwell_active_connections",
		Help: "Number of currently open connections",
	})

	// HandshakesTotal counts completed Kyber Double Ratchet handshakes by
	// outcome (spec §4.3).
	HandshakesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orwell_handshakes_total",
		Help: "Total number of KDR handshakes completed",
	}, []string{"result"}) // ok, failed

	// RatchetStepsTotal counts chain steps by trigger (spec §4.3).
	RatchetStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orwell_ratchet_steps_total",
		Help: "Total number of ratchet chain steps performed",
	}, []string{"trigger"}) // bernoulli

	// ReplayRejectionsTotal counts packets dropped by the anti-replay cache
	// or freshness window (spec §4.2).
	ReplayRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orwell_replay_rejections_total",
		Help: "Total number of packets rejected as stale or replayed",
	}, []string{"reason"}) // the server records every Replay-kind failure as "rejected"

	// AuthAttemptsTotal counts Register/Login outcomes (spec §4.5, §4.6).
	AuthAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orwell_auth_attempts_total",
		Help: "Total number of Register/Login attempts",
	}, []string{"kind", "result"}) // register|login, success|failure

	// MessagesRelayedTotal counts per-recipient group-message fan-out
	// (spec §4.4).
	MessagesRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orwell_messages_relayed_total",
		Help: "Total number of per-recipient message deliveries",
	}, []string{"inner_type"})

	// RosterSize is the number of identities currently online or afk
	// (spec §3 "Roster").
	RosterSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orwell_roster_size",
		Help: "Number of roster members currently online or afk",
	})

	// HistoryRowsStoredTotal counts persisted message rows (spec §4.7).
	HistoryRowsStoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orwell_history_rows_stored_total",
		Help: "Total number of history rows persisted",
	})
)

// RecordHandshake records a completed or failed KDR handshake.
func RecordHandshake(ok bool) {
	if ok {
		HandshakesTotal.WithLabelValues("ok").Inc()
		return
	}
	HandshakesTotal.WithLabelValues("failed").Inc()
}

// RecordRatchetStep records a chain step by its trigger.
func RecordRatchetStep(trigger string) {
	RatchetStepsTotal.WithLabelValues(trigger).Inc()
}

// RecordReplayRejection records a dropped packet by reason.
func RecordReplayRejection(reason string) {
	ReplayRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordAuthAttempt records a Register or Login outcome.
func RecordAuthAttempt(kind string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	AuthAttemptsTotal.WithLabelValues(kind, result).Inc()
}

// RecordMessageRelayed records one per-recipient group-message delivery.
func RecordMessageRelayed(innerType string) {
	MessagesRelayedTotal.WithLabelValues(innerType).Inc()
}

// Handler returns the HTTP handler Prometheus scrapes metrics from.
func Handler() http.Handler {
	return promhttp.Handler()
}
