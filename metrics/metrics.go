// Package metrics holds the Prometheus collectors of the custody service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omnibus_custody/apperr"
)

var (
	WithdrawalOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_withdrawal_ops_total",
		Help: "Withdrawal workflow operations by outcome.",
	}, []string{"op", "result"})

	ColdOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_cold_ops_total",
		Help: "Cold vault operations by outcome.",
	}, []string{"op", "result"})

	IngestedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_ingested_events_total",
		Help: "Deposit/withdraw events seen by the listener.",
	}, []string{"type", "result"})

	ListenerReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custody_listener_reconnects_total",
		Help: "Listener subscription restarts.",
	})

	// ListenerState is 0 stopped, 1 listening, 2 reconnect pending.
	ListenerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custody_listener_state",
		Help: "Current listener state.",
	})

	KeyCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custody_keycache_entries",
		Help: "User keys in the current key cache snapshot.",
	})
)

// Result is the result label for err.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
