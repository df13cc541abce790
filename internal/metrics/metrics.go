// Package metrics holds the prometheus collectors for the marketplace.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const pre = "wastex_"

var (
	// Transitions counts status changes per entity and target status.
	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "transitions_total",
		Help: "Lifecycle status changes.",
	}, []string{"entity", "status"})

	// Rejections counts operations refused with a domain error code.
	Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "rejections_total",
		Help: "Operations refused, by error code.",
	}, []string{"entity", "code"})

	LedgerCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "ledger_calls_total",
		Help: "Signature ledger calls by method and outcome.",
	}, []string{"method", "outcome"})

	EscrowVolume = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "escrow_amount_total",
		Help: "Money moved through escrow, by stage and currency.",
	}, []string{"stage", "currency"})

	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "notifications_total",
		Help: "Notifications delivered, by channel and outcome.",
	}, []string{"channel", "outcome"})
)

func init() {
	prometheus.MustRegister(Transitions, Rejections, LedgerCalls, EscrowVolume, Notifications)
}

// Transition records a status change.
func Transition(entity, status string) {
	Transitions.WithLabelValues(entity, status).Inc()
}

// Handler serves the default registry.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
