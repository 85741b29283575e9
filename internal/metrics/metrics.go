package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsInitiated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_initiated_total",
		Help: "Calls created, by call type and entry point",
	}, []string{"call_type", "mode"})

	CallTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_transitions_total",
		Help: "Call status transitions, by resulting status",
	}, []string{"status"})

	CoinsBilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_coins_billed_total",
		Help: "Coins debited from callers at settlement",
	}, []string{"call_type"})

	BillingShortfalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_billing_shortfalls_total",
		Help: "Settlements where the caller balance could not cover the charge",
	})

	MatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "match_outcomes_total",
		Help: "Random match attempts, by tier chosen or failure reason",
	}, []string{"outcome"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Outbox deliveries, by channel and result",
	}, []string{"channel", "result"})

	OutboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notification_outbox_pending",
		Help: "Outbox rows still waiting for delivery",
	})

	BusyFlagsRepaired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_busy_repairs_total",
		Help: "Busy flags corrected by the presence job",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests served, by route pattern and status code",
	}, []string{"route", "status"})
)
