package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "plebwallet"

var (
	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "wallet",
		Name:      "redemptions_total",
		Help:      "Token redemptions by result.",
	}, []string{"result"})

	RedeemedSats = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "wallet",
		Name:      "redeemed_sats_total",
		Help:      "Value received through redemptions.",
	})

	WalletBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "wallet",
		Name:      "balance_sats",
		Help:      "Spendable balance on the primary mint.",
	})

	Payouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payout",
		Name:      "attempts_total",
		Help:      "Lightning payouts by result.",
	}, []string{"result"})

	PaidSats = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payout",
		Name:      "paid_sats_total",
		Help:      "Net value paid out over lightning.",
	})

	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "failures_total",
		Help:      "Rejected admin authorization headers by reason.",
	}, []string{"reason"})

	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "runs_total",
		Help:      "Conversation runs by outcome.",
	}, []string{"outcome"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
