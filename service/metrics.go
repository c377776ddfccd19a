package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	relaySuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_transactions_success_total",
		Help: "Total number of successfully relayed transactions",
	})

	relayFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_transactions_failed_total",
		Help: "Total number of failed relay attempts",
	}, []string{"error_type"})

	walletBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relayer_wallet_balance_sol",
		Help: "Current balance of the relayer wallet in SOL",
	}, []string{"public_key"})

	priorityFee = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_priority_fee_microlamports",
		Help: "Last computed priority fee recommendation",
	})

	feeEstimateStale = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_fee_estimate_stale_total",
		Help: "Fee estimates served from the last known value after a fetch error",
	})

	rebroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_rebroadcasts_total",
		Help: "Total number of transaction re-broadcasts",
	})

	challengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_challenges_issued_total",
		Help: "Total number of nonce challenges issued",
	})

	credentialsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_credentials_issued_total",
		Help: "Total number of credentials issued after a verified challenge",
	})
)
