// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import "github.com/prometheus/client_golang/prometheus"

var (
	transactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benchtop_transactions_total",
			Help: "Commands handled by the transaction engine, by result",
		},
		[]string{"instrument", "opcode", "result"},
	)

	transactionSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "benchtop_transaction_seconds",
			Help:    "Time a command held the bus",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"instrument"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benchtop_notifications_total",
			Help: "Service requests seen by the notification handler, by outcome",
		},
		[]string{"instrument", "outcome"},
	)

	readingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "benchtop_readings_total",
			Help: "Readings harvested, by outcome",
		},
		[]string{"instrument", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(transactionsTotal)
	prometheus.MustRegister(transactionSeconds)
	prometheus.MustRegister(notificationsTotal)
	prometheus.MustRegister(readingsTotal)
}
