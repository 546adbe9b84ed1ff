package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkin_sessions_started_total",
		Help: "Check-in sessions opened by issuers.",
	})
	checkIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_redemptions_total",
		Help: "Code redemption attempts by outcome.",
	}, []string{"result"})
)
