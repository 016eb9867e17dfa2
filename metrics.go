package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studentsnet_login_failures_total",
		Help: "Failed login attempts (wrong password or unknown account).",
	})
	accountLockoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studentsnet_account_lockouts_total",
		Help: "Accounts locked after repeated failed logins.",
	})
	blacklistRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studentsnet_blacklist_rejections_total",
		Help: "Requests rejected because the source address is blacklisted.",
	})
	suspiciousTrafficTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studentsnet_suspicious_traffic_total",
		Help: "Requests flagged by the automated-traffic heuristic (advisory).",
	})
	sessionMismatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studentsnet_session_mismatch_total",
		Help: "Session consistency failures by kind (origin, signature, invalid).",
	}, []string{"kind"})
	webhookRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studentsnet_webhook_rejections_total",
		Help: "Gateway callbacks rejected for a bad HMAC signature.",
	})
	paymentTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studentsnet_payment_transitions_total",
		Help: "Payment transaction transitions by channel and resulting status.",
	}, []string{"channel", "status"})
)
