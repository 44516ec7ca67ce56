package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var accountsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forgeguard_accounts_processed",
	Help: "Number of accounts run through the moderation pipeline, by result",
}, []string{"result"})

var alertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forgeguard_alerts_sent",
	Help: "Number of alerts handed to the chat front-end",
}, []string{"kind"})

var banCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forgeguard_bans",
	Help: "Number of ban calls made, by origin and action (or error)",
}, []string{"origin", "action"})

var actionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forgeguard_moderator_actions",
	Help: "Number of moderator actions received from chat, by outcome",
}, []string{"action", "outcome"})

var pollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "forgeguard_poll_duration_sec",
	Help:    "Duration of a poll cycle including processing",
	Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
}, []string{"poller"})
