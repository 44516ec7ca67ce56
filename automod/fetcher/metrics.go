package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forgeguard_fetch_pages",
	Help: "Number of account pages fetched from the forge",
}, []string{"sort"})

var fetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forgeguard_fetch_errors",
	Help: "Number of failed account page fetches (each retry counts)",
}, []string{"sort"})

var fetchAbandoned = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forgeguard_fetch_cycles_abandoned",
	Help: "Number of fetch cycles given up after exhausting retries",
}, []string{"sort"})

var accountsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forgeguard_fetch_accounts",
	Help: "Number of accounts yielded by the fetcher",
}, []string{"sort"})

var budgetRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forgeguard_budget_requests",
	Help: "Requests spent against a request budget",
}, []string{"budget"})

var budgetWaits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forgeguard_budget_waits",
	Help: "Number of times a request budget ran out and waited a full window",
}, []string{"budget"})
