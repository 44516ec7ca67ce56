package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "forgeguard_build_info",
	Help: "Always 1, labelled with the running version",
}, []string{"version"})

var tasksRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "forgeguard_tasks_running",
	Help: "Long-lived tasks currently running, by task",
}, []string{"task"})
