package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatecheck_scans_total",
		Help: "Resolved scan attempts by kind and outcome.",
	}, []string{"kind", "outcome"})

	scanFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatecheck_scan_failures_total",
		Help: "Scan attempts that failed on infrastructure and produced no audit entry.",
	}, []string{"kind"})
)
