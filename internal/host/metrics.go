package host

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	invocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herbledger_host_invocations_total",
		Help: "Contract invocations by function, path (submit|evaluate) and result.",
	}, []string{"function", "path", "result"})

	commitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "herbledger_host_commits_total",
		Help: "Transactions committed to the state store.",
	})

	txlogFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "herbledger_host_txlog_failures_total",
		Help: "Committed transactions that could not be appended to the commit log.",
	})

	submitQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "herbledger_host_submit_queue_depth",
		Help: "Submissions waiting for the ordered committer.",
	})
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
