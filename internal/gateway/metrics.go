package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var gatewayInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "herbledger_gateway_invocations_total",
	Help: "Contract invocations made by the gateway, by function, path and result.",
}, []string{"function", "path", "result"})

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
