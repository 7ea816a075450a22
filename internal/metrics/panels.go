package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		panelLoginsTotal,
		panelRequestsTotal,
		priceQuotesTotal,
	)
}

var (
	panelLoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_logins_total",
			Help: "Panel session logins by server and result.",
		},
		[]string{"server", "result"},
	)

	panelRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_requests_total",
			Help: "Panel API calls by server, operation and result.",
		},
		[]string{"server", "op", "result"},
	)

	priceQuotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_quotes_total",
			Help: "Price quotes served per server.",
		},
		[]string{"server"},
	)
)

func IncPanelLogin(server string, ok bool) {
	panelLoginsTotal.WithLabelValues(norm(server), result(ok)).Inc()
}

func IncPanelRequest(server, op string, ok bool) {
	panelRequestsTotal.WithLabelValues(norm(server), norm(op), result(ok)).Inc()
}

func IncQuote(server string) {
	priceQuotesTotal.WithLabelValues(norm(server)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
