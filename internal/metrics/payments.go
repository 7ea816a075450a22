package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhooksTotal,
		provisioningTotal,
		paymentsRevenueTotal,
	)
}

var (
	webhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_total",
			Help: "Inbound payment notifications by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	provisioningTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_total",
			Help: "Provisioning decisions by provider and action (create/renew/duplicate/failed).",
		},
		[]string{"provider", "action"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_rub_total",
			Help: "Confirmed payment amounts in RUB by provider.",
		},
		[]string{"provider"},
	)
)

func IncWebhook(provider, outcome string) {
	webhooksTotal.WithLabelValues(norm(provider), norm(outcome)).Inc()
}

func IncProvisioning(provider, action string) {
	provisioningTotal.WithLabelValues(norm(provider), norm(action)).Inc()
}

func AddRevenue(provider string, amount int) {
	if amount <= 0 {
		return
	}
	paymentsRevenueTotal.WithLabelValues(norm(provider)).Add(float64(amount))
}
