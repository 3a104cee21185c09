package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		paymentVerifyTotal,
		fulfillmentTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payments by method and status (initiated/succeeded/failed).",
		},
		[]string{"method", "status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "The total monetary value of successful gateway payments, labeled by currency.",
		},
		[]string{"currency"},
	)

	// result: succeeded|failed|replayed|pending
	paymentVerifyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verify_total",
			Help: "Payment verifications by result.",
		},
		[]string{"result"},
	)

	// kind: device|credit, result: done|failed
	fulfillmentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_fulfillment_total",
			Help: "Post-payment fulfillment attempts by kind and result.",
		},
		[]string{"kind", "result"},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncPayment(method, status string) {
	paymentsTotal.WithLabelValues(norm(method), norm(status)).Inc()
}

func AddPaymentRevenue(currency string, amount int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func IncPaymentVerify(result string) {
	paymentVerifyTotal.WithLabelValues(norm(result)).Inc()
}

func IncFulfillment(kind, result string) {
	fulfillmentTotal.WithLabelValues(norm(kind), norm(result)).Inc()
}
