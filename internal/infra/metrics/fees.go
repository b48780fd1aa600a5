package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		platformFeeTotal,
		feeFallbackTotal,
	)
}

var (
	platformFeeTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "platform_fee_revenue_total",
			Help: "Total platform fee collected on settled links, in INR.",
		},
	)

	feeFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fee_calculation_level_total",
			Help: "Fee computations by chain level (service/tenant_override/default_percentage).",
		},
		[]string{"level"},
	)
)

func AddPlatformFee(amount float64) {
	platformFeeTotal.Add(amount)
}

func IncFeeFallback(level string) {
	feeFallbackTotal.WithLabelValues(norm(level)).Inc()
}
