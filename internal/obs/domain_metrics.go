package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutInitiationsTotal counts checkout initiations by outcome.
	CheckoutInitiationsTotal *prometheus.CounterVec
	// OrderCreateAttemptsTotal counts individual order batch creation attempts.
	OrderCreateAttemptsTotal *prometheus.CounterVec
	// CouponAppliedTotal counts coupon resolution outcomes during checkout.
	CouponAppliedTotal *prometheus.CounterVec
	// IntentLinkFailuresTotal counts intents left unlinked after orders were created.
	IntentLinkFailuresTotal prometheus.Counter
	// GatewayOrdersTotal counts payment gateway session creation outcomes.
	GatewayOrdersTotal *prometheus.CounterVec
	// GatewayLatency records gateway call latency in milliseconds.
	GatewayLatency *prometheus.HistogramVec
	// RateLimitedTotal counts requests rejected by the checkout rate limiter.
	RateLimitedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers checkout Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutInitiationsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_initiations_total",
			Help:      "Count of checkout initiations by result.",
		}, []string{"result"}))
		OrderCreateAttemptsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_create_attempts_total",
			Help:      "Count of order batch creation attempts by result.",
		}, []string{"result"}))
		CouponAppliedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_applied_total",
			Help:      "Count of coupon outcomes during checkout.",
		}, []string{"result"}))
		IntentLinkFailuresTotal = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intent_link_failures_total",
			Help:      "Number of intents that failed to link after orders were created.",
		}))
		GatewayOrdersTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_orders_total",
			Help:      "Count of payment gateway order creations by provider and result.",
		}, []string{"provider", "result"}))
		GatewayLatency = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_ms",
			Help:      "Latency of payment gateway calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"provider", "op"}))
		RateLimitedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter by route.",
		}, []string{"route"}))
	})
}
