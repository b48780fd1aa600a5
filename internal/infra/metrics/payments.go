package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		linksCreatedTotal,
		linkTransitionsTotal,
		webhookEventsTotal,
	)
}

var (
	linksCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_links_created_total",
			Help: "Payment links created at the provider and persisted as PENDING.",
		},
	)

	linkTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_link_transitions_total",
			Help: "Terminal transitions by resulting status and source (webhook/manual/reaper/lazy).",
		},
		[]string{"status", "source"},
	)

	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Webhook deliveries by outcome (processed/replay/rejected/ignored/...).",
		},
		[]string{"result"},
	)
)

func IncLinkCreated() {
	linksCreatedTotal.Inc()
}

func IncLinkTransition(status, source string) {
	linkTransitionsTotal.WithLabelValues(norm(status), norm(source)).Inc()
}

func IncWebhookEvent(result string) {
	webhookEventsTotal.WithLabelValues(norm(result)).Inc()
}

func norm(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.ToLower(s)
}
