package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		reaperRunsTotal,
		reaperExpiredTotal,
		reaperLastSuccess,
	)
}

var (
	reaperRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reaper_runs_total",
			Help: "Stale-link reaper sweeps by outcome.",
		},
		[]string{"outcome"},
	)

	reaperExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reaper_links_expired_total",
			Help: "PENDING links force-expired by the reaper.",
		},
	)

	reaperLastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reaper_last_success_timestamp_seconds",
			Help: "Unix time of the last successful reaper sweep.",
		},
	)
)

func IncReaperRun(outcome string) {
	reaperRunsTotal.WithLabelValues(norm(outcome)).Inc()
}

func AddReaperExpired(n int) {
	reaperExpiredTotal.Add(float64(n))
}

func SetReaperLastSuccess(t time.Time) {
	reaperLastSuccess.Set(float64(t.Unix()))
}
