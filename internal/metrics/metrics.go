package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reserveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockpilot",
		Name:      "stock_reserve_total",
		Help:      "Reserve calls by result.",
	}, []string{"result"})

	finalizeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockpilot",
		Name:      "stock_finalize_total",
		Help:      "Finalize calls by result.",
	}, []string{"result"})

	releaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockpilot",
		Name:      "stock_release_total",
		Help:      "Release calls by result.",
	}, []string{"result"})

	driftTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stockpilot",
		Name:      "stock_drift_total",
		Help:      "Counter drifts repaired by reconciliation.",
	})

	reconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stockpilot",
		Name:      "reconcile_task_duration_seconds",
		Help:      "Duration of reconciliation task runs.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"task"})
)

// ObserveReserve 记录预占结果
func ObserveReserve(result string) {
	reserveTotal.WithLabelValues(result).Inc()
}

// ObserveFinalize 记录扣减结果
func ObserveFinalize(result string) {
	finalizeTotal.WithLabelValues(result).Inc()
}

// ObserveRelease 记录释放结果
func ObserveRelease(result string) {
	releaseTotal.WithLabelValues(result).Inc()
}

// ObserveDrift 记录一次漂移修复
func ObserveDrift() {
	driftTotal.Inc()
}

// ObserveReconcile 记录对账任务耗时
func ObserveReconcile(task string, started time.Time) {
	reconcileDuration.WithLabelValues(task).Observe(time.Since(started).Seconds())
}
