// Package metrics 定义评论向量缓存的 prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics 记录缓存重建与失效。
// 零值（nil 指针）可以安全调用，便于在测试中不注册指标。
type CacheMetrics struct {
	Builds        prometheus.Counter
	Invalidations *prometheus.CounterVec
	BuildSeconds  prometheus.Histogram
	Rows          prometheus.Gauge
}

// NewCacheMetrics 创建指标并注册到 reg；reg 为 nil 时只创建不注册。
func NewCacheMetrics(reg prometheus.Registerer, namespace string) *CacheMetrics {
	m := &CacheMetrics{
		Builds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "review_cache",
			Name:      "builds_total",
			Help:      "Number of full review embedding cache rebuilds.",
		}),
		Invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "review_cache",
			Name:      "invalidations_total",
			Help:      "Invalidate calls, labelled by whether the cache was cleared or kept because it is frozen.",
		}, []string{"result"}),
		BuildSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "review_cache",
			Name:      "build_seconds",
			Help:      "Wall time of review embedding cache rebuilds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		Rows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "review_cache",
			Name:      "rows",
			Help:      "Rows in the current cache, 0 when absent.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Builds, m.Invalidations, m.BuildSeconds, m.Rows)
	}
	return m
}

// ObserveBuild 记录一次重建。
func (m *CacheMetrics) ObserveBuild(rows int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Builds.Inc()
	m.BuildSeconds.Observe(elapsed.Seconds())
	m.Rows.Set(float64(rows))
}

// ObserveInvalidate 记录一次失效调用，cleared 为 false 表示缓存被冻结而保留。
func (m *CacheMetrics) ObserveInvalidate(cleared bool) {
	if m == nil {
		return
	}
	if cleared {
		m.Invalidations.WithLabelValues("cleared").Inc()
		m.Rows.Set(0)
		return
	}
	m.Invalidations.WithLabelValues("frozen").Inc()
}
