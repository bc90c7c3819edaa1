// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: 回放过程的实时埋点指标（Counter/Histogram）
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ReplayMetrics 回放指标集合
type ReplayMetrics struct {
	// 生产端
	Rounds       prometheus.Counter
	Offers       *prometheus.CounterVec
	SegmentBytes prometheus.Histogram

	// 消费端
	Reads     prometheus.Counter
	ReadBytes prometheus.Histogram
}

// NewReplayMetrics 创建指标集合并注册到 registry
func NewReplayMetrics(registry prometheus.Registerer) *ReplayMetrics {
	m := &ReplayMetrics{
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "rounds_total",
			Help:      "Producer rounds over outstanding segments",
		}),

		Offers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "offers_total",
			Help:      "Segments offered to the receiver",
		}, []string{"result"}),

		SegmentBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "segment_bytes",
			Help:      "Size of offered segments",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),

		Reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "reads_total",
			Help:      "Consumer reads that returned data",
		}),

		ReadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "read_bytes",
			Help:      "Size of consumer reads",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}

	registry.MustRegister(
		m.Rounds,
		m.Offers,
		m.SegmentBytes,
		m.Reads,
		m.ReadBytes,
	)

	return m
}

// RecordRound 记录一轮发送
func (m *ReplayMetrics) RecordRound() {
	m.Rounds.Inc()
}

// RecordOffer 记录一次分段提交，truncated 表示需要重发
func (m *ReplayMetrics) RecordOffer(size int, truncated bool) {
	result := "accepted"
	if truncated {
		result = "truncated"
	}
	m.Offers.WithLabelValues(result).Inc()
	m.SegmentBytes.Observe(float64(size))
}

// RecordRead 记录一次读取
func (m *ReplayMetrics) RecordRead(n int) {
	if n == 0 {
		return
	}
	m.Reads.Inc()
	m.ReadBytes.Observe(float64(n))
}
