// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器定义
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reasm"

// SegmentKinds 分段分类标签
var SegmentKinds = []string{"in_order", "out_of_order", "duplicate", "retransmit"}

// ByteStates 字节状态标签
var ByteStates = []string{"received", "assembled", "truncated", "pending", "buffered", "popped"}

// =============================================================================
// Receiver 收集器
// =============================================================================

// ReceiverStats 接收端统计数据接口
type ReceiverStats interface {
	SegmentCounts() map[string]uint64
	ByteCounts() map[string]uint64
	FinalConflicts() uint64
	AckIndex() uint64
	Window() uint64
	IsFinished() bool
}

// ReceiverCollector 接收端指标收集器
type ReceiverCollector struct {
	statsProvider ReceiverStats

	segmentsDesc       *prometheus.Desc
	bytesDesc          *prometheus.Desc
	finalConflictsDesc *prometheus.Desc
	ackIndexDesc       *prometheus.Desc
	windowDesc         *prometheus.Desc
	finishedDesc       *prometheus.Desc
}

// NewReceiverCollector 创建接收端收集器
func NewReceiverCollector(provider ReceiverStats) *ReceiverCollector {
	subsystem := "receiver"

	return &ReceiverCollector{
		statsProvider: provider,

		segmentsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "segments_total"),
			"Segments handled by kind",
			[]string{"kind"}, nil,
		),
		bytesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "bytes"),
			"Byte counters by state",
			[]string{"state"}, nil,
		),
		finalConflictsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "final_conflicts_total"),
			"End-of-stream claims that disagreed with the first one",
			nil, nil,
		),
		ackIndexDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "ack_index"),
			"Next expected stream index",
			nil, nil,
		),
		windowDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "window_bytes"),
			"Available receive window",
			nil, nil,
		),
		finishedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "finished"),
			"Whether the stream has been fully read (1 = yes)",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *ReceiverCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.segmentsDesc
	ch <- c.bytesDesc
	ch <- c.finalConflictsDesc
	ch <- c.ackIndexDesc
	ch <- c.windowDesc
	ch <- c.finishedDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *ReceiverCollector) Collect(ch chan<- prometheus.Metric) {
	segments := c.statsProvider.SegmentCounts()
	for _, kind := range SegmentKinds {
		ch <- prometheus.MustNewConstMetric(c.segmentsDesc, prometheus.CounterValue,
			float64(segments[kind]), kind)
	}

	// pending / buffered 会回落，统一按 gauge 导出
	bytes := c.statsProvider.ByteCounts()
	for _, state := range ByteStates {
		ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.GaugeValue,
			float64(bytes[state]), state)
	}

	ch <- prometheus.MustNewConstMetric(c.finalConflictsDesc, prometheus.CounterValue,
		float64(c.statsProvider.FinalConflicts()))
	ch <- prometheus.MustNewConstMetric(c.ackIndexDesc, prometheus.GaugeValue,
		float64(c.statsProvider.AckIndex()))
	ch <- prometheus.MustNewConstMetric(c.windowDesc, prometheus.GaugeValue,
		float64(c.statsProvider.Window()))

	finished := 0.0
	if c.statsProvider.IsFinished() {
		finished = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.finishedDesc, prometheus.GaugeValue, finished)
}
