// =============================================================================
// 文件: internal/receiver/receiver.go
// 描述: 接收端 - 持有有界字节流与重组器，为生产者/消费者提供外部同步与统计
// =============================================================================
package receiver

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mrcgq/reasm/internal/bytestream"
	"github.com/mrcgq/reasm/internal/config"
	"github.com/mrcgq/reasm/internal/reassembler"
	"github.com/mrcgq/reasm/internal/trace"
)

var (
	// ErrStreamCorrupt 读端违约后流不再可信
	ErrStreamCorrupt = errors.New("字节流已损坏")
	// ErrWindowStalled 缓冲为空且窗口右沿不变，只有窗口内的新数据才能推进
	ErrWindowStalled = errors.New("接收窗口停滞")
)

const defaultPollInterval = 5 * time.Millisecond

// SegmentKind 分段分类
type SegmentKind string

const (
	SegmentInOrder    SegmentKind = "in_order"
	SegmentOutOfOrder SegmentKind = "out_of_order"
	SegmentDuplicate  SegmentKind = "duplicate"  // 完全落在已组装区域
	SegmentRetransmit SegmentKind = "retransmit" // 同一分段再次到达
)

// Result 单个分段的处理结果
type Result struct {
	Kind SegmentKind
	// Truncated 超出接收窗口而被丢弃的字节数，发送方需要稍后重发
	Truncated uint64
}

// Stats 统计快照
type Stats struct {
	Segments       map[SegmentKind]uint64
	FinalConflicts uint64

	BytesReceived  uint64
	BytesAssembled uint64
	BytesTruncated uint64
	BytesPending   uint64
	BytesBuffered  uint64
	BytesPopped    uint64

	Window   uint64
	Finished bool
	Errored  bool
}

// Receiver 接收端
type Receiver struct {
	writer bytestream.Writer
	reader bytestream.Reader
	asm    *reassembler.Reassembler

	dups         *duplicateFilter
	log          *zap.Logger
	pollInterval time.Duration

	segments       map[SegmentKind]uint64
	finalConflicts uint64
	bytesReceived  uint64
	bytesTruncated uint64

	mu sync.Mutex
}

// Option 接收端选项
type Option func(*Receiver)

// WithLogger 设置日志器
func WithLogger(log *zap.Logger) Option {
	return func(r *Receiver) {
		r.log = log
	}
}

// WithDuplicateFilter 启用重传检测
func WithDuplicateFilter(expectedItems uint, falsePositive float64) Option {
	return func(r *Receiver) {
		r.dups = newDuplicateFilter(expectedItems, falsePositive)
	}
}

// WithPollInterval 设置等待时的轮询间隔
func WithPollInterval(d time.Duration) Option {
	return func(r *Receiver) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// New 创建接收端
func New(cfg config.StreamConfig, opts ...Option) *Receiver {
	stream := bytestream.New(cfg.Capacity)
	r := &Receiver{
		writer:       stream.Writer(),
		reader:       stream.Reader(),
		log:          zap.NewNop(),
		pollInterval: defaultPollInterval,
		segments:     make(map[SegmentKind]uint64),
	}
	r.asm = reassembler.New(r.writer)

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleSegment 处理一个已解析的分段
func (r *Receiver) HandleSegment(seg trace.Segment) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.asm.NextIndex()
	windowEnd := next + r.writer.AvailableCapacity()

	res := Result{Kind: r.classify(seg, next)}
	if end := seg.End(); end > windowEnd {
		from := seg.Index
		if from < windowEnd {
			from = windowEnd
		}
		res.Truncated = end - from
	}

	if seg.Last {
		if final, ok := r.asm.FinalIndex(); ok && final != seg.End() {
			r.finalConflicts++
			r.log.Warn("结束偏移不一致，保留首次声明",
				zap.Uint64("final_index", final),
				zap.Uint64("claimed", seg.End()))
		}
	}

	wasClosed := r.writer.IsClosed()
	r.asm.Insert(seg.Index, seg.Data, seg.Last)

	r.segments[res.Kind]++
	r.bytesReceived += uint64(len(seg.Data))
	r.bytesTruncated += res.Truncated

	if ce := r.log.Check(zap.DebugLevel, "分段"); ce != nil {
		ce.Write(
			zap.Uint64("index", seg.Index),
			zap.Int("len", len(seg.Data)),
			zap.Bool("last", seg.Last),
			zap.String("kind", string(res.Kind)),
			zap.Uint64("truncated", res.Truncated),
			zap.Uint64("ack", r.asm.NextIndex()),
			zap.Uint64("pending", r.asm.BytesPending()),
		)
	}
	if !wasClosed && r.writer.IsClosed() {
		r.log.Info("流已完整", zap.Uint64("bytes", r.asm.NextIndex()))
	}

	return res
}

func (r *Receiver) classify(seg trace.Segment, next uint64) SegmentKind {
	if seg.End() <= next && (len(seg.Data) > 0 || seg.Index < next) {
		r.dups.seen(seg)
		return SegmentDuplicate
	}
	if r.dups.seen(seg) {
		return SegmentRetransmit
	}
	if seg.Index > next {
		return SegmentOutOfOrder
	}
	return SegmentInOrder
}

// Read 读取已按序到达的数据，不阻塞
// 暂无数据时返回 0, nil；流结束后返回 io.EOF
func (r *Receiver) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reader.HasError() {
		return 0, ErrStreamCorrupt
	}
	if r.reader.IsFinished() {
		return 0, io.EOF
	}

	n := copy(p, r.reader.Peek())
	r.reader.Pop(uint64(n))
	return n, nil
}

// Peek 借用至多 limit 字节的已缓冲数据，不拷贝
// 返回的切片在下一次 Pop 或 Read 之前有效，只能由唯一的消费者使用
func (r *Receiver) Peek(limit int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := r.reader.Peek()
	if limit >= 0 && len(buf) > limit {
		buf = buf[:limit]
	}
	return buf
}

// Pop 移除 n 个已缓冲字节；超过缓冲量时流被标记为损坏
func (r *Receiver) Pop(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reader.Pop(uint64(n))
	if r.reader.HasError() {
		r.log.Error("读端越界弹出，字节流已损坏",
			zap.Int("pop", n),
			zap.Uint64("buffered", r.reader.BytesBuffered()))
	}
}

// WaitReadable 等待数据可读或流结束
func (r *Receiver) WaitReadable(ctx context.Context) error {
	return r.wait(ctx, func() (bool, error) {
		return r.reader.BytesBuffered() > 0 || r.reader.IsFinished() || r.reader.HasError(), nil
	})
}

// WaitWindow 等待接收窗口右沿超过 edge 或流结束
// 缓冲为空而右沿仍停在 edge 时，消费者无从推进窗口，返回 ErrWindowStalled
func (r *Receiver) WaitWindow(ctx context.Context, edge uint64) error {
	return r.wait(ctx, func() (bool, error) {
		if r.windowEdge() > edge || r.writer.IsClosed() || r.reader.HasError() {
			return true, nil
		}
		if r.reader.BytesBuffered() == 0 {
			return true, ErrWindowStalled
		}
		return false, nil
	})
}

func (r *Receiver) wait(ctx context.Context, ready func() (bool, error)) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		r.mu.Lock()
		ok, err := ready()
		r.mu.Unlock()
		if ok {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Receiver) windowEdge() uint64 {
	return r.asm.NextIndex() + r.writer.AvailableCapacity()
}

// WindowEdge 接收窗口右沿 (可接受的最大偏移 + 1)
func (r *Receiver) WindowEdge() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.windowEdge()
}

// AckIndex 累积确认点 (下一个期望的偏移)
func (r *Receiver) AckIndex() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.asm.NextIndex()
}

// Window 当前接收窗口大小
func (r *Receiver) Window() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer.AvailableCapacity()
}

// Gaps 已暂存但尚未连续的区间 (SACK)
func (r *Receiver) Gaps() []reassembler.Range {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.asm.PendingRanges()
}

// IsFinished 流是否已读完
func (r *Receiver) IsFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reader.IsFinished()
}

// IsClosed 是否已收到全部数据 (可能尚未读完)
func (r *Receiver) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer.IsClosed()
}

// Stats 获取统计快照
func (r *Receiver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	segments := make(map[SegmentKind]uint64, len(r.segments))
	for k, v := range r.segments {
		segments[k] = v
	}

	return Stats{
		Segments:       segments,
		FinalConflicts: r.finalConflicts,
		BytesReceived:  r.bytesReceived,
		BytesAssembled: r.writer.BytesPushed(),
		BytesTruncated: r.bytesTruncated,
		BytesPending:   r.asm.BytesPending(),
		BytesBuffered:  r.reader.BytesBuffered(),
		BytesPopped:    r.reader.BytesPopped(),
		Window:         r.writer.AvailableCapacity(),
		Finished:       r.reader.IsFinished(),
		Errored:        r.reader.HasError(),
	}
}

// =============================================================================
// 监控接口 (metrics.ReceiverStats)
// =============================================================================

// SegmentCounts 按分类统计的分段数
func (r *Receiver) SegmentCounts() map[string]uint64 {
	s := r.Stats()
	out := make(map[string]uint64, 4)
	for _, k := range []SegmentKind{SegmentInOrder, SegmentOutOfOrder, SegmentDuplicate, SegmentRetransmit} {
		out[string(k)] = s.Segments[k]
	}
	return out
}

// ByteCounts 按状态统计的字节数
func (r *Receiver) ByteCounts() map[string]uint64 {
	s := r.Stats()
	return map[string]uint64{
		"received":  s.BytesReceived,
		"assembled": s.BytesAssembled,
		"truncated": s.BytesTruncated,
		"pending":   s.BytesPending,
		"buffered":  s.BytesBuffered,
		"popped":    s.BytesPopped,
	}
}

// FinalConflicts 不一致的结束偏移声明次数
func (r *Receiver) FinalConflicts() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalConflicts
}
