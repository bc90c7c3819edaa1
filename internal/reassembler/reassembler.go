// =============================================================================
// 文件: internal/reassembler/reassembler.go
// 描述: 乱序重组 - 接收任意顺序/任意重叠的字节区间，按序推入有界字节流
// =============================================================================
package reassembler

import (
	"github.com/mrcgq/reasm/internal/bytestream"
)

// Reassembler 区间重组器
// 不加锁: 由持有者串行调用
type Reassembler struct {
	output bytestream.Writer

	pending   *pendingRuns
	nextIndex uint64 // 下一个期望写入流的绝对偏移

	finalKnown bool
	finalIndex uint64 // 流末尾 (最后一个字节之后)
}

// New 创建绑定到 output 的重组器
func New(output bytestream.Writer) *Reassembler {
	return &Reassembler{
		output:  output,
		pending: newPendingRuns(),
	}
}

// Insert 插入一个区间
// isLast 表示 data 的最后一个字节是整个流的最后一个字节
// 已确定的流末尾不会被后续不一致的声明覆盖
func (r *Reassembler) Insert(firstIndex uint64, data []byte, isLast bool) {
	if isLast && !r.finalKnown {
		r.finalKnown = true
		r.finalIndex = firstIndex + uint64(len(data))
	}

	if start, clipped := r.clip(firstIndex, data); len(clipped) > 0 {
		r.pending.insert(start, clipped)
		r.assemble()
	}

	r.closeIfDone()
}

// clip 把区间裁剪到接收窗口 [nextIndex, nextIndex+可用容量)
func (r *Reassembler) clip(firstIndex uint64, data []byte) (uint64, []byte) {
	windowEnd := r.nextIndex + r.output.AvailableCapacity()
	end := firstIndex + uint64(len(data))

	if firstIndex >= windowEnd || end <= r.nextIndex {
		return firstIndex, nil
	}
	if end > windowEnd {
		data = data[:windowEnd-firstIndex]
	}
	if firstIndex < r.nextIndex {
		data = data[r.nextIndex-firstIndex:]
		firstIndex = r.nextIndex
	}
	return firstIndex, data
}

// assemble 推送从 nextIndex 开始的连续数据
func (r *Reassembler) assemble() {
	for {
		head, ok := r.pending.take(r.nextIndex)
		if !ok {
			return
		}

		n := r.output.Push(head.data)
		r.nextIndex += uint64(n)

		if n < len(head.data) {
			// 容量不足，剩余部分放回
			r.pending.put(run{start: r.nextIndex, data: head.data[n:]})
			return
		}
	}
}

func (r *Reassembler) closeIfDone() {
	if r.finalKnown && r.nextIndex >= r.finalIndex {
		r.output.Close()
	}
}

// BytesPending 暂存在重组器中的字节数 (仅用于诊断)
func (r *Reassembler) BytesPending() uint64 {
	return r.pending.bytes
}

// NextIndex 下一个期望的绝对偏移 (累积确认点)
func (r *Reassembler) NextIndex() uint64 {
	return r.nextIndex
}

// FinalIndex 流末尾偏移，未知时 ok 为 false
func (r *Reassembler) FinalIndex() (index uint64, ok bool) {
	return r.finalIndex, r.finalKnown
}

// PendingRanges 暂存区间的范围 (升序)
func (r *Reassembler) PendingRanges() []Range {
	return r.pending.extents()
}
