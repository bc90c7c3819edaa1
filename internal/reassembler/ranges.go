// =============================================================================
// 文件: internal/reassembler/ranges.go
// 描述: 待重组区间存储 - 按起始偏移有序 (B 树)，插入时合并重叠/相邻区间
// =============================================================================
package reassembler

import (
	"github.com/google/btree"
)

const pendingTreeDegree = 8

// Range 区间 [Start, End)
type Range struct {
	Start uint64
	End   uint64
}

// Len 区间长度
func (r Range) Len() uint64 {
	return r.End - r.Start
}

// run 已存储的一段连续字节
type run struct {
	start uint64
	data  []byte
}

func (r run) end() uint64 {
	return r.start + uint64(len(r.data))
}

func runLess(a, b run) bool {
	return a.start < b.start
}

// pendingRuns 有序区间表
// 不变式: 任意两段之间至少隔一个字节
type pendingRuns struct {
	tree  *btree.BTreeG[run]
	bytes uint64
}

func newPendingRuns() *pendingRuns {
	return &pendingRuns{
		tree: btree.NewG[run](pendingTreeDegree, runLess),
	}
}

// insert 合并新区间，返回合并后的区间
func (p *pendingRuns) insert(start uint64, data []byte) run {
	incoming := run{start: start, data: data}
	touched := p.touching(incoming)
	for _, t := range touched {
		p.remove(t)
	}
	merged := mergeRuns(touched, incoming)
	p.put(merged)
	return merged
}

// touching 找出与 r 重叠或相邻的所有已存区间 (按起始偏移升序)
func (p *pendingRuns) touching(r run) []run {
	var touched []run

	// 前驱: 起点 <= r.start 的最后一段
	p.tree.DescendLessOrEqual(run{start: r.start}, func(prev run) bool {
		if prev.end() >= r.start {
			touched = append(touched, prev)
		}
		return false
	})

	// 后继: 起点落在 (r.start, r.end] 内的段
	end := r.end()
	p.tree.AscendGreaterOrEqual(run{start: r.start}, func(next run) bool {
		if next.start > end {
			return false
		}
		if len(touched) == 0 || touched[len(touched)-1].start != next.start {
			touched = append(touched, next)
		}
		return true
	})

	return touched
}

// take 取出起点恰为 start 的区间
func (p *pendingRuns) take(start uint64) (run, bool) {
	r, ok := p.tree.Delete(run{start: start})
	if ok {
		p.bytes -= uint64(len(r.data))
	}
	return r, ok
}

func (p *pendingRuns) put(r run) {
	if len(r.data) == 0 {
		return
	}
	if old, replaced := p.tree.ReplaceOrInsert(r); replaced {
		p.bytes -= uint64(len(old.data))
	}
	p.bytes += uint64(len(r.data))
}

func (p *pendingRuns) remove(r run) {
	p.take(r.start)
}

func (p *pendingRuns) len() int {
	return p.tree.Len()
}

func (p *pendingRuns) extents() []Range {
	out := make([]Range, 0, p.tree.Len())
	p.tree.Ascend(func(r run) bool {
		out = append(out, Range{Start: r.start, End: r.end()})
		return true
	})
	return out
}

// mergeRuns 把 touched 与 incoming 拼成一段覆盖其并集的新区间
// touched 必须与 incoming 重叠或相邻；重叠处以 incoming 为准
// 返回的数据总是新分配的，不引用任何输入切片
func mergeRuns(touched []run, incoming run) run {
	start, end := incoming.start, incoming.end()
	for _, t := range touched {
		if t.start < start {
			start = t.start
		}
		if t.end() > end {
			end = t.end()
		}
	}

	buf := make([]byte, end-start)
	for _, t := range touched {
		copy(buf[t.start-start:], t.data)
	}
	copy(buf[incoming.start-start:], incoming.data)

	return run{start: start, data: buf}
}
