// =============================================================================
// 文件: internal/receiver/dupfilter.go
// 描述: 重传检测 - 以 (偏移, 长度, 结束标志) 为键的布隆过滤器
// =============================================================================
package receiver

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/mrcgq/reasm/internal/trace"
)

// duplicateFilter 记录见过的分段，只用于统计，误报不影响重组结果
type duplicateFilter struct {
	filter *bloom.BloomFilter
}

func newDuplicateFilter(expectedItems uint, falsePositive float64) *duplicateFilter {
	return &duplicateFilter{
		filter: bloom.NewWithEstimates(expectedItems, falsePositive),
	}
}

// seen 检查并记录分段，之前见过时返回 true
func (d *duplicateFilter) seen(seg trace.Segment) bool {
	if d == nil {
		return false
	}

	var key [17]byte
	binary.BigEndian.PutUint64(key[0:8], seg.Index)
	binary.BigEndian.PutUint64(key[8:16], uint64(len(seg.Data)))
	if seg.Last {
		key[16] = 1
	}
	return d.filter.TestAndAdd(key[:])
}
