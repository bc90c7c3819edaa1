// =============================================================================
// 文件: internal/reassembler/reassembler_test.go
// 描述: 乱序重组测试
// =============================================================================
package reassembler

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/mrcgq/reasm/internal/bytestream"
	"github.com/mrcgq/reasm/internal/trace"
)

func newTestReassembler(capacity uint64) (*Reassembler, bytestream.Reader) {
	s := bytestream.New(capacity)
	return New(s.Writer()), s.Reader()
}

func expectBuffered(t *testing.T, r bytestream.Reader, want string) {
	t.Helper()
	if got := string(r.Peek()); got != want {
		t.Fatalf("流内容错误: got %q, want %q", got, want)
	}
}

func TestInsertInOrder(t *testing.T) {
	ra, r := newTestReassembler(64)

	ra.Insert(0, []byte("abcd"), false)
	expectBuffered(t, r, "abcd")
	ra.Insert(4, []byte("efgh"), false)
	expectBuffered(t, r, "abcdefgh")

	if ra.NextIndex() != 8 {
		t.Errorf("NextIndex 错误: got %d, want 8", ra.NextIndex())
	}
	if ra.BytesPending() != 0 {
		t.Errorf("BytesPending 应为 0: got %d", ra.BytesPending())
	}
}

func TestCapacityScenario(t *testing.T) {
	s := bytestream.New(5)
	ra := New(s.Writer())
	w, r := s.Writer(), s.Reader()

	ra.Insert(0, []byte("abcdef"), false)
	expectBuffered(t, r, "abcde")
	if w.AvailableCapacity() != 0 {
		t.Fatalf("容量应耗尽: got %d", w.AvailableCapacity())
	}
	if ra.BytesPending() != 0 {
		t.Errorf("超出容量的字节不应暂存: got %d", ra.BytesPending())
	}

	ra.Insert(0, []byte("abcde"), false)
	expectBuffered(t, r, "abcde")
	if w.BytesPushed() != 5 {
		t.Errorf("重复插入不应改变 BytesPushed: got %d", w.BytesPushed())
	}

	r.Pop(2)
	if w.AvailableCapacity() != 2 {
		t.Fatalf("Pop 后容量错误: got %d, want 2", w.AvailableCapacity())
	}

	ra.Insert(5, []byte("f"), true)
	expectBuffered(t, r, "cdef")
	if !w.IsClosed() {
		t.Error("最后一个字节到达后应关闭")
	}
	if r.IsFinished() {
		t.Error("仍有数据时不应结束")
	}

	r.Pop(4)
	if !r.IsFinished() {
		t.Error("读完后应结束")
	}
}

func TestOutOfOrderScenario(t *testing.T) {
	ra, r := newTestReassembler(64)

	ra.Insert(3, []byte("def"), false)
	expectBuffered(t, r, "")
	if ra.BytesPending() != 3 {
		t.Errorf("BytesPending 错误: got %d, want 3", ra.BytesPending())
	}

	ra.Insert(0, []byte("abc"), false)
	expectBuffered(t, r, "abcdef")
	if ra.BytesPending() != 0 {
		t.Errorf("BytesPending 错误: got %d, want 0", ra.BytesPending())
	}

	ra.Insert(6, nil, true)
	got := bytestream.Read(r, 6)
	if string(got) != "abcdef" {
		t.Errorf("读出内容错误: got %q", got)
	}
	if !r.IsFinished() {
		t.Error("应结束")
	}
}

func TestEmptyFinalSegmentTerminates(t *testing.T) {
	ra, r := newTestReassembler(16)

	ra.Insert(0, []byte("hello"), false)
	r.Pop(5)
	ra.Insert(5, []byte{}, true)

	if !r.IsFinished() {
		t.Fatal("空的结束段应使流结束")
	}
}

func TestEmptyStream(t *testing.T) {
	ra, r := newTestReassembler(16)
	ra.Insert(0, nil, true)
	if !r.IsFinished() {
		t.Fatal("空流应立即结束")
	}
}

func TestFinalFlagOnDuplicateSegment(t *testing.T) {
	s := bytestream.New(16)
	ra := New(s.Writer())
	r := s.Reader()

	ra.Insert(0, []byte("abc"), false)
	if s.Writer().IsClosed() {
		t.Fatal("末尾未知时不应关闭")
	}

	// 完全重复的分段带着结束标志
	ra.Insert(0, []byte("abc"), true)
	if !s.Writer().IsClosed() {
		t.Fatal("重复分段上的结束标志也应生效")
	}
	expectBuffered(t, r, "abc")

	r.Pop(3)
	if !r.IsFinished() {
		t.Fatal("读完后应结束")
	}
}

func TestFinalFlagBeyondCapacity(t *testing.T) {
	s := bytestream.New(2)
	ra := New(s.Writer())
	w, r := s.Writer(), s.Reader()

	// 结束段完全超出窗口，数据丢弃但末尾偏移被记录
	ra.Insert(4, []byte("ef"), true)
	if w.IsClosed() {
		t.Fatal("尚未交付全部数据时不应关闭")
	}
	idx, ok := ra.FinalIndex()
	if !ok || idx != 6 {
		t.Errorf("FinalIndex 错误: got %d,%v want 6,true", idx, ok)
	}

	ra.Insert(0, []byte("ab"), false)
	r.Pop(2)
	ra.Insert(2, []byte("cd"), false)
	r.Pop(2)
	ra.Insert(4, []byte("ef"), false)
	if !w.IsClosed() {
		t.Error("交付到末尾偏移后应关闭")
	}
}

func TestFirstFinalIndexWins(t *testing.T) {
	ra, _ := newTestReassembler(16)

	ra.Insert(0, []byte("abc"), true)
	ra.Insert(0, []byte("abcdef"), true)

	idx, ok := ra.FinalIndex()
	if !ok || idx != 3 {
		t.Errorf("应保留第一次声明的末尾: got %d,%v", idx, ok)
	}
}

func TestOverlapMerging(t *testing.T) {
	cases := []struct {
		name    string
		inserts [][2]interface{}
		want    []Range
		pending uint64
	}{
		{
			name:    "不相交",
			inserts: [][2]interface{}{{uint64(2), "cd"}, {uint64(6), "gh"}},
			want:    []Range{{2, 4}, {6, 8}},
			pending: 4,
		},
		{
			name:    "相邻合并",
			inserts: [][2]interface{}{{uint64(2), "cd"}, {uint64(4), "ef"}},
			want:    []Range{{2, 6}},
			pending: 4,
		},
		{
			name:    "前部重叠",
			inserts: [][2]interface{}{{uint64(4), "efgh"}, {uint64(2), "cdef"}},
			want:    []Range{{2, 8}},
			pending: 6,
		},
		{
			name:    "后部重叠",
			inserts: [][2]interface{}{{uint64(2), "cdef"}, {uint64(4), "efgh"}},
			want:    []Range{{2, 8}},
			pending: 6,
		},
		{
			name:    "完全包含",
			inserts: [][2]interface{}{{uint64(3), "d"}, {uint64(6), "g"}, {uint64(1), "bcdefgh"}},
			want:    []Range{{1, 8}},
			pending: 7,
		},
		{
			name:    "被包含",
			inserts: [][2]interface{}{{uint64(1), "bcdefgh"}, {uint64(3), "de"}},
			want:    []Range{{1, 8}},
			pending: 7,
		},
		{
			name:    "桥接多段",
			inserts: [][2]interface{}{{uint64(1), "b"}, {uint64(4), "e"}, {uint64(8), "i"}, {uint64(2), "cdefgh"}},
			want:    []Range{{1, 9}},
			pending: 8,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ra, r := newTestReassembler(32)
			for _, in := range tc.inserts {
				ra.Insert(in[0].(uint64), []byte(in[1].(string)), false)
			}

			got := ra.PendingRanges()
			if len(got) != len(tc.want) {
				t.Fatalf("区间数量错误: got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("区间 %d 错误: got %v, want %v", i, got[i], tc.want[i])
				}
			}
			if ra.BytesPending() != tc.pending {
				t.Errorf("BytesPending 错误: got %d, want %d", ra.BytesPending(), tc.pending)
			}

			// 补上缺口后整段一次交付
			if len(tc.want) == 1 && tc.want[0].Start == 1 {
				ra.Insert(0, []byte("a"), false)
				expectBuffered(t, r, "abcdefghi"[:tc.want[0].End])
				if ra.BytesPending() != 0 {
					t.Errorf("交付后 BytesPending 应为 0: got %d", ra.BytesPending())
				}
			}
		})
	}
}

func TestPartialOverlapWithAssembled(t *testing.T) {
	ra, r := newTestReassembler(32)

	ra.Insert(0, []byte("abcd"), false)
	ra.Insert(2, []byte("cdefg"), false)
	expectBuffered(t, r, "abcdefg")

	ra.Insert(0, []byte("abc"), false)
	expectBuffered(t, r, "abcdefg")
	if ra.BytesPending() != 0 {
		t.Errorf("已组装的数据不应暂存: got %d", ra.BytesPending())
	}
}

func TestChainResolution(t *testing.T) {
	ra, r := newTestReassembler(32)

	ra.Insert(8, []byte("ij"), false)
	ra.Insert(4, []byte("efg"), false)
	ra.Insert(1, []byte("bc"), false)
	if ra.BytesPending() != 7 {
		t.Fatalf("BytesPending 错误: got %d, want 7", ra.BytesPending())
	}
	expectBuffered(t, r, "")

	ra.Insert(0, []byte("a"), false)
	expectBuffered(t, r, "abc")

	ra.Insert(3, []byte("d"), false)
	expectBuffered(t, r, "abcdefg")

	ra.Insert(7, []byte("h"), false)
	expectBuffered(t, r, "abcdefghij")
	if ra.BytesPending() != 0 {
		t.Errorf("BytesPending 应为 0: got %d", ra.BytesPending())
	}
}

func TestWindowClipsPending(t *testing.T) {
	s := bytestream.New(4)
	ra := New(s.Writer())
	r := s.Reader()

	ra.Insert(2, []byte("cdefgh"), false)
	if ra.BytesPending() != 2 {
		t.Fatalf("超出窗口的字节应丢弃: got %d, want 2", ra.BytesPending())
	}
	got := ra.PendingRanges()
	if len(got) != 1 || got[0] != (Range{2, 4}) {
		t.Errorf("暂存区间错误: %v", got)
	}

	ra.Insert(0, []byte("ab"), false)
	expectBuffered(t, r, "abcd")

	r.Pop(4)
	ra.Insert(2, []byte("cdefgh"), false)
	expectBuffered(t, r, "efgh")
}

func TestCapacityBoundedReassembly(t *testing.T) {
	const capacity = 10
	s := bytestream.New(capacity)
	ra := New(s.Writer())
	r := s.Reader()

	ra.Insert(0, bytes.Repeat([]byte("x"), 25), false)
	if r.BytesBuffered() != capacity {
		t.Errorf("应恰好接收 %d 字节: got %d", capacity, r.BytesBuffered())
	}
	if ra.BytesPending() != 0 {
		t.Errorf("BytesPending 应为 0: got %d", ra.BytesPending())
	}
}

func TestInputNotRetained(t *testing.T) {
	ra, r := newTestReassembler(16)

	data := []byte("cd")
	ra.Insert(2, data, false)
	data[0], data[1] = 'X', 'Y'

	ra.Insert(0, []byte("ab"), false)
	expectBuffered(t, r, "abcd")
}

func TestRandomPermutations(t *testing.T) {
	payload := make([]byte, 2000)
	rand.New(rand.NewSource(99)).Read(payload)

	for seed := int64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		overlap := 0
		if seed%2 == 1 {
			overlap = 16
		}
		segs := trace.Split(payload, 64, overlap, rng)
		trace.Shuffle(segs, rng)

		s := bytestream.New(uint64(len(payload)))
		ra := New(s.Writer())
		r := s.Reader()

		for _, seg := range segs {
			ra.Insert(seg.Index, seg.Data, seg.Last)
			if r.BytesBuffered()+ra.BytesPending() > uint64(len(payload)) {
				t.Fatalf("seed %d: 缓冲+暂存超出容量", seed)
			}
		}

		if !bytes.Equal(r.Peek(), payload) {
			t.Fatalf("seed %d: 重组结果与原始数据不一致", seed)
		}
		r.Pop(uint64(len(payload)))
		if !r.IsFinished() {
			t.Errorf("seed %d: 流应结束", seed)
		}
	}
}

func TestRandomPermutationsSmallWindow(t *testing.T) {
	payload := make([]byte, 500)
	rand.New(rand.NewSource(5)).Read(payload)

	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		segs := trace.Split(payload, 16, 4, rng)

		s := bytestream.New(32)
		ra := New(s.Writer())
		r := s.Reader()

		var out bytes.Buffer
		// 像真实发送端一样反复重传，直到流结束
		for round := 0; round < 10000 && !r.IsFinished(); round++ {
			trace.Shuffle(segs, rng)
			for _, seg := range segs {
				ra.Insert(seg.Index, seg.Data, seg.Last)
				out.Write(bytestream.Read(r, uint64(rng.Intn(8))))
			}
			out.Write(bytestream.Read(r, r.BytesBuffered()))
		}

		if !r.IsFinished() {
			t.Fatalf("seed %d: 流未结束", seed)
		}
		if !bytes.Equal(out.Bytes(), payload) {
			t.Fatalf("seed %d: 重组结果与原始数据不一致", seed)
		}
	}
}
