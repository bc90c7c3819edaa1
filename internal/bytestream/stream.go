// =============================================================================
// 文件: internal/bytestream/stream.go
// 描述: 有界字节流 - 单生产者/单消费者的定容 FIFO (背压语义)
// =============================================================================
package bytestream

// Writer 写端视图 (仅生产者使用)
type Writer interface {
	// Push 写入能放下的最长前缀，其余静默丢弃，返回实际接受的字节数
	Push(data []byte) int
	Close()
	IsClosed() bool
	AvailableCapacity() uint64
	BytesPushed() uint64
	SetError()
	HasError() bool
}

// Reader 读端视图 (仅消费者使用)
type Reader interface {
	// Peek 返回当前缓冲数据的借用视图，调用 Pop 后失效
	Peek() []byte
	Pop(n uint64)
	IsFinished() bool
	BytesBuffered() uint64
	BytesPopped() uint64
	HasError() bool
}

// ByteStream 定容字节流
// 不加锁: 调用方保证写端与读端不并发修改
type ByteStream struct {
	capacity uint64
	buffer   []byte

	bytesPushed uint64
	bytesPopped uint64

	closed  bool
	errored bool
}

// New 创建容量为 capacity 的字节流
func New(capacity uint64) *ByteStream {
	return &ByteStream{capacity: capacity}
}

// Writer 返回写端视图
func (s *ByteStream) Writer() Writer {
	return (*writer)(s)
}

// Reader 返回读端视图
func (s *ByteStream) Reader() Reader {
	return (*reader)(s)
}

// Capacity 返回固定容量
func (s *ByteStream) Capacity() uint64 {
	return s.capacity
}

// HasError 读端是否违约过
func (s *ByteStream) HasError() bool {
	return s.errored
}

// SetError 标记流已损坏
func (s *ByteStream) SetError() {
	s.errored = true
}

// =============================================================================
// 写端
// =============================================================================

type writer ByteStream

func (w *writer) Push(data []byte) int {
	avail := w.AvailableCapacity()
	if avail == 0 || len(data) == 0 {
		return 0
	}
	if uint64(len(data)) > avail {
		data = data[:avail]
	}
	w.buffer = append(w.buffer, data...)
	w.bytesPushed += uint64(len(data))
	return len(data)
}

func (w *writer) Close() {
	w.closed = true
}

func (w *writer) IsClosed() bool {
	return w.closed
}

func (w *writer) AvailableCapacity() uint64 {
	return w.capacity - uint64(len(w.buffer))
}

func (w *writer) BytesPushed() uint64 {
	return w.bytesPushed
}

func (w *writer) SetError() {
	w.errored = true
}

func (w *writer) HasError() bool {
	return w.errored
}

// =============================================================================
// 读端
// =============================================================================

type reader ByteStream

func (r *reader) Peek() []byte {
	return r.buffer
}

func (r *reader) Pop(n uint64) {
	if n > uint64(len(r.buffer)) {
		r.errored = true
		return
	}
	if n == 0 {
		return
	}
	// 全部读完时归零，复用底层数组
	if n == uint64(len(r.buffer)) {
		r.buffer = r.buffer[:0]
	} else {
		r.buffer = append(r.buffer[:0], r.buffer[n:]...)
	}
	r.bytesPopped += n
}

func (r *reader) IsFinished() bool {
	return r.closed && len(r.buffer) == 0
}

func (r *reader) BytesBuffered() uint64 {
	return uint64(len(r.buffer))
}

func (r *reader) BytesPopped() uint64 {
	return r.bytesPopped
}

func (r *reader) HasError() bool {
	return r.errored
}

// Read 从读端取出至多 limit 字节 (拷贝)
func Read(r Reader, limit uint64) []byte {
	buf := r.Peek()
	if uint64(len(buf)) > limit {
		buf = buf[:limit]
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	r.Pop(uint64(len(out)))
	return out
}
