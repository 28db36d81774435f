package bytequeue

import (
	"github.com/eapache/queue"
)

// Queue 是按写入顺序出队的字节队列，容量不设上限（由调用方的水位线约束）。
// 内部以块为单位保存在 eapache/queue 环中，head 为首块已消费偏移。
// 非并发安全：只在 poller 线程中使用。
type Queue struct {
	chunks *queue.Queue
	head   int
	size   int
}

func New() *Queue {
	return &Queue{chunks: queue.New()}
}

func (q *Queue) Len() int { return q.size }

// Chunks 返回尚未完全消费的块数
func (q *Queue) Chunks() int { return q.chunks.Length() }

// Write 拷贝 p 追加到队尾，不保留对 p 的引用
func (q *Queue) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c := make([]byte, len(p))
	copy(c, p)
	q.chunks.Add(c)
	q.size += len(c)
	return len(c), nil
}

// Peek 返回队首的连续片段（不前进读位置），队列为空时返回 nil
func (q *Queue) Peek() []byte {
	if q.size == 0 {
		return nil
	}
	return q.chunks.Peek().([]byte)[q.head:]
}

// Discard 从队首移除 n 字节，返回实际移除量
func (q *Queue) Discard(n int) int {
	if n > q.size {
		n = q.size
	}
	left := n
	for left > 0 {
		c := q.chunks.Peek().([]byte)
		rest := len(c) - q.head
		if left < rest {
			q.head += left
			break
		}
		left -= rest
		q.chunks.Remove()
		q.head = 0
	}
	q.size -= n
	return n
}

// Bytes 拷贝出全部待发送数据
func (q *Queue) Bytes() []byte {
	out := make([]byte, 0, q.size)
	for i := 0; i < q.chunks.Length(); i++ {
		c := q.chunks.Get(i).([]byte)
		if i == 0 {
			c = c[q.head:]
		}
		out = append(out, c...)
	}
	return out
}

func (q *Queue) Reset() {
	for q.chunks.Length() > 0 {
		q.chunks.Remove()
	}
	q.head = 0
	q.size = 0
}
