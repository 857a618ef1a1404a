package broadcast

import (
	"context"
	"sync"
)

// Queue is a bounded FIFO of outbound messages for one client. When full,
// Push discards the oldest pending message so a slow reader never blocks
// the producer.
type Queue struct {
	mu     sync.Mutex
	buf    []Message
	head   int
	n      int
	closed bool
	ready  chan struct{}
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{buf: make([]Message, size), ready: make(chan struct{}, 1)}
}

// Push appends m and reports whether an older message was dropped to make
// room. Pushing to a closed queue is a no-op.
func (q *Queue) Push(m Message) (dropped bool, ok bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, false
	}
	if q.n == len(q.buf) {
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		dropped = true
	}
	q.buf[(q.head+q.n)%len(q.buf)] = m
	q.n++
	q.mu.Unlock()
	q.signal()
	return dropped, true
}

// TryPop removes the oldest message without waiting.
func (q *Queue) TryPop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return nil, false
	}
	m := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return m, true
}

// Next waits for a message. It returns false once the queue is closed and
// drained, or when ctx is done.
func (q *Queue) Next(ctx context.Context) (Message, bool) {
	for {
		if m, ok := q.TryPop(); ok {
			return m, true
		}
		if q.Closed() {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-q.ready:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
