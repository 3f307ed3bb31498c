package network

import (
	"sync"
	"time"
)

// FrameQueue is the bounded queue between the transport reader and the
// frame processor. When full, the oldest frame is dropped so the reader
// never blocks.
type FrameQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	frames   [][]byte
	head     int
	size     int
	closed   bool

	pushed    uint64
	overflows uint64
}

// NewFrameQueue creates a queue holding up to capacity frames
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &FrameQueue{frames: make([][]byte, capacity)}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Push appends a frame and reports whether an older frame was dropped to
// make room. Pushing to a closed queue discards the frame.
func (q *FrameQueue) Push(frame []byte) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	capacity := len(q.frames)
	if q.size == capacity {
		q.frames[q.head] = nil
		q.head = (q.head + 1) % capacity
		q.size--
		q.overflows++
		dropped = true
	}

	q.frames[(q.head+q.size)%capacity] = frame
	q.size++
	q.pushed++
	q.notEmpty.Signal()
	return dropped
}

// Pop blocks until a frame is available or the queue is closed. The second
// result is false once the queue is closed and empty.
func (q *FrameQueue) Pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.size == 0 {
		return nil, false
	}
	return q.take(), true
}

// PopTimeout is Pop with an upper bound on the wait
func (q *FrameQueue) PopTimeout(timeout time.Duration) ([]byte, bool) {
	timer := time.AfterFunc(timeout, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed && time.Now().Before(deadline) {
		q.notEmpty.Wait()
	}
	if q.size == 0 {
		return nil, false
	}
	return q.take(), true
}

// take is called with mu held and size > 0
func (q *FrameQueue) take() []byte {
	frame := q.frames[q.head]
	q.frames[q.head] = nil
	q.head = (q.head + 1) % len(q.frames)
	q.size--
	return frame
}

// Close wakes every waiter; frames still queued can be drained
func (q *FrameQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.mu.Unlock()
}

// Drain discards all queued frames and returns how many there were
func (q *FrameQueue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.size
	for q.size > 0 {
		q.take()
	}
	return n
}

// Reopen makes a closed, drained queue usable again
func (q *FrameQueue) Reopen() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

// Len returns the number of queued frames
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity
func (q *FrameQueue) Cap() int {
	return len(q.frames)
}

// Stats returns frames pushed and frames dropped on overflow
func (q *FrameQueue) Stats() (pushed, overflows uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed, q.overflows
}
