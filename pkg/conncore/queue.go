// Package conncore implements the ConnectionCore component of spec.md
// §4.9: the per-broker read/write I/O loop, its bounded payload queue,
// and the backpressure/memory-accounting rules of spec.md §3's
// PayloadQueue. It is grounded on the teacher's pkg/websocket/conn.go
// single-goroutine-per-direction ownership, generalized from a
// WebSocket-only channel pair to a protocol-agnostic queue with global
// and per-broker memory caps.
package conncore

import "sync"

// MemoryCounter is a shared, lock-protected "available memory" counter,
// used across every broker that shares a Node's global cap (spec.md
// §3's PayloadQueue invariant, §5's "Shared resource policy").
type MemoryCounter struct {
	mu   sync.Mutex
	cap  int64
	used int64
}

// NewMemoryCounter constructs a counter with the given capacity. A
// non-positive capacity means unbounded.
func NewMemoryCounter(capacity int64) *MemoryCounter {
	return &MemoryCounter{cap: capacity}
}

// TryReserve reserves n bytes if doing so would not exceed the cap.
func (m *MemoryCounter) TryReserve(n int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cap > 0 && m.used+n > m.cap {
		return false
	}
	m.used += n
	return true
}

// Release returns n previously-reserved bytes to the pool.
func (m *MemoryCounter) Release(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.used -= n
	if m.used < 0 {
		m.used = 0
	}
}

// Available reports the remaining capacity, or -1 if unbounded.
func (m *MemoryCounter) Available() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cap <= 0 {
		return -1
	}
	return m.cap - m.used
}

// PayloadQueue is a per-broker FIFO of pending write buffers, bounded by
// both a global [MemoryCounter] shared across brokers and a per-broker
// cap, per spec.md §3's PayloadQueue invariants: enqueue fails fast when
// either cap would be exceeded; dequeue only advances once the
// transport reports bytes fully written; an "available" event fires
// whenever memory is freed.
type PayloadQueue struct {
	mu        sync.Mutex
	global    *MemoryCounter
	brokerCap int64
	used      int64
	bufs      [][]byte

	notify chan struct{}

	onAvailable   func(freed int64)
	onUnavailable func()
}

// NewPayloadQueue constructs an empty queue bounded by brokerCap (a
// non-positive value means unbounded) and sharing global.
func NewPayloadQueue(global *MemoryCounter, brokerCap int64) *PayloadQueue {
	return &PayloadQueue{
		global:    global,
		brokerCap: brokerCap,
		notify:    make(chan struct{}, 1),
	}
}

// SetCallbacks installs the queue's backpressure notification hooks.
func (q *PayloadQueue) SetCallbacks(onAvailable func(freed int64), onUnavailable func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onAvailable = onAvailable
	q.onUnavailable = onUnavailable
}

// Notify returns the channel a writer goroutine waits on for newly
// enqueued data.
func (q *PayloadQueue) Notify() <-chan struct{} {
	return q.notify
}

// Enqueue copies buf onto the queue's tail if both the per-broker and
// global caps allow it; otherwise it fires onUnavailable and returns
// false without blocking, per spec.md §4.9 send(bid, buf).
func (q *PayloadQueue) Enqueue(buf []byte) bool {
	q.mu.Lock()

	n := int64(len(buf))
	if q.brokerCap > 0 && q.used+n > q.brokerCap {
		cb := q.onUnavailable
		q.mu.Unlock()
		if cb != nil {
			cb()
		}
		return false
	}
	if !q.global.TryReserve(n) {
		cb := q.onUnavailable
		q.mu.Unlock()
		if cb != nil {
			cb()
		}
		return false
	}

	cp := make([]byte, n)
	copy(cp, buf)
	q.bufs = append(q.bufs, cp)
	q.used += n
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Head returns the first queued buffer without removing it, for the
// writer to attempt a transport write. ok is false if the queue is
// empty.
func (q *PayloadQueue) Head() (buf []byte, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.bufs) == 0 {
		return nil, false
	}
	return q.bufs[0], true
}

// Advance erases n bytes the transport reported as fully written from
// the head of the queue, removing any buffers that are now fully
// consumed, and fires onAvailable with the freed capacity (spec.md
// §4.9).
func (q *PayloadQueue) Advance(n int) {
	q.mu.Lock()
	freed := int64(0)
	for n > 0 && len(q.bufs) > 0 {
		head := q.bufs[0]
		if n < len(head) {
			q.bufs[0] = head[n:]
			n = 0
			break
		}
		n -= len(head)
		freed += int64(len(head))
		q.bufs = q.bufs[1:]
	}
	q.used -= freed
	cb := q.onAvailable
	q.mu.Unlock()

	if freed > 0 {
		q.global.Release(freed)
		if cb != nil {
			cb(freed)
		}
	}
}

// Empty reports whether the queue has no pending buffers.
func (q *PayloadQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bufs) == 0
}

// Drain discards every queued buffer, releases its reservation from the
// global counter, and fires one final onAvailable event, per spec.md
// §4.9's close() semantics ("a broker close event frees its queue
// memory and emits one final available event"). It returns the total
// bytes freed.
func (q *PayloadQueue) Drain() int64 {
	q.mu.Lock()
	freed := q.used
	q.bufs = nil
	q.used = 0
	cb := q.onAvailable
	q.mu.Unlock()

	if freed > 0 {
		q.global.Release(freed)
	}
	if cb != nil {
		cb(freed)
	}
	return freed
}
