package conncore_test

import (
	"testing"

	"github.com/kosmosnet/awh/pkg/conncore"
)

func TestMemoryCounterReserveRelease(t *testing.T) {
	m := conncore.NewMemoryCounter(10)

	if !m.TryReserve(6) {
		t.Fatal("TryReserve(6) = false, want true")
	}
	if m.TryReserve(5) {
		t.Fatal("TryReserve(5) = true, want false (would exceed cap)")
	}
	if m.Available() != 4 {
		t.Fatalf("Available() = %d, want 4", m.Available())
	}

	m.Release(6)
	if m.Available() != 10 {
		t.Fatalf("Available() = %d, want 10 after release", m.Available())
	}
}

func TestMemoryCounterUnbounded(t *testing.T) {
	m := conncore.NewMemoryCounter(0)
	if !m.TryReserve(1 << 30) {
		t.Fatal("TryReserve on unbounded counter should always succeed")
	}
	if m.Available() != -1 {
		t.Fatalf("Available() = %d, want -1 for unbounded", m.Available())
	}
}

func TestPayloadQueueEnqueueAdvance(t *testing.T) {
	g := conncore.NewMemoryCounter(0)
	q := conncore.NewPayloadQueue(g, 0)

	if !q.Enqueue([]byte("hello")) {
		t.Fatal("Enqueue failed")
	}
	if q.Empty() {
		t.Fatal("Empty() = true after enqueue")
	}

	head, ok := q.Head()
	if !ok || string(head) != "hello" {
		t.Fatalf("Head() = %q, %v", head, ok)
	}

	q.Advance(3)
	head, ok = q.Head()
	if !ok || string(head) != "lo" {
		t.Fatalf("Head() after partial advance = %q, %v", head, ok)
	}

	q.Advance(2)
	if !q.Empty() {
		t.Fatal("Empty() = false after full advance")
	}
}

func TestPayloadQueueBackpressure(t *testing.T) {
	g := conncore.NewMemoryCounter(0)
	q := conncore.NewPayloadQueue(g, 4)

	var unavailable int
	q.SetCallbacks(nil, func() { unavailable++ })

	if !q.Enqueue([]byte("ab")) {
		t.Fatal("Enqueue(2 bytes) should succeed under cap 4")
	}
	if q.Enqueue([]byte("abcd")) {
		t.Fatal("Enqueue(4 bytes) should fail: 2+4 > cap 4")
	}
	if unavailable != 1 {
		t.Fatalf("onUnavailable called %d times, want 1", unavailable)
	}
}

func TestPayloadQueueGlobalCapEnforced(t *testing.T) {
	g := conncore.NewMemoryCounter(3)
	q := conncore.NewPayloadQueue(g, 0)

	if q.Enqueue([]byte("abcd")) {
		t.Fatal("Enqueue should fail: global cap is 3, buf is 4 bytes")
	}
	if !q.Enqueue([]byte("abc")) {
		t.Fatal("Enqueue(3 bytes) should succeed at the global cap")
	}
}

func TestPayloadQueueAvailableCallbackOnAdvance(t *testing.T) {
	g := conncore.NewMemoryCounter(0)
	q := conncore.NewPayloadQueue(g, 0)

	var freed int64
	q.SetCallbacks(func(n int64) { freed += n }, nil)

	q.Enqueue([]byte("abcdef"))
	q.Advance(6)

	if freed != 6 {
		t.Fatalf("onAvailable accumulated %d, want 6", freed)
	}
}

func TestPayloadQueueDrain(t *testing.T) {
	g := conncore.NewMemoryCounter(100)
	q := conncore.NewPayloadQueue(g, 0)

	var freed int64
	q.SetCallbacks(func(n int64) { freed = n }, nil)

	q.Enqueue([]byte("abc"))
	q.Enqueue([]byte("de"))

	got := q.Drain()
	if got != 5 {
		t.Fatalf("Drain() = %d, want 5", got)
	}
	if freed != 5 {
		t.Fatalf("onAvailable received %d, want 5", freed)
	}
	if !q.Empty() {
		t.Fatal("Empty() = false after Drain")
	}
	if g.Available() != 100 {
		t.Fatalf("global Available() = %d, want 100 after drain released reservation", g.Available())
	}
}

func TestPayloadQueueNotify(t *testing.T) {
	g := conncore.NewMemoryCounter(0)
	q := conncore.NewPayloadQueue(g, 0)

	select {
	case <-q.Notify():
		t.Fatal("Notify() fired before any enqueue")
	default:
	}

	q.Enqueue([]byte("x"))

	select {
	case <-q.Notify():
	default:
		t.Fatal("Notify() did not fire after enqueue")
	}
}
