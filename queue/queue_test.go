package queue

import (
	"sync"
	"testing"
	"time"
)

// TestFIFOOrder verifies messages come out in arrival order
func TestFIFOOrder(t *testing.T) {
	q := New[int]()

	for i := 0; i < 100; i++ {
		q.Push(i)
	}

	for i := 0; i < 100; i++ {
		if got := q.Pop(); got != i {
			t.Fatalf("Pop returned %d, want %d", got, i)
		}
	}

	if q.Len() != 0 {
		t.Errorf("Queue not empty after draining, depth %d", q.Len())
	}
}

// TestPopBlocksUntilPush verifies Pop blocks on an empty queue and wakes on Push
func TestPopBlocksUntilPush(t *testing.T) {
	q := New[string]()
	done := make(chan string, 1)

	go func() {
		done <- q.Pop()
	}()

	select {
	case v := <-done:
		t.Fatalf("Pop returned %q before anything was pushed", v)
	case <-time.After(50 * time.Millisecond):
	}

	q.Push("frame")

	select {
	case v := <-done:
		if v != "frame" {
			t.Errorf("Pop returned %q, want %q", v, "frame")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after Push")
	}
}

// TestPushNeverBlocks verifies the queue is unbounded: depth grows when
// nobody consumes, and Push stays non-blocking
func TestPushNeverBlocks(t *testing.T) {
	q := New[int]()

	const n = 10000
	start := time.Now()
	for i := 0; i < n; i++ {
		q.Push(i)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Pushing %d messages took %v, expected non-blocking pushes", n, elapsed)
	}

	if q.Len() != n {
		t.Errorf("Queue depth %d, want %d", q.Len(), n)
	}
}

// TestConcurrentProducersConsumers runs multiple producers and consumers
// and verifies no message is lost or duplicated
func TestConcurrentProducersConsumers(t *testing.T) {
	q := New[int]()

	const (
		producers   = 4
		perProducer = 500
		consumers   = 3
	)
	total := producers * perProducer

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base + i)
			}
		}(p * perProducer)
	}

	results := make(chan int, total)
	for c := 0; c < consumers; c++ {
		go func() {
			for {
				results <- q.Pop()
			}
		}()
	}

	wg.Wait()

	seen := make(map[int]bool, total)
	for i := 0; i < total; i++ {
		select {
		case v := <-results:
			if seen[v] {
				t.Fatalf("Message %d delivered twice", v)
			}
			seen[v] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out after %d of %d messages", i, total)
		}
	}
}

// TestTryPop verifies non-blocking pop semantics
func TestTryPop(t *testing.T) {
	q := New[int]()

	if _, ok := q.TryPop(); ok {
		t.Error("TryPop on empty queue reported a message")
	}

	q.Push(42)
	v, ok := q.TryPop()
	if !ok || v != 42 {
		t.Errorf("TryPop = (%d, %v), want (42, true)", v, ok)
	}
}

// TestSharedMessageAcrossQueues verifies two queues can carry the same
// payload by reference without copying
func TestSharedMessageAcrossQueues(t *testing.T) {
	a := New[[]byte]()
	b := New[[]byte]()

	payload := []byte{1, 2, 3, 4}
	a.Push(payload)
	b.Push(payload)

	va := a.Pop()
	vb := b.Pop()
	if &va[0] != &vb[0] {
		t.Error("Queues copied the payload instead of sharing the reference")
	}
}
