package containers

import (
	"errors"
	"testing"
)

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[int](4)

	if !rq.IsEmpty() {
		t.Fatal("new queue should be empty")
	}
	for i := 1; i <= 4; i++ {
		if err := rq.Enqueue(i); err != nil {
			t.Fatal(err)
		}
	}
	if !rq.IsFull() {
		t.Fatal("queue should be full")
	}
	if err := rq.Enqueue(5); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("got %v, want ErrQueueFull", err)
	}

	for i := 1; i <= 4; i++ {
		v, err := rq.Dequeue()
		if err != nil {
			t.Fatal(err)
		}
		if v != i {
			t.Fatalf("dequeued %d, want %d", v, i)
		}
	}
	if _, err := rq.Dequeue(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("got %v, want ErrQueueEmpty", err)
	}
}

func TestRingQueueWrapsAround(t *testing.T) {
	rq := NewRingQueue[string](2)

	// Cycle more elements through than the capacity.
	for i := 0; i < 5; i++ {
		if err := rq.Enqueue("a"); err != nil {
			t.Fatal(err)
		}
		if err := rq.Enqueue("b"); err != nil {
			t.Fatal(err)
		}
		va, _ := rq.Dequeue()
		vb, _ := rq.Dequeue()
		if va != "a" || vb != "b" {
			t.Fatalf("cycle %d: got %q, %q", i, va, vb)
		}
	}
}

func TestRingQueuePeek(t *testing.T) {
	rq := NewRingQueue[int](2)

	if _, err := rq.Peek(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("got %v, want ErrQueueEmpty", err)
	}

	rq.Enqueue(7)
	v, err := rq.Peek()
	if err != nil {
		t.Fatal(err)
	}
	if v != 7 {
		t.Fatalf("peeked %d, want 7", v)
	}
	if rq.Len() != 1 {
		t.Fatal("peek must not consume")
	}
}
