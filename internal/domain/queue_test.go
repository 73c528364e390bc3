package domain

import (
	"errors"
	"testing"
)

func mkJob(origin string, priority int) *Job {
	return NewJob(origin, Options{}, priority)
}

func popOrigin(t *testing.T, q *OrderedWorkQueue) string {
	t.Helper()
	job, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	return job.Origin
}

func TestOrderedWorkQueue_PriorityOrder(t *testing.T) {
	q := NewOrderedWorkQueue()
	a := mkJob("a", 5)
	b := mkJob("b", 1)
	c := mkJob("c", 5)
	q.Push(a, a.Priority)
	q.Push(b, b.Priority)
	q.Push(c, c.Priority)

	// Higher priority first; equal priorities in insertion order.
	want := []string{"a", "c", "b"}
	for i, origin := range want {
		if got := popOrigin(t, q); got != origin {
			t.Errorf("pop %d = %q, want %q", i, got, origin)
		}
	}
}

func TestOrderedWorkQueue_FIFOWithinPriority(t *testing.T) {
	q := NewOrderedWorkQueue()
	origins := []string{"one", "two", "three", "four"}
	for _, origin := range origins {
		q.Push(mkJob(origin, 7), 7)
	}
	for i, origin := range origins {
		if got := popOrigin(t, q); got != origin {
			t.Errorf("pop %d = %q, want %q", i, got, origin)
		}
	}
}

func TestOrderedWorkQueue_PopEmpty(t *testing.T) {
	q := NewOrderedWorkQueue()
	if _, err := q.Pop(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Pop() error = %v, want %v", err, ErrQueueEmpty)
	}
}

func TestOrderedWorkQueue_RemoveTombstones(t *testing.T) {
	q := NewOrderedWorkQueue()
	a := mkJob("a", 5)
	b := mkJob("b", 5)
	q.Push(a, 5)
	q.Push(b, 5)

	q.Remove(a)
	if q.Contains(a) {
		t.Error("Contains(a) = true after Remove")
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}

	// A tombstoned entry must never be yielded.
	if got := popOrigin(t, q); got != "b" {
		t.Errorf("Pop() = %q, want %q", got, "b")
	}
	if _, err := q.Pop(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Pop() error = %v, want %v", err, ErrQueueEmpty)
	}
}

func TestOrderedWorkQueue_RepushUpdatesPriority(t *testing.T) {
	q := NewOrderedWorkQueue()
	a := mkJob("a", 1)
	b := mkJob("b", 5)
	q.Push(a, 1)
	q.Push(b, 5)

	// Re-pushing changes priority without duplicating the job.
	q.Push(a, 10)
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	if got := popOrigin(t, q); got != "a" {
		t.Errorf("Pop() = %q, want %q after re-push", got, "a")
	}
	if got := popOrigin(t, q); got != "b" {
		t.Errorf("Pop() = %q, want %q", got, "b")
	}
}

func TestOrderedWorkQueue_RemoveThenRepush(t *testing.T) {
	q := NewOrderedWorkQueue()
	a := mkJob("a", 5)
	q.Push(a, 5)
	q.Remove(a)
	q.Push(a, 2)

	if got := popOrigin(t, q); got != "a" {
		t.Errorf("Pop() = %q, want %q", got, "a")
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestOrderedWorkQueue_All(t *testing.T) {
	q := NewOrderedWorkQueue()
	q.Push(mkJob("a", 1), 1)
	q.Push(mkJob("b", 2), 2)

	all := q.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d jobs, want 2", len(all))
	}
	seen := map[string]bool{}
	for _, job := range all {
		seen[job.Origin] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("All() = %v, want a and b", seen)
	}
}
