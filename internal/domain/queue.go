package domain

import (
	"container/heap"
	"errors"
)

// ErrQueueEmpty is returned by Pop on an empty queue.
var ErrQueueEmpty = errors.New("pop from an empty work queue")

// queueEntry is one heap slot: (negated priority, insertion sequence, job).
// A nil job marks a tombstone left behind by Remove or a re-prioritizing Push.
type queueEntry struct {
	priority int
	seq      uint64
	job      *Job
}

type entryHeap []*queueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(*queueEntry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// OrderedWorkQueue is a priority-ordered queue of pending jobs. Higher
// priority pops first; equal priorities pop in insertion order. Removal is
// lazy: entries are tombstoned and evicted when a Pop encounters them, so
// arbitrary removal never rebuilds the heap.
type OrderedWorkQueue struct {
	heap    entryHeap
	entries map[string]*queueEntry
	seq     uint64
}

// NewOrderedWorkQueue returns an empty queue.
func NewOrderedWorkQueue() *OrderedWorkQueue {
	return &OrderedWorkQueue{
		entries: make(map[string]*queueEntry),
	}
}

// Push inserts the job at the given priority. If the job is already queued it
// is re-inserted, so only the most recent priority takes effect and the job is
// never duplicated.
func (q *OrderedWorkQueue) Push(job *Job, priority int) {
	if e, ok := q.entries[job.Origin]; ok {
		e.job = nil
		delete(q.entries, job.Origin)
	}
	e := &queueEntry{
		priority: -priority,
		seq:      q.seq,
		job:      job,
	}
	q.seq++
	heap.Push(&q.heap, e)
	q.entries[job.Origin] = e
}

// Pop removes and returns the highest-priority, earliest-inserted live job,
// discarding any tombstones it passes over. Returns ErrQueueEmpty when no
// live entries remain.
func (q *OrderedWorkQueue) Pop() (*Job, error) {
	for q.heap.Len() > 0 {
		e := heap.Pop(&q.heap).(*queueEntry)
		if e.job == nil {
			continue
		}
		delete(q.entries, e.job.Origin)
		return e.job, nil
	}
	return nil, ErrQueueEmpty
}

// Remove tombstones the job's entry. No-op when the job is not queued.
func (q *OrderedWorkQueue) Remove(job *Job) {
	if e, ok := q.entries[job.Origin]; ok {
		e.job = nil
		delete(q.entries, job.Origin)
	}
}

// Contains reports whether the job is queued.
func (q *OrderedWorkQueue) Contains(job *Job) bool {
	_, ok := q.entries[job.Origin]
	return ok
}

// Len returns the number of live entries.
func (q *OrderedWorkQueue) Len() int {
	return len(q.entries)
}

// All returns a snapshot of the queued jobs in no particular order.
func (q *OrderedWorkQueue) All() []*Job {
	jobs := make([]*Job, 0, len(q.entries))
	for _, e := range q.entries {
		jobs = append(jobs, e.job)
	}
	return jobs
}
