package monitoring

import (
	"container/heap"
	"sync"

	"gpu-reaper/core/models"
)

// CancelQueue holds the jobs deferred for reaping. Jobs pop in ascending id
// order and each job is queued at most once.
type CancelQueue struct {
	jobs   jobIDHeap
	queued map[models.JobID]struct{}
	mu     sync.Mutex
}

// NewCancelQueue creates an empty queue
func NewCancelQueue() *CancelQueue {
	q := &CancelQueue{
		jobs:   make(jobIDHeap, 0),
		queued: make(map[models.JobID]struct{}),
	}
	heap.Init(&q.jobs)
	return q
}

// Enqueue adds a job; it reports false if the job was already queued
func (q *CancelQueue) Enqueue(jobID models.JobID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queued[jobID]; ok {
		return false
	}
	q.queued[jobID] = struct{}{}
	heap.Push(&q.jobs, jobID)
	return true
}

// PopJob removes and returns the lowest job id
func (q *CancelQueue) PopJob() (models.JobID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.jobs.Len() == 0 {
		return 0, false
	}
	return heap.Pop(&q.jobs).(models.JobID), true
}

// Len returns the number of queued jobs
func (q *CancelQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs.Len()
}

// jobIDHeap implements heap.Interface
type jobIDHeap []models.JobID

func (h jobIDHeap) Len() int           { return len(h) }
func (h jobIDHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h jobIDHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *jobIDHeap) Push(x interface{}) {
	*h = append(*h, x.(models.JobID))
}

func (h *jobIDHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
