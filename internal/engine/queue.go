package engine

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

// job is the queued unit of work for one task execution. The same job is
// re-enqueued on retry with attempts advanced; identity and admission order
// are preserved.
type job struct {
	taskID      string
	kind        types.TaskKind
	owner       string
	priority    int
	admittedAt  time.Time
	attempts    int
	maxAttempts int
	quota       Quota
	payload     any
	modelID     string

	// cancelled is set when the task is cancelled while still queued; the
	// dispatcher drops the job instead of running it.
	cancelled atomic.Bool
}

// jobQueue holds pending jobs in strict priority classes, FIFO within each
// class. Not safe for concurrent use; the engine serializes access.
type jobQueue struct {
	byClass map[int][]*job
	classes []int // sorted descending
	size    int
}

func newJobQueue() *jobQueue {
	return &jobQueue{byClass: make(map[int][]*job)}
}

func (q *jobQueue) push(j *job) {
	if _, ok := q.byClass[j.priority]; !ok {
		q.classes = append(q.classes, j.priority)
		sort.Sort(sort.Reverse(sort.IntSlice(q.classes)))
	}
	q.byClass[j.priority] = append(q.byClass[j.priority], j)
	q.size++
}

// popEligible removes and returns the first job, scanning classes high to
// low and each class in admission order, for which eligible returns true.
// Cancelled jobs are dropped during the scan.
func (q *jobQueue) popEligible(eligible func(*job) bool) *job {
	for _, class := range q.classes {
		queue := q.byClass[class]
		for i := 0; i < len(queue); i++ {
			j := queue[i]
			if j.cancelled.Load() {
				q.byClass[class] = append(queue[:i:i], queue[i+1:]...)
				queue = q.byClass[class]
				q.size--
				i--
				continue
			}
			if !eligible(j) {
				continue
			}
			q.byClass[class] = append(queue[:i:i], queue[i+1:]...)
			q.size--
			return j
		}
	}
	return nil
}

// remove drops the job with the given task id, returning it if found.
func (q *jobQueue) remove(taskID string) *job {
	for class, queue := range q.byClass {
		for i, j := range queue {
			if j.taskID == taskID {
				q.byClass[class] = append(queue[:i:i], queue[i+1:]...)
				q.size--
				return j
			}
		}
	}
	return nil
}

func (q *jobQueue) len() int { return q.size }
