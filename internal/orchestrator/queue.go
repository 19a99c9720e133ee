package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TaskSource says where a task came from.
type TaskSource string

const (
	SourceUser   TaskSource = "user"
	SourceMail   TaskSource = "mail"
	SourceReport TaskSource = "report"
)

// Task is one unit of orchestrator work: a prompt handled in a single turn.
type Task struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	Source      TaskSource `json:"source"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CostUSD     float64    `json:"cost_usd,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// defaultHistory bounds how many finished tasks the queue remembers.
const defaultHistory = 200

// Queue is the FIFO of pending tasks plus a bounded history of finished ones.
type Queue struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	queue   []string // pending ids in arrival order
	done    []string // finished ids, oldest first
	history int
}

// NewQueue creates an empty queue
func NewQueue(history int) *Queue {
	if history <= 0 {
		history = defaultHistory
	}
	return &Queue{
		tasks:   make(map[string]*Task),
		history: history,
	}
}

// Enqueue appends a task and returns a copy of it.
func (q *Queue) Enqueue(text string, source TaskSource) Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	task := &Task{
		ID:        uuid.New().String(),
		Text:      text,
		Source:    source,
		Status:    TaskStatusPending,
		CreatedAt: time.Now(),
	}
	q.tasks[task.ID] = task
	q.queue = append(q.queue, task.ID)
	return *task
}

// Next removes the oldest pending task and marks it in progress.
func (q *Queue) Next() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 {
		return Task{}, false
	}
	id := q.queue[0]
	q.queue = q.queue[1:]

	task := q.tasks[id]
	now := time.Now()
	task.Status = TaskStatusInProgress
	task.StartedAt = &now
	return *task, true
}

// Complete marks a task as completed
func (q *Queue) Complete(id, result string, cost float64) error {
	return q.finish(id, func(t *Task) {
		t.Status = TaskStatusCompleted
		t.Result = result
		t.CostUSD = cost
	})
}

// Fail marks a task as failed. Failed tasks are not requeued.
func (q *Queue) Fail(id, errMsg string) error {
	return q.finish(id, func(t *Task) {
		t.Status = TaskStatusFailed
		t.Error = errMsg
	})
}

// Cancel drops every pending task and returns how many there were.
func (q *Queue) Cancel() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.queue)
	now := time.Now()
	for _, id := range q.queue {
		task := q.tasks[id]
		task.Status = TaskStatusCancelled
		task.CompletedAt = &now
		q.retireLocked(id)
	}
	q.queue = nil
	return n
}

func (q *Queue) finish(id string, apply func(*Task)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	if task.Status != TaskStatusInProgress {
		return fmt.Errorf("task %s is not in progress (status: %s)", id, task.Status)
	}
	now := time.Now()
	apply(task)
	task.CompletedAt = &now
	q.retireLocked(id)
	return nil
}

func (q *Queue) retireLocked(id string) {
	q.done = append(q.done, id)
	for len(q.done) > q.history {
		delete(q.tasks, q.done[0])
		q.done = q.done[1:]
	}
}

// Get retrieves a task by ID
func (q *Queue) Get(id string) (Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	task, ok := q.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task not found: %s", id)
	}
	return *task, nil
}

// List returns finished tasks, oldest first, then in-progress and pending ones.
func (q *Queue) List() []Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Task, 0, len(q.tasks))
	for _, id := range q.done {
		out = append(out, *q.tasks[id])
	}
	for _, t := range q.tasks {
		if t.Status == TaskStatusInProgress {
			out = append(out, *t)
		}
	}
	for _, id := range q.queue {
		out = append(out, *q.tasks[id])
	}
	return out
}

// Depth returns the number of pending tasks
func (q *Queue) Depth() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.queue)
}
