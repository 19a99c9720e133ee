package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(0)

	a := q.Enqueue("a", SourceUser)
	b := q.Enqueue("b", SourceMail)
	assert.Equal(t, TaskStatusPending, a.Status)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, q.Depth())

	next, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, a.ID, next.ID)
	assert.Equal(t, TaskStatusInProgress, next.Status)
	assert.NotNil(t, next.StartedAt)
	assert.Equal(t, 1, q.Depth())

	next, ok = q.Next()
	require.True(t, ok)
	assert.Equal(t, b.ID, next.ID)
	assert.Equal(t, SourceMail, next.Source)

	_, ok = q.Next()
	assert.False(t, ok)
}

func TestQueue_CompleteAndFail(t *testing.T) {
	q := NewQueue(0)
	a := q.Enqueue("a", SourceUser)
	b := q.Enqueue("b", SourceUser)

	assert.Error(t, q.Complete(a.ID, "early", 0), "pending tasks cannot complete")

	q.Next()
	require.NoError(t, q.Complete(a.ID, "result", 0.5))
	got, err := q.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, got.Status)
	assert.Equal(t, "result", got.Result)
	assert.InDelta(t, 0.5, got.CostUSD, 1e-9)
	assert.NotNil(t, got.CompletedAt)
	assert.Error(t, q.Complete(a.ID, "again", 0))

	q.Next()
	require.NoError(t, q.Fail(b.ID, "boom"))
	got, err = q.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.Zero(t, q.Depth(), "failed tasks are not requeued")

	_, err = q.Get("missing")
	assert.Error(t, err)
}

func TestQueue_CancelAndList(t *testing.T) {
	q := NewQueue(0)
	done := q.Enqueue("done", SourceUser)
	q.Next()
	require.NoError(t, q.Complete(done.ID, "", 0))

	running := q.Enqueue("running", SourceUser)
	q.Next()
	q.Enqueue("p1", SourceUser)
	q.Enqueue("p2", SourceReport)

	list := q.List()
	require.Len(t, list, 4)
	assert.Equal(t, []string{"done", "running", "p1", "p2"}, texts(list))

	assert.Equal(t, 2, q.Cancel())
	assert.Zero(t, q.Depth())

	list = q.List()
	require.Len(t, list, 4)
	assert.Equal(t, TaskStatusInProgress, list[3].Status)
	assert.Equal(t, running.ID, list[3].ID)
	assert.Equal(t, TaskStatusCancelled, list[1].Status)
	assert.Equal(t, TaskStatusCancelled, list[2].Status)
}

func TestQueue_HistoryIsBounded(t *testing.T) {
	q := NewQueue(2)
	var first Task
	for i := 0; i < 3; i++ {
		task := q.Enqueue("t", SourceUser)
		if i == 0 {
			first = task
		}
		q.Next()
		require.NoError(t, q.Complete(task.ID, "", 0))
	}

	assert.Len(t, q.List(), 2)
	_, err := q.Get(first.ID)
	assert.Error(t, err)
}

func texts(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Text
	}
	return out
}
