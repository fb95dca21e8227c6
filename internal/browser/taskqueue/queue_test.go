// File: internal/browser/taskqueue/queue_test.go
package taskqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/histcore/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newStartedQueue(t *testing.T) *Queue {
	t.Helper()
	q := New("test", zaptest.NewLogger(t), WithMetrics(observability.NewMetrics(prometheus.NewRegistry(), "test")))
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func TestQueueRunsTasksInSubmissionOrder(t *testing.T) {
	q := New("order", zaptest.NewLogger(t))

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, q.Append("append", func(context.Context) {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	assert.Equal(t, 50, q.Len(), "tasks wait until the queue starts")

	q.Start(context.Background())
	defer q.Stop()
	require.NoError(t, q.Do(context.Background(), "barrier", func(context.Context) {}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueueRunsOneTaskAtATime(t *testing.T) {
	q := newStartedQueue(t)

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, q.Append("serial", func(context.Context) {
			defer wg.Done()
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}))
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}

func TestDoInsideTaskRunsInline(t *testing.T) {
	q := newStartedQueue(t)

	var inner bool
	err := q.Do(context.Background(), "outer", func(ctx context.Context) {
		require.NoError(t, q.Do(ctx, "inner", func(context.Context) { inner = true }))
	})
	require.NoError(t, err)
	assert.True(t, inner)
}

func TestCancellerSkipsPendingTask(t *testing.T) {
	q := New("cancel", zaptest.NewLogger(t))
	c := &Canceller{}
	ran := false
	require.NoError(t, q.AppendWithCanceller("cancellable", c, func(context.Context) { ran = true }))
	c.Cancel()

	q.Start(context.Background())
	defer q.Stop()
	require.NoError(t, q.Do(context.Background(), "barrier", func(context.Context) {}))
	assert.False(t, ran)
	assert.False(t, (*Canceller)(nil).Cancelled())
}

func TestStopRejectsNewWorkAndDropsPending(t *testing.T) {
	q := New("stop", zaptest.NewLogger(t))
	// Never started: the task stays pending until Stop drops it.
	done := make(chan error, 1)
	go func() {
		done <- q.Do(context.Background(), "pending", func(context.Context) {})
	}()
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, time.Millisecond)

	q.Stop()
	assert.ErrorIs(t, <-done, ErrQueueStopped)
	assert.ErrorIs(t, q.Append("late", func(context.Context) {}), ErrQueueStopped)

	// Starting a stopped queue does nothing.
	q.Start(context.Background())
}

func TestPanickingTaskDoesNotKillQueue(t *testing.T) {
	q := newStartedQueue(t)
	err := q.Do(context.Background(), "panics", func(context.Context) { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	require.NoError(t, q.Do(context.Background(), "after", func(context.Context) {}))
}

func TestDoHonorsCallerContext(t *testing.T) {
	q := New("idle", zaptest.NewLogger(t))
	defer q.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := q.Do(ctx, "never", func(context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNilTaskRejected(t *testing.T) {
	q := New("nil", nil)
	assert.Error(t, q.Append("nil", nil))
	assert.Equal(t, "nil", q.Name())
}
