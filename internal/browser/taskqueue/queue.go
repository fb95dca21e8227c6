// File: internal/browser/taskqueue/queue.go
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/histcore/internal/observability"
)

// ErrQueueStopped is returned for work appended to, or still waiting in, a
// queue that has been stopped.
var ErrQueueStopped = errors.New("task queue stopped")

// Task is a unit of work run on the queue's goroutine.
type Task func(ctx context.Context)

// Canceller lets a producer withdraw tasks that have not started yet.
type Canceller struct {
	cancelled atomic.Bool
}

func (c *Canceller) Cancel()         { c.cancelled.Store(true) }
func (c *Canceller) Cancelled() bool { return c != nil && c.cancelled.Load() }

type item struct {
	label     string
	task      Task
	canceller *Canceller
	done      chan error
}

type runningKey struct{}

// Queue runs tasks one at a time, in submission order, on a dedicated
// goroutine. It backs both the session history traversal queue of a
// traversable and the navigation and traversal task source of a document.
type Queue struct {
	name    string
	logger  *zap.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	pending []*item
	stopped bool
	wake    chan struct{}

	stateLock sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithMetrics reports the queue depth under the queue's name.
func WithMetrics(m *observability.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// New creates a stopped queue. Tasks may be appended before Start; they run
// once the queue starts.
func New(name string, logger *zap.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		name:   name,
		logger: logger.With(zap.String("component", "task_queue"), zap.String("queue", name)),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue's name.
func (q *Queue) Name() string { return q.name }

// Start launches the queue goroutine. Calling Start on a running queue is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.stateLock.Lock()
	defer q.stateLock.Unlock()
	if q.isRunning {
		q.logger.Warn("Queue.Start called, but queue is already running.")
		return
	}
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		q.logger.Warn("Queue.Start called after Stop; ignoring.")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.isRunning = true
	q.wg.Add(1)
	go q.run(context.WithValue(runCtx, runningKey{}, q))
}

// Stop halts the goroutine after the task in flight, if any, returns. Tasks
// still queued are dropped and their waiters receive ErrQueueStopped.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	q.stateLock.Lock()
	cancel := q.cancel
	q.stateLock.Unlock()
	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
	q.drain()

	q.stateLock.Lock()
	q.isRunning = false
	q.stateLock.Unlock()
}

// Append queues task. It never blocks.
func (q *Queue) Append(label string, task Task) error {
	_, err := q.enqueue(label, nil, task)
	return err
}

// AppendWithCanceller queues task; it is skipped if c is cancelled before it starts.
func (q *Queue) AppendWithCanceller(label string, c *Canceller, task Task) error {
	_, err := q.enqueue(label, c, task)
	return err
}

// Do queues task and waits for it to finish. Called from a task already
// running on this queue, it runs task inline instead of deadlocking.
func (q *Queue) Do(ctx context.Context, label string, task Task) error {
	if ctx.Value(runningKey{}) == q {
		task(ctx)
		return nil
	}
	it, err := q.enqueue(label, nil, task)
	if err != nil {
		return err
	}
	select {
	case err := <-it.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) enqueue(label string, c *Canceller, task Task) (*item, error) {
	if task == nil {
		return nil, fmt.Errorf("task queue %s: nil task %q", q.name, label)
	}
	it := &item{label: label, task: task, canceller: c, done: make(chan error, 1)}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, ErrQueueStopped
	}
	q.pending = append(q.pending, it)
	depth := len(q.pending)
	q.mu.Unlock()

	q.metrics.SetQueueDepth(q.name, depth)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return it, nil
}

func (q *Queue) next() (*item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	it := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.metrics.SetQueueDepth(q.name, len(q.pending))
	return it, true
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	q.logger.Debug("Queue goroutine started")

	for {
		if ctx.Err() != nil {
			q.logger.Debug("Context cancelled, queue shutting down.", zap.Error(ctx.Err()))
			return
		}
		it, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				q.logger.Debug("Context cancelled, queue shutting down.", zap.Error(ctx.Err()))
				return
			case <-q.wake:
				continue
			}
		}
		q.execute(ctx, it)
	}
}

func (q *Queue) execute(ctx context.Context, it *item) {
	if it.canceller.Cancelled() {
		q.logger.Debug("Skipping cancelled task", zap.String("task", it.label))
		it.done <- nil
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Task panicked", zap.String("task", it.label), zap.Any("panic", r))
			it.done <- fmt.Errorf("task %q panicked: %v", it.label, r)
		}
	}()
	it.task(ctx)
	it.done <- nil
}

func (q *Queue) drain() {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, it := range dropped {
		it.done <- ErrQueueStopped
	}
	if len(dropped) > 0 {
		q.logger.Debug("Dropped queued tasks on stop", zap.Int("count", len(dropped)))
	}
	q.metrics.SetQueueDepth(q.name, 0)
}
