// File: internal/browser/promise/promise.go
package promise

import (
	"context"
	"sync"
	"sync/atomic"
)

// State is the lifecycle state of a Promise. Transitions are irreversible.
type State int

const (
	Pending State = iota
	Fulfilled
	Rejected
)

func (s State) String() string {
	switch s {
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return "pending"
	}
}

var nextID atomic.Uint64

// Promise is a single-resolution future. Resolve and Reject after the first
// settlement are no-ops, which lets several paths race to settle the same
// promise without coordination.
type Promise struct {
	id      uint64
	mu      sync.Mutex
	state   State
	value   any
	reason  error
	handled bool
	done    chan struct{}
	// reactions run once, on the goroutine that settles the promise.
	reactions []func(any, error)
}

// New returns a pending promise.
func New() *Promise {
	return &Promise{id: nextID.Add(1), done: make(chan struct{})}
}

// Resolved returns a promise already fulfilled with v.
func Resolved(v any) *Promise {
	p := New()
	p.Resolve(v)
	return p
}

// RejectedWith returns a promise already rejected with err.
func RejectedWith(err error) *Promise {
	p := New()
	p.Reject(err)
	return p
}

// ID is a process-unique identifier, useful in logs.
func (p *Promise) ID() uint64 { return p.id }

// Resolve fulfills the promise with v. It reports whether this call settled it.
func (p *Promise) Resolve(v any) bool {
	return p.settle(Fulfilled, v, nil)
}

// Reject rejects the promise with err. It reports whether this call settled it.
func (p *Promise) Reject(err error) bool {
	return p.settle(Rejected, nil, err)
}

func (p *Promise) settle(state State, v any, err error) bool {
	p.mu.Lock()
	if p.state != Pending {
		p.mu.Unlock()
		return false
	}
	p.state = state
	p.value = v
	p.reason = err
	reactions := p.reactions
	p.reactions = nil
	close(p.done)
	p.mu.Unlock()

	for _, fn := range reactions {
		fn(v, err)
	}
	return true
}

// State returns the current state.
func (p *Promise) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Value returns the fulfillment value, or nil while pending or rejected.
func (p *Promise) Value() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// Reason returns the rejection reason, or nil unless rejected.
func (p *Promise) Reason() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

// Done is closed once the promise settles.
func (p *Promise) Done() <-chan struct{} { return p.done }

// Await blocks until the promise settles or ctx is done.
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.value, p.reason
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnSettle registers fn to run after settlement. If the promise is already
// settled fn runs immediately on the calling goroutine.
func (p *Promise) OnSettle(fn func(value any, reason error)) {
	p.mu.Lock()
	if p.state == Pending {
		p.reactions = append(p.reactions, fn)
		p.mu.Unlock()
		return
	}
	v, err := p.value, p.reason
	p.mu.Unlock()
	fn(v, err)
}

// MarkHandled flags a rejection as expected so it is not reported as unhandled.
func (p *Promise) MarkHandled() {
	p.mu.Lock()
	p.handled = true
	p.mu.Unlock()
}

// Handled reports whether MarkHandled was called.
func (p *Promise) Handled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handled
}
