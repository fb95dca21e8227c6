// File: internal/browser/promise/promise_test.go
package promise

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSingleResolution(t *testing.T) {
	p := New()
	assert.Equal(t, Pending, p.State())

	assert.True(t, p.Resolve("first"))
	assert.False(t, p.Resolve("second"), "second resolve must be a no-op")
	assert.False(t, p.Reject(errors.New("late")), "reject after resolve must be a no-op")

	assert.Equal(t, Fulfilled, p.State())
	assert.Equal(t, "first", p.Value())
	assert.NoError(t, p.Reason())
}

func TestRejectThenResolveIsNoop(t *testing.T) {
	boom := errors.New("boom")
	p := RejectedWith(boom)
	assert.False(t, p.Resolve(1))
	assert.Equal(t, Rejected, p.State())
	assert.ErrorIs(t, p.Reason(), boom)
	assert.Nil(t, p.Value())
}

func TestAwait(t *testing.T) {
	t.Run("returns the value once settled", func(t *testing.T) {
		p := New()
		go func() {
			time.Sleep(5 * time.Millisecond)
			p.Resolve(42)
		}()
		v, err := p.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		p := New()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := p.Await(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, Pending, p.State())
	})
}

func TestOnSettle(t *testing.T) {
	p := New()
	var calls []any
	var mu sync.Mutex
	record := func(v any, err error) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, v)
	}
	p.OnSettle(record)
	p.OnSettle(record)
	p.Resolve("x")
	p.Resolve("y")
	// Late registration runs immediately.
	p.OnSettle(record)

	assert.Equal(t, []any{"x", "x", "x"}, calls)
}

func TestConcurrentSettlement(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	var wins int32
	var mu sync.Mutex
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if p.Resolve(i) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins)
	<-p.Done()
}

func TestMarkHandled(t *testing.T) {
	p := New()
	assert.False(t, p.Handled())
	p.MarkHandled()
	assert.True(t, p.Handled())
	assert.NotEqual(t, p.ID(), New().ID())
}
