package bus_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/histcore/api/schemas"
	"github.com/xkilldash9x/histcore/internal/bus"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func newTestBus(t *testing.T, bufferSize int) *bus.Bus {
	logger := zaptest.NewLogger(t)
	return bus.New(logger, bufferSize)
}

func TestBus_PostDeliversToTypedSubscribers(t *testing.T) {
	b := newTestBus(t, 4)
	defer b.Shutdown()

	loads, unsubLoads := b.Subscribe(schemas.MessageLoadURL)
	defer unsubLoads()
	traversals, unsubTraversals := b.Subscribe(schemas.MessageTraverseHistory)
	defer unsubTraversals()

	payload := schemas.TraverseHistoryMessage{TraversableID: "tab-1", Direction: schemas.Back(1)}
	require.NoError(t, b.Post(context.Background(), schemas.MessageTraverseHistory, payload))

	select {
	case msg := <-traversals:
		assert.Equal(t, schemas.MessageTraverseHistory, msg.Type)
		assert.Equal(t, payload, msg.Payload)
		assert.NotEmpty(t, msg.ID)
		assert.Empty(t, msg.Origin)
		b.Acknowledge(msg)
	case <-time.After(time.Second):
		t.Fatal("traversal message was not delivered")
	}

	select {
	case msg := <-loads:
		t.Fatalf("LoadURL subscriber received %s", msg.Type)
	default:
	}
}

func TestBus_PostWithoutSubscribers(t *testing.T) {
	b := newTestBus(t, 0)
	defer b.Shutdown()
	assert.NoError(t, b.Post(context.Background(), schemas.MessageAbortLoadURL, schemas.AbortLoadURLMessage{}))
}

func TestBus_Unsubscribe(t *testing.T) {
	b := newTestBus(t, 1)
	defer b.Shutdown()

	ch, unsubscribe := b.Subscribe(schemas.MessagePushHistoryState)
	unsubscribe()

	require.NoError(t, b.Post(context.Background(), schemas.MessagePushHistoryState, schemas.HistoryStateMessage{}))
	select {
	case <-ch:
		t.Fatal("unsubscribed channel received a message")
	default:
	}
}

func TestBus_Post_CancellationCorrectness(t *testing.T) {
	// Unbuffered so Post blocks until the message is read.
	b := newTestBus(t, 0)
	defer b.Shutdown()

	msgChan, unsubscribe := b.Subscribe(schemas.MessageLoadURL)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	postDone := make(chan error)
	go func() {
		postDone <- b.Post(ctx, schemas.MessageLoadURL, schemas.LoadURLMessage{})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-postDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Post did not return promptly after context cancellation.")
	}

	select {
	case <-msgChan:
		t.Error("Message should not have been delivered after cancellation.")
	default:
	}
}

func TestBus_PostAfterShutdown(t *testing.T) {
	b := newTestBus(t, 0)
	b.Shutdown()

	err := b.Post(context.Background(), schemas.MessageLoadURL, schemas.LoadURLMessage{})
	assert.ErrorIs(t, err, bus.ErrShutdown)

	ch, unsubscribe := b.Subscribe(schemas.MessageLoadURL)
	defer unsubscribe()
	_, ok := <-ch
	assert.False(t, ok, "subscribing after shutdown yields a closed channel")
}

func TestBus_Shutdown_UnderLoad(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := newTestBus(t, 5)

	var subscriberWg sync.WaitGroup
	const numSubscribers = 10
	for i := 0; i < numSubscribers; i++ {
		subscriberWg.Add(1)
		msgChan, _ := b.Subscribe(schemas.MessagePushHistoryState)
		go func() {
			defer subscriberWg.Done()
			for msg := range msgChan {
				time.Sleep(time.Millisecond)
				b.Acknowledge(msg)
			}
		}()
	}

	producerCtx, producerCancel := context.WithCancel(context.Background())
	var producerWg sync.WaitGroup
	const numProducers = 10
	for i := 0; i < numProducers; i++ {
		producerWg.Add(1)
		go func(id int) {
			defer producerWg.Done()
			for j := 0; j < 50; j++ {
				_ = b.Post(producerCtx, schemas.MessagePushHistoryState, schemas.HistoryStateMessage{
					TraversableID: fmt.Sprintf("tab-%d", id),
					URL:           fmt.Sprintf("https://example.com/%d", j),
				})
				if producerCtx.Err() != nil {
					return
				}
			}
		}(i)
	}

	time.Sleep(100 * time.Millisecond)

	shutdownDone := make(chan struct{})
	go func() {
		b.Shutdown()
		close(shutdownDone)
	}()
	producerCancel()

	select {
	case <-shutdownDone:
	case <-time.After(10 * time.Second):
		t.Fatal("Bus shutdown timed out. Potential deadlock or failure to drain.")
	}

	producerWg.Wait()
	subscriberWg.Wait()
}
