package bus_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/histcore/api/schemas"
	"github.com/xkilldash9x/histcore/internal/bus"
	"go.uber.org/zap/zaptest"
)

// loopback routes publishes to every subscription whose subject pattern
// matches, standing in for a NATS server.
type loopback struct {
	mu        sync.Mutex
	subs      map[int]loopbackSub
	next      int
	published []string
	failWith  error
}

type loopbackSub struct {
	pattern string
	handler nats.MsgHandler
}

type loopbackSubscription struct {
	lb *loopback
	id int
}

func (s loopbackSubscription) Unsubscribe() error {
	s.lb.mu.Lock()
	defer s.lb.mu.Unlock()
	delete(s.lb.subs, s.id)
	return nil
}

func newLoopback() *loopback { return &loopback{subs: make(map[int]loopbackSub)} }

func (l *loopback) Publish(subject string, data []byte) error {
	l.mu.Lock()
	if l.failWith != nil {
		l.mu.Unlock()
		return l.failWith
	}
	l.published = append(l.published, subject)
	var handlers []nats.MsgHandler
	for _, s := range l.subs {
		if strings.HasSuffix(s.pattern, ".>") && strings.HasPrefix(subject, strings.TrimSuffix(s.pattern, ">")) {
			handlers = append(handlers, s.handler)
		}
	}
	l.mu.Unlock()
	for _, h := range handlers {
		h(&nats.Msg{Subject: subject, Data: data})
	}
	return nil
}

func (l *loopback) Subscribe(subject string, handler nats.MsgHandler) (bus.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	l.subs[l.next] = loopbackSub{pattern: subject, handler: handler}
	return loopbackSubscription{lb: l, id: l.next}, nil
}

func (l *loopback) subjects() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.published...)
}

func TestNATSRelay_ForwardsBetweenBuses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lb := newLoopback()
	busA := newTestBus(t, 8)
	busB := newTestBus(t, 8)
	defer busA.Shutdown()
	defer busB.Shutdown()

	relayA := bus.NewRelay(zaptest.NewLogger(t), busA, lb, "")
	relayB := bus.NewRelay(zaptest.NewLogger(t), busB, lb, "")
	require.NoError(t, relayA.Start(ctx))
	require.NoError(t, relayB.Start(ctx))
	defer relayA.Close()
	defer relayB.Close()

	received, unsubscribe := busB.Subscribe(schemas.MessagePushHistoryState)
	defer unsubscribe()

	payload := schemas.HistoryStateMessage{
		TraversableID: "tab-1",
		NavigableID:   3,
		StateID:       "state-1",
		URL:           "https://example.com/a",
		State:         []byte(`{"n":1}`),
	}
	require.NoError(t, busA.Post(ctx, schemas.MessagePushHistoryState, payload))

	select {
	case msg := <-received:
		assert.Equal(t, schemas.MessagePushHistoryState, msg.Type)
		assert.Equal(t, payload, msg.Payload)
		assert.Equal(t, relayA.ID(), msg.Origin)
		busB.Acknowledge(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("relayed message did not arrive")
	}

	// Only the original post crosses the wire; relayB does not echo it back.
	assert.Eventually(t, func() bool {
		return len(lb.subjects()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool {
		return len(lb.subjects()) > 1
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, []string{"histcore.constellation.PushHistoryState"}, lb.subjects())
}

func TestNATSRelay_SkipsLocalOnlyMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lb := newLoopback()
	b := newTestBus(t, 4)
	defer b.Shutdown()

	relay := bus.NewRelay(zaptest.NewLogger(t), b, lb, "tabs.")
	require.NoError(t, relay.Start(ctx))
	defer relay.Close()

	assert.Equal(t, "tabs.LoadURL", relay.Subject(schemas.MessageLoadURL))
	assert.False(t, bus.Relayable(schemas.MessageJointSessionHistoryLength))
	assert.True(t, bus.Relayable(schemas.MessageTraverseHistory))

	reply := make(chan int, 1)
	require.NoError(t, b.Post(ctx, schemas.MessageJointSessionHistoryLength, schemas.JointSessionHistoryLengthMessage{
		TraversableID: "tab-1",
		Reply:         reply,
	}))
	assert.Never(t, func() bool { return len(lb.subjects()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestNATSRelay_DropsMalformedInbound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lb := newLoopback()
	b := newTestBus(t, 4)
	defer b.Shutdown()

	relay := bus.NewRelay(zaptest.NewLogger(t), b, lb, "")
	require.NoError(t, relay.Start(ctx))
	defer relay.Close()

	received, unsubscribe := b.Subscribe(schemas.AllMessageTypes...)
	defer unsubscribe()

	require.NoError(t, lb.Publish("histcore.constellation.LoadURL", []byte("{not json")))
	require.NoError(t, lb.Publish("histcore.constellation.JointSessionHistoryLength",
		[]byte(`{"id":"x","type":"JointSessionHistoryLength","origin":"elsewhere","payload":{}}`)))

	select {
	case msg := <-received:
		t.Fatalf("malformed message reached the bus: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNATSRelay_PublishFailureKeepsForwarding(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lb := newLoopback()
	lb.failWith = errors.New("connection closed")
	b := newTestBus(t, 4)

	relay := bus.NewRelay(zaptest.NewLogger(t), b, lb, "")
	require.NoError(t, relay.Start(ctx))

	require.NoError(t, b.Post(ctx, schemas.MessageLoadURL, schemas.LoadURLMessage{TraversableID: "tab-1"}))

	// Shutdown only returns once the relay acknowledged the failed forward.
	done := make(chan struct{})
	go func() {
		b.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bus shutdown blocked on an unacknowledged relay message")
	}
	require.NoError(t, relay.Close())
	assert.Error(t, relay.Start(ctx), "a closed relay cannot be restarted")
}
