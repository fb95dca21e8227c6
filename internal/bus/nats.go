// File: internal/bus/nats.go
package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"github.com/xkilldash9x/histcore/api/schemas"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "histcore.constellation"

// Publisher is the subset of a NATS connection the relay needs.
type Publisher interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler nats.MsgHandler) (Subscription, error)
}

// Subscription is an active NATS subscription.
type Subscription interface {
	Unsubscribe() error
}

// natsConn adapts *nats.Conn to Publisher.
type natsConn struct{ conn *nats.Conn }

func (c natsConn) Publish(subject string, data []byte) error { return c.conn.Publish(subject, data) }

func (c natsConn) Subscribe(subject string, handler nats.MsgHandler) (Subscription, error) {
	return c.conn.Subscribe(subject, handler)
}

// Connect dials a NATS server with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

// envelope is the wire form of a relayed Message.
type envelope struct {
	ID        string              `json:"id"`
	Type      schemas.MessageType `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Origin    string              `json:"origin"`
	Payload   jsoniter.RawMessage `json:"payload"`
}

// NATSRelay mirrors constellation messages between the local bus and NATS
// subjects named <prefix>.<type>. Messages that arrived over NATS are not
// published back.
type NATSRelay struct {
	logger *zap.Logger
	bus    *Bus
	conn   Publisher
	prefix string
	id     string

	mu     sync.Mutex
	sub    Subscription
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewNATSRelay wraps a live NATS connection.
func NewNATSRelay(logger *zap.Logger, b *Bus, conn *nats.Conn, prefix string) *NATSRelay {
	return NewRelay(logger, b, natsConn{conn: conn}, prefix)
}

// NewRelay builds a relay over any Publisher.
func NewRelay(logger *zap.Logger, b *Bus, conn Publisher, prefix string) *NATSRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	id := uuid.New().String()
	return &NATSRelay{
		logger: logger.Named("nats_relay").With(zap.String("relay_id", id)),
		bus:    b,
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		id:     id,
		done:   make(chan struct{}),
	}
}

// ID identifies this relay in the Origin field of relayed messages.
func (r *NATSRelay) ID() string { return r.id }

// Subject returns the NATS subject for a message type.
func (r *NATSRelay) Subject(t schemas.MessageType) string {
	return r.prefix + "." + string(t)
}

// Relayable reports whether a message type can cross process boundaries.
// JointSessionHistoryLength carries a reply channel and stays local.
func Relayable(t schemas.MessageType) bool {
	return t != schemas.MessageJointSessionHistoryLength
}

// Start subscribes to both sides. It returns once subscriptions are in
// place; forwarding runs until ctx is done or Close is called.
func (r *NATSRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("relay already closed")
	}

	sub, err := r.conn.Subscribe(r.prefix+".>", func(m *nats.Msg) {
		r.handleInbound(ctx, m)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s.>: %w", r.prefix, err)
	}
	r.sub = sub

	var types []schemas.MessageType
	for _, t := range schemas.AllMessageTypes {
		if Relayable(t) {
			types = append(types, t)
		}
	}
	msgs, unsub := r.bus.Subscribe(types...)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				r.forward(msg)
				r.bus.Acknowledge(msg)
			case <-ctx.Done():
				r.release(msgs, unsub)
				return
			case <-r.done:
				r.release(msgs, unsub)
				return
			}
		}
	}()

	r.logger.Info("NATS relay started", zap.String("prefix", r.prefix))
	return nil
}

// release unsubscribes from the bus and acknowledges whatever is still
// buffered so Bus.Shutdown does not wait on it.
func (r *NATSRelay) release(msgs <-chan Message, unsub func()) {
	unsub()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			r.bus.Acknowledge(msg)
		default:
			return
		}
	}
}

func (r *NATSRelay) forward(msg Message) {
	if msg.Origin != "" {
		return
	}
	data, err := encodeEnvelope(msg, r.id)
	if err != nil {
		r.logger.Warn("Failed to encode message for relay", zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}
	if err := r.conn.Publish(r.Subject(msg.Type), data); err != nil {
		r.logger.Warn("Failed to publish message", zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

func (r *NATSRelay) handleInbound(ctx context.Context, m *nats.Msg) {
	msg, origin, err := decodeEnvelope(m.Data)
	if err != nil {
		r.logger.Warn("Dropping malformed relay message", zap.String("subject", m.Subject), zap.Error(err))
		return
	}
	if origin == r.id {
		return
	}
	msg.Origin = origin
	if err := r.bus.post(ctx, msg); err != nil {
		r.logger.Debug("Failed to post relayed message", zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

// Close removes both subscriptions and waits for the forwarding loop.
func (r *NATSRelay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sub := r.sub
	close(r.done)
	r.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	r.wg.Wait()
	return err
}

func encodeEnvelope(msg Message, origin string) ([]byte, error) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msg.Type, err)
	}
	return json.Marshal(envelope{
		ID:        msg.ID,
		Type:      msg.Type,
		Timestamp: msg.Timestamp,
		Origin:    origin,
		Payload:   payload,
	})
}

func decodeEnvelope(data []byte) (Message, string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, "", fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	payload, err := decodePayload(env.Type, env.Payload)
	if err != nil {
		return Message{}, "", err
	}
	return Message{
		ID:        env.ID,
		Timestamp: env.Timestamp,
		Type:      env.Type,
		Payload:   payload,
	}, env.Origin, nil
}

func decodePayload(t schemas.MessageType, raw []byte) (interface{}, error) {
	var (
		target interface{}
		out    func() interface{}
	)
	switch t {
	case schemas.MessageLoadURL:
		var v schemas.LoadURLMessage
		target, out = &v, func() interface{} { return v }
	case schemas.MessageAbortLoadURL:
		var v schemas.AbortLoadURLMessage
		target, out = &v, func() interface{} { return v }
	case schemas.MessageNavigatedToFragment:
		var v schemas.NavigatedToFragmentMessage
		target, out = &v, func() interface{} { return v }
	case schemas.MessageTraverseHistory:
		var v schemas.TraverseHistoryMessage
		target, out = &v, func() interface{} { return v }
	case schemas.MessagePushHistoryState, schemas.MessageReplaceHistoryState:
		var v schemas.HistoryStateMessage
		target, out = &v, func() interface{} { return v }
	default:
		return nil, fmt.Errorf("message type %q cannot be relayed", t)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", t, err)
	}
	return out(), nil
}
