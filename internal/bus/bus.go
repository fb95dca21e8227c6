// File: internal/bus/bus.go
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/histcore/api/schemas"
	"go.uber.org/zap"
)

// ErrShutdown is returned by Post once the bus has been shut down.
var ErrShutdown = errors.New("bus is shut down")

// Message is the envelope for script to constellation messages.
type Message struct {
	ID        string
	Timestamp time.Time
	Type      schemas.MessageType
	Payload   interface{}
	// Origin is empty for locally posted messages and names the relay for
	// messages that arrived from another process.
	Origin string
}

// Bus is a typed pub/sub channel between script-side components and the
// constellation. Every delivered message must be acknowledged.
type Bus struct {
	logger *zap.Logger

	subscribers map[schemas.MessageType][]chan Message
	mu          sync.RWMutex
	bufferSize  int

	// Deliveries not yet acknowledged.
	processingWg sync.WaitGroup
	// Post calls in flight.
	activePostsWg sync.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	isShutdown   bool
	shutdownMu   sync.Mutex
}

// New creates a bus whose subscriber channels hold bufferSize messages.
func New(logger *zap.Logger, bufferSize int) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Bus{
		logger:       logger.Named("bus"),
		subscribers:  make(map[schemas.MessageType][]chan Message),
		bufferSize:   bufferSize,
		shutdownChan: make(chan struct{}),
	}
}

// Post sends a message to every subscriber of msgType. It blocks while
// subscriber buffers are full.
func (b *Bus) Post(ctx context.Context, msgType schemas.MessageType, payload interface{}) error {
	return b.post(ctx, Message{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      msgType,
		Payload:   payload,
	})
}

func (b *Bus) post(ctx context.Context, msg Message) error {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return fmt.Errorf("cannot post %s: %w", msg.Type, ErrShutdown)
	}
	b.activePostsWg.Add(1)
	b.shutdownMu.Unlock()
	defer b.activePostsWg.Done()

	b.logger.Debug("Posting message", zap.String("type", string(msg.Type)), zap.String("id", msg.ID))

	b.mu.RLock()
	subscribers, ok := b.subscribers[msg.Type]
	if !ok || len(subscribers) == 0 {
		b.mu.RUnlock()
		return nil
	}
	subsCopy := make([]chan Message, len(subscribers))
	copy(subsCopy, subscribers)
	b.mu.RUnlock()

	for _, ch := range subsCopy {
		b.processingWg.Add(1)
		select {
		case ch <- msg:
		case <-ctx.Done():
			b.processingWg.Done()
			return ctx.Err()
		case <-b.shutdownChan:
			b.processingWg.Done()
			return fmt.Errorf("failed to post %s: %w", msg.Type, ErrShutdown)
		}
	}
	return nil
}

// Subscribe returns a channel receiving the given message types and a
// function that removes the subscription. The channel is closed by Shutdown.
func (b *Bus) Subscribe(msgTypes ...schemas.MessageType) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.shutdownMu.Lock()
	down := b.isShutdown
	b.shutdownMu.Unlock()
	if down {
		closedCh := make(chan Message)
		close(closedCh)
		return closedCh, func() {}
	}

	if len(msgTypes) == 0 {
		panic("must subscribe to at least one message type")
	}

	ch := make(chan Message, b.bufferSize)
	subscribedTypes := make([]schemas.MessageType, len(msgTypes))
	copy(subscribedTypes, msgTypes)

	for _, msgType := range subscribedTypes {
		b.subscribers[msgType] = append(b.subscribers[msgType], ch)
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, msgType := range subscribedTypes {
			subs, exists := b.subscribers[msgType]
			if !exists {
				continue
			}
			for i, subscriberCh := range subs {
				if subscriberCh == ch {
					copy(subs[i:], subs[i+1:])
					b.subscribers[msgType] = subs[:len(subs)-1]
					if len(b.subscribers[msgType]) == 0 {
						delete(b.subscribers, msgType)
					}
					break
				}
			}
		}
	}

	return ch, unsubscribe
}

// Acknowledge marks a delivered message as processed.
func (b *Bus) Acknowledge(Message) {
	b.processingWg.Done()
}

// Shutdown stops accepting posts, closes subscriber channels, drains what
// is still buffered and waits for outstanding acknowledgements.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.logger.Info("Shutting down bus...")

		b.shutdownMu.Lock()
		b.isShutdown = true
		b.shutdownMu.Unlock()

		close(b.shutdownChan)
		b.activePostsWg.Wait()

		b.mu.Lock()
		uniqueChannels := make(map[chan Message]struct{})
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				uniqueChannels[ch] = struct{}{}
			}
		}
		for ch := range uniqueChannels {
			close(ch)
		}
		drainedCount := 0
		for ch := range uniqueChannels {
			for range ch {
				drainedCount++
				b.processingWg.Done()
			}
		}
		b.subscribers = make(map[schemas.MessageType][]chan Message)
		b.mu.Unlock()

		if drainedCount > 0 {
			b.logger.Debug("Drained buffered messages during shutdown.", zap.Int("count", drainedCount))
		}

		b.processingWg.Wait()
		b.logger.Info("Bus shut down gracefully.")
	})
}
