// File: internal/constellation/constellation.go
package constellation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/histcore/api/schemas"
	"github.com/xkilldash9x/histcore/internal/browser/history"
	"github.com/xkilldash9x/histcore/internal/browser/navigable"
	"github.com/xkilldash9x/histcore/internal/browser/navigation"
	"github.com/xkilldash9x/histcore/internal/browser/taskqueue"
	"github.com/xkilldash9x/histcore/internal/bus"
	"github.com/xkilldash9x/histcore/internal/config"
	"github.com/xkilldash9x/histcore/internal/observability"
)

var (
	// ErrUnknownTraversable is returned for messages naming a traversable the
	// constellation does not own.
	ErrUnknownTraversable = errors.New("unknown traversable")
	// ErrDuplicateTraversable is returned when adding an id that is already owned.
	ErrDuplicateTraversable = errors.New("traversable already registered")
	// ErrRateLimited is returned when a traversable sends history state
	// updates faster than allowed.
	ErrRateLimited = errors.New("history state update rate limited")
	// ErrUnexpectedPayload is returned when a message carries the wrong payload type.
	ErrUnexpectedPayload = errors.New("unexpected message payload")
)

const (
	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomeThrottled = "throttled"
	outcomeUnknown   = "unknown_traversable"
)

type loadKey struct {
	traversable string
	navigable   history.NavigableID
}

type owned struct {
	t       *navigable.Traversable
	limiter *rate.Limiter
}

// Constellation owns top-level traversables and applies the history
// messages script posts on the bus to them.
type Constellation struct {
	logger  *zap.Logger
	bus     *bus.Bus
	cfg     config.HistoryConfig
	metrics *observability.Metrics
	guard   navigable.UnloadGuard

	mu           sync.RWMutex
	traversables map[string]*owned
	pendingLoads map[loadKey]*taskqueue.Canceller
}

// Option configures a Constellation.
type Option func(*Constellation)

// WithMetrics records handled messages and is passed on to traversables.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Constellation) { c.metrics = m }
}

// WithUnloadGuard is installed on every traversable the constellation opens.
func WithUnloadGuard(g navigable.UnloadGuard) Option {
	return func(c *Constellation) { c.guard = g }
}

// New creates a constellation consuming b.
func New(logger *zap.Logger, b *bus.Bus, cfg config.HistoryConfig, opts ...Option) *Constellation {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Constellation{
		logger:       logger.Named("constellation"),
		bus:          b,
		cfg:          cfg,
		traversables: make(map[string]*owned),
		pendingLoads: make(map[loadKey]*taskqueue.Canceller),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open creates and starts a top-level traversable showing rawURL.
func (c *Constellation) Open(ctx context.Context, id, rawURL string) (*navigable.Traversable, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse initial URL %q: %w", rawURL, err)
	}
	ds := history.NewDocumentState(history.OriginFromURL(u), history.DocumentStateOptions{
		InitialAboutBlank: u.String() == "about:blank",
	})
	opts := []navigable.Option{
		navigable.WithID(id),
		navigable.WithMetrics(c.metrics),
		navigable.WithMaxEntries(c.cfg.MaxEntries),
	}
	if c.guard != nil {
		opts = append(opts, navigable.WithUnloadGuard(c.guard))
	}
	t, err := navigable.NewTopLevelTraversable(c.logger, ds, u, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Add(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Add takes ownership of t, for example one restored from a snapshot, and
// starts its traversal queue.
func (c *Constellation) Add(ctx context.Context, t *navigable.Traversable) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.traversables[t.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTraversable, t.ID())
	}
	limit, burst := c.cfg.StateRateLimit, c.cfg.StateBurst
	if limit <= 0 {
		limit = float64(rate.Inf)
	}
	if burst <= 0 {
		burst = 1
	}
	c.traversables[t.ID()] = &owned{t: t, limiter: rate.NewLimiter(rate.Limit(limit), burst)}
	t.Start(ctx)
	c.logger.Info("Traversable added", zap.String("traversable_id", t.ID()))
	return nil
}

// Remove stops and forgets traversable id.
func (c *Constellation) Remove(id string) error {
	c.mu.Lock()
	o, ok := c.traversables[id]
	if ok {
		delete(c.traversables, id)
		for k, canceller := range c.pendingLoads {
			if k.traversable == id {
				canceller.Cancel()
				delete(c.pendingLoads, k)
			}
		}
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTraversable, id)
	}
	o.t.Stop()
	return nil
}

// Traversable returns the owned traversable with the given id.
func (c *Constellation) Traversable(id string) (*navigable.Traversable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.traversables[id]
	if !ok {
		return nil, false
	}
	return o.t, true
}

// Traversables returns every owned traversable.
func (c *Constellation) Traversables() []*navigable.Traversable {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*navigable.Traversable, 0, len(c.traversables))
	for _, o := range c.traversables {
		out = append(out, o.t)
	}
	return out
}

// Run consumes script messages until ctx is done or the bus shuts down.
// Messages are handled one at a time in arrival order.
func (c *Constellation) Run(ctx context.Context) error {
	msgs, unsubscribe := c.bus.Subscribe(schemas.AllMessageTypes...)
	defer unsubscribe()

	c.logger.Info("Constellation running")
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("Bus closed, constellation stopping")
				return nil
			}
			if err := c.Handle(ctx, msg); err != nil {
				c.logger.Warn("Failed to handle message",
					zap.String("type", string(msg.Type)),
					zap.String("id", msg.ID),
					zap.Error(err))
			}
			c.bus.Acknowledge(msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown stops every owned traversable.
func (c *Constellation) Shutdown() error {
	c.mu.Lock()
	all := c.traversables
	c.traversables = make(map[string]*owned)
	for k, canceller := range c.pendingLoads {
		canceller.Cancel()
		delete(c.pendingLoads, k)
	}
	c.mu.Unlock()

	var g errgroup.Group
	for _, o := range all {
		t := o.t
		g.Go(func() error {
			t.Stop()
			return nil
		})
	}
	return g.Wait()
}

// Handle applies one message.
func (c *Constellation) Handle(ctx context.Context, msg bus.Message) error {
	err := c.handle(ctx, msg)
	outcome := outcomeOK
	switch {
	case err == nil:
	case errors.Is(err, ErrRateLimited):
		outcome = outcomeThrottled
	case errors.Is(err, ErrUnknownTraversable):
		outcome = outcomeUnknown
	default:
		outcome = outcomeError
	}
	c.metrics.RecordMessage(string(msg.Type), outcome)
	return err
}

func (c *Constellation) handle(ctx context.Context, msg bus.Message) error {
	switch p := msg.Payload.(type) {
	case schemas.LoadURLMessage:
		return c.loadURL(p)
	case schemas.AbortLoadURLMessage:
		return c.abortLoadURL(p)
	case schemas.NavigatedToFragmentMessage:
		return c.navigatedToFragment(ctx, p)
	case schemas.TraverseHistoryMessage:
		return c.traverseHistory(ctx, p)
	case schemas.HistoryStateMessage:
		switch msg.Type {
		case schemas.MessagePushHistoryState:
			return c.historyState(ctx, p, schemas.HistoryBehaviorPush)
		case schemas.MessageReplaceHistoryState:
			return c.historyState(ctx, p, schemas.HistoryBehaviorReplace)
		}
	case schemas.JointSessionHistoryLengthMessage:
		return c.jointSessionHistoryLength(ctx, p)
	}
	return fmt.Errorf("%w: %s carries %T", ErrUnexpectedPayload, msg.Type, msg.Payload)
}

func (c *Constellation) lookup(id string) (*owned, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.traversables[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTraversable, id)
	}
	return o, nil
}

// navigableID maps the zero id of a message to the traversable's root.
func navigableID(t *navigable.Traversable, id uint64) history.NavigableID {
	if id == 0 {
		return t.Root().ID()
	}
	return history.NavigableID(id)
}

// onQueue runs fn on t's traversal queue and waits, bounded by the
// configured traversal timeout.
func (c *Constellation) onQueue(ctx context.Context, t *navigable.Traversable, label string, fn func(ctx context.Context) error) error {
	if c.cfg.TraversalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.TraversalTimeout)
		defer cancel()
	}
	var taskErr error
	if err := t.Queue().Do(ctx, label, func(context.Context) {
		taskErr = fn(ctx)
	}); err != nil {
		return fmt.Errorf("%s on traversable %s: %w", label, t.ID(), err)
	}
	return taskErr
}

// loadURL queues the navigation and returns; AbortLoadURL can withdraw it
// until it starts.
func (c *Constellation) loadURL(m schemas.LoadURLMessage) error {
	o, err := c.lookup(m.TraversableID)
	if err != nil {
		return err
	}
	u, err := url.Parse(m.Load.URL)
	if err != nil {
		return fmt.Errorf("failed to parse load URL %q: %w", m.Load.URL, err)
	}
	navID := navigableID(o.t, m.NavigableID)
	doc, err := navigation.NewDocument(o.t, navID, c.logger)
	if err != nil {
		return err
	}

	key := loadKey{traversable: o.t.ID(), navigable: navID}
	canceller := &taskqueue.Canceller{}
	c.mu.Lock()
	if prev, ok := c.pendingLoads[key]; ok {
		prev.Cancel()
	}
	c.pendingLoads[key] = canceller
	c.mu.Unlock()

	params := navigation.NavigateParams{URL: u, Behavior: m.Behavior, State: m.Load.NavigationAPIState}
	return o.t.Queue().AppendWithCanceller("load url", canceller, func(ctx context.Context) {
		c.mu.Lock()
		if c.pendingLoads[key] == canceller {
			delete(c.pendingLoads, key)
		}
		c.mu.Unlock()
		if c.cfg.TraversalTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.TraversalTimeout)
			defer cancel()
		}
		if err := doc.Navigate(ctx, params); err != nil {
			c.logger.Warn("Load failed", zap.String("url", u.String()), zap.Error(err))
		}
	})
}

func (c *Constellation) abortLoadURL(m schemas.AbortLoadURLMessage) error {
	o, err := c.lookup(m.TraversableID)
	if err != nil {
		return err
	}
	key := loadKey{traversable: o.t.ID(), navigable: navigableID(o.t, m.NavigableID)}
	c.mu.Lock()
	canceller, ok := c.pendingLoads[key]
	delete(c.pendingLoads, key)
	c.mu.Unlock()
	if ok {
		canceller.Cancel()
		c.logger.Debug("Pending load aborted", zap.String("traversable_id", key.traversable), zap.Uint64("navigable", uint64(key.navigable)))
	}
	return nil
}

func (c *Constellation) navigatedToFragment(ctx context.Context, m schemas.NavigatedToFragmentMessage) error {
	o, err := c.lookup(m.TraversableID)
	if err != nil {
		return err
	}
	u, err := url.Parse(m.URL)
	if err != nil {
		return fmt.Errorf("failed to parse fragment URL %q: %w", m.URL, err)
	}
	doc, err := navigation.NewDocument(o.t, navigableID(o.t, m.NavigableID), c.logger)
	if err != nil {
		return err
	}
	return c.onQueue(ctx, o.t, "navigated to fragment", func(ctx context.Context) error {
		return doc.Navigate(ctx, navigation.NavigateParams{URL: u, Behavior: m.Behavior})
	})
}

func (c *Constellation) traverseHistory(ctx context.Context, m schemas.TraverseHistoryMessage) error {
	o, err := c.lookup(m.TraversableID)
	if err != nil {
		return err
	}
	return c.onQueue(ctx, o.t, "traverse history", func(ctx context.Context) error {
		res, err := o.t.TraverseByDelta(ctx, m.Direction.Delta())
		if err != nil {
			return err
		}
		c.logger.Debug("Traversed history", zap.String("traversable_id", o.t.ID()), zap.Int("delta", m.Direction.Delta()), zap.String("result", string(res)))
		return nil
	})
}

// historyState commits a pushState or replaceState entry. The entry stays
// in the active document.
func (c *Constellation) historyState(ctx context.Context, m schemas.HistoryStateMessage, handling schemas.NavigationHistoryBehavior) error {
	o, err := c.lookup(m.TraversableID)
	if err != nil {
		return err
	}
	if !o.limiter.Allow() {
		return fmt.Errorf("%w: traversable %s", ErrRateLimited, m.TraversableID)
	}
	navID := navigableID(o.t, m.NavigableID)
	nav, ok := o.t.Navigable(navID)
	if !ok {
		return fmt.Errorf("%w: %d", navigable.ErrNavigableNotFound, navID)
	}

	return c.onQueue(ctx, o.t, string(handling)+" history state", func(ctx context.Context) error {
		active := nav.ActiveEntry()
		if active == nil {
			return fmt.Errorf("navigable %d has no active entry", navID)
		}
		u := active.URL
		if m.URL != "" {
			parsed, err := active.URL.Parse(m.URL)
			if err != nil {
				return fmt.Errorf("failed to parse state URL %q: %w", m.URL, err)
			}
			u = parsed
		}
		var entry *history.SessionHistoryEntry
		if handling == schemas.HistoryBehaviorReplace {
			entry = history.ReplacementFor(active, u, active.DocumentState)
			entry.NavigationAPIState = active.NavigationAPIState
		} else {
			entry = history.NewEntry(u, active.DocumentState)
		}
		entry.ClassicHistoryAPIState = m.State
		entry.ScrollRestorationMode = active.ScrollRestorationMode

		res, err := o.t.CommitEntry(ctx, navID, entry, handling)
		if err != nil {
			return err
		}
		if res != navigable.Applied {
			return fmt.Errorf("%s history state was not applied: %s", handling, res)
		}
		return nil
	})
}

func (c *Constellation) jointSessionHistoryLength(ctx context.Context, m schemas.JointSessionHistoryLengthMessage) error {
	o, err := c.lookup(m.TraversableID)
	if err != nil {
		return err
	}
	if m.Reply == nil {
		return fmt.Errorf("%w: JointSessionHistoryLength without reply channel", ErrUnexpectedPayload)
	}
	length := len(o.t.GetAllUsedHistorySteps())
	select {
	case m.Reply <- length:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
		return fmt.Errorf("reply for joint session history length of %s was not received", m.TraversableID)
	}
}
