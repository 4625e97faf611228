package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelpoluektov/dspd/internal/domain"
	"github.com/michaelpoluektov/dspd/internal/ports"
)

// Broadcaster fans graph updates out to in-process subscribers. The
// per-session registry lives behind one mutex; delivery channels are
// bounded and overflow drops the oldest snapshot so a slow subscriber
// never blocks a notifier.
type Broadcaster struct {
	store   ports.SessionStore
	metrics ports.MetricsCollector
	logger  *zap.Logger
	buffer  int

	mu       sync.RWMutex
	sessions map[string]map[string]*subscription
}

// NewBroadcaster creates a broadcaster that re-reads graphs from store
// on every notify. buffer is the per-subscriber channel capacity.
func NewBroadcaster(store ports.SessionStore, metrics ports.MetricsCollector, logger *zap.Logger, buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{
		store:    store,
		metrics:  metrics,
		logger:   logger,
		buffer:   buffer,
		sessions: make(map[string]map[string]*subscription),
	}
}

type subscription struct {
	id        string
	sessionID string
	ch        chan json.RawMessage
	b         *Broadcaster
	once      sync.Once
}

// Updates implements ports.Subscription.
func (s *subscription) Updates() <-chan json.RawMessage { return s.ch }

// Cancel implements ports.Subscription. Removing and closing happen
// under the registry lock, so a concurrent Notify can never push into
// a closed channel.
func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()
		s.b.remove(s)
	})
}

// remove detaches the subscription; callers hold b.mu.
func (b *Broadcaster) remove(s *subscription) {
	subs, ok := b.sessions[s.sessionID]
	if !ok {
		return
	}
	if _, ok := subs[s.id]; !ok {
		return
	}
	delete(subs, s.id)
	if len(subs) == 0 {
		delete(b.sessions, s.sessionID)
	}
	close(s.ch)
	b.metrics.DecSubscribers()
}

// Subscribe implements ports.Broadcaster.
func (b *Broadcaster) Subscribe(sessionID string) ports.Subscription {
	sub := &subscription{
		id:        uuid.New().String(),
		sessionID: sessionID,
		ch:        make(chan json.RawMessage, b.buffer),
		b:         b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessions[sessionID] == nil {
		b.sessions[sessionID] = make(map[string]*subscription)
	}
	b.sessions[sessionID][sub.id] = sub
	b.metrics.IncSubscribers()

	b.logger.Debug("subscriber registered",
		zap.String("session_id", sessionID),
		zap.String("subscription_id", sub.id))
	return sub
}

// Notify implements ports.Broadcaster. The graph is re-read from the
// store so subscribers observe exactly what was persisted; a session
// that no longer exists is a silent no-op.
func (b *Broadcaster) Notify(ctx context.Context, sessionID, userID string) {
	session, err := b.store.Get(ctx, sessionID, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			b.logger.Error("failed to read session for notify",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.sessions[sessionID] {
		b.push(sub, session.Graph)
	}
}

// push delivers without ever blocking: when the channel is full the
// oldest snapshot is dropped in favor of the newest.
func (b *Broadcaster) push(sub *subscription, doc json.RawMessage) {
	for {
		select {
		case sub.ch <- doc:
			return
		default:
		}
		select {
		case <-sub.ch:
			b.logger.Warn("slow subscriber, dropping oldest snapshot",
				zap.String("session_id", sub.sessionID),
				zap.String("subscription_id", sub.id))
		default:
		}
	}
}

// Drop implements ports.Broadcaster, releasing every subscription of a
// deleted session.
func (b *Broadcaster) Drop(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.sessions[sessionID] {
		b.remove(sub)
	}
}

// Close implements ports.Broadcaster.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.sessions {
		for _, sub := range subs {
			b.remove(sub)
		}
	}
	return nil
}
