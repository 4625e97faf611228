package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/michaelpoluektov/dspd/internal/domain"
)

// Store implements ports.SessionStore with an in-process map. Suitable
// for single-replica deployments and tests.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	byOwner  map[string][]string // owner -> session ids in insertion order
	now      func() int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() int64) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty in-memory session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*domain.Session),
		byOwner:  make(map[string][]string),
		now:      func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create initializes an empty session. The id must be globally unused,
// regardless of owner.
func (s *Store) Create(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; exists {
		return nil, domain.ErrConflict
	}
	session := domain.NewSession(sessionID, userID, s.now())
	s.sessions[sessionID] = session
	s.byOwner[userID] = append(s.byOwner[userID], sessionID)
	return session.Clone(), nil
}

// Get returns the session only when userID matches the stored owner.
func (s *Store) Get(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return session.Clone(), nil
}

// Update replaces both graph documents and bumps updated_at.
func (s *Store) Update(ctx context.Context, sessionID, userID string, graph, forkedGraph json.RawMessage) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != userID {
		return nil, domain.ErrNotFound
	}
	updated := session.Clone()
	updated.Graph = append(json.RawMessage(nil), graph...)
	updated.ForkedGraph = append(json.RawMessage(nil), forkedGraph...)
	updated.UpdatedAt = s.now()
	s.sessions[sessionID] = updated
	return updated.Clone(), nil
}

// Delete removes the owned session, reporting whether one was removed.
func (s *Store) Delete(ctx context.Context, sessionID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != userID {
		return false, nil
	}
	delete(s.sessions, sessionID)
	ids := s.byOwner[userID]
	for i, id := range ids {
		if id == sessionID {
			s.byOwner[userID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return true, nil
}

// ListByOwner returns the owner's sessions in insertion order.
func (s *Store) ListByOwner(ctx context.Context, userID string) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byOwner[userID]
	sessions := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		if session, ok := s.sessions[id]; ok {
			sessions = append(sessions, session.Clone())
		}
	}
	return sessions, nil
}
