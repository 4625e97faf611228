package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/michaelpoluektov/dspd/internal/domain"
)

// Store implements ports.SessionStore on Redis. Each session is one
// JSON value; a per-owner list keeps insertion order for ListByOwner.
// Single-session atomicity follows from the record living in one key;
// callers serialize writers per session.
type Store struct {
	client *redis.Client
	logger *zap.Logger
	now    func() int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() int64) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Redis-backed session store.
func NewStore(client *redis.Client, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: logger,
		now:    func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create initializes an empty session, failing with Conflict when the
// id is already taken by any owner.
func (s *Store) Create(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	session := domain.NewSession(sessionID, userID, s.now())
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, sessionKey(sessionID), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if !ok {
		return nil, domain.ErrConflict
	}
	if err := s.client.RPush(ctx, ownerKey(userID), sessionID).Err(); err != nil {
		return nil, fmt.Errorf("failed to index session: %w", err)
	}

	s.logger.Debug("session created",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID))
	return session, nil
}

// Get returns the session only when userID matches the stored owner.
func (s *Store) Get(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return session, nil
}

// Update replaces both graph documents and bumps updated_at.
func (s *Store) Update(ctx context.Context, sessionID, userID string, graph, forkedGraph json.RawMessage) (*domain.Session, error) {
	session, err := s.Get(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	session.Graph = graph
	session.ForkedGraph = forkedGraph
	session.UpdatedAt = s.now()

	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sessionID), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	s.logger.Debug("session updated",
		zap.String("session_id", sessionID),
		zap.Int64("updated_at", session.UpdatedAt))
	return session, nil
}

// Delete removes the owned session, reporting whether one was removed.
func (s *Store) Delete(ctx context.Context, sessionID, userID string) (bool, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session == nil || session.UserID != userID {
		return false, nil
	}

	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	if err := s.client.LRem(ctx, ownerKey(userID), 0, sessionID).Err(); err != nil {
		return false, fmt.Errorf("failed to unindex session: %w", err)
	}

	s.logger.Debug("session deleted", zap.String("session_id", sessionID))
	return true, nil
}

// ListByOwner returns the owner's sessions in insertion order.
func (s *Store) ListByOwner(ctx context.Context, userID string) ([]*domain.Session, error) {
	ids, err := s.client.LRange(ctx, ownerKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if session != nil && session.UserID == userID {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}

// load fetches a session by id regardless of owner; nil when absent.
func (s *Store) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("dspd:session:%s", sessionID)
}

func ownerKey(userID string) string {
	return fmt.Sprintf("dspd:user:%s:sessions", userID)
}
