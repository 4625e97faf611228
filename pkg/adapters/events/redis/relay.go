package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/michaelpoluektov/dspd/internal/ports"
	"github.com/michaelpoluektov/dspd/pkg/adapters/events/memory"
)

const channelPattern = "dspd:updates:*"

// Relay extends the in-process broadcaster across replicas via Redis
// pub/sub: every notify is also published, and a background reader
// replays remote notifications into the local registry. Pub/sub (not
// streams) because update fan-out wants every replica to see every
// message, not consumer-group competition.
type Relay struct {
	local  *memory.Broadcaster
	client *redis.Client
	logger *zap.Logger
	origin string
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// relayMessage is the cross-replica wire format.
type relayMessage struct {
	Origin    string `json:"origin"`
	Op        string `json:"op"` // "update" or "drop"
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
}

// NewRelay wraps local and starts the pub/sub reader.
func NewRelay(client *redis.Client, local *memory.Broadcaster, logger *zap.Logger) (*Relay, error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := client.PSubscribe(ctx, channelPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to update channel: %w", err)
	}

	r := &Relay{
		local:  local,
		client: client,
		logger: logger,
		origin: uuid.New().String(),
		pubsub: pubsub,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.read(ctx)

	logger.Info("update relay started", zap.String("origin", r.origin))
	return r, nil
}

// Subscribe implements ports.Broadcaster.
func (r *Relay) Subscribe(sessionID string) ports.Subscription {
	return r.local.Subscribe(sessionID)
}

// Notify implements ports.Broadcaster: local delivery plus a publish
// so other replicas re-read and deliver to their own subscribers.
func (r *Relay) Notify(ctx context.Context, sessionID, userID string) {
	r.local.Notify(ctx, sessionID, userID)
	r.publish(ctx, relayMessage{
		Origin:    r.origin,
		Op:        "update",
		SessionID: sessionID,
		UserID:    userID,
	})
}

// Drop implements ports.Broadcaster.
func (r *Relay) Drop(sessionID string) {
	r.local.Drop(sessionID)
	r.publish(context.Background(), relayMessage{
		Origin:    r.origin,
		Op:        "drop",
		SessionID: sessionID,
	})
}

// Close implements ports.Broadcaster.
func (r *Relay) Close() error {
	r.cancel()
	err := r.pubsub.Close()
	<-r.done
	if lerr := r.local.Close(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}

func (r *Relay) publish(ctx context.Context, msg relayMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to marshal relay message", zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, updateChannel(msg.SessionID), data).Err(); err != nil {
		r.logger.Error("failed to publish update",
			zap.String("session_id", msg.SessionID),
			zap.Error(err))
	}
}

// read replays remote notifications into the local registry until the
// relay is closed.
func (r *Relay) read(ctx context.Context) {
	defer close(r.done)
	for msg := range r.pubsub.Channel() {
		var rm relayMessage
		if err := json.Unmarshal([]byte(msg.Payload), &rm); err != nil {
			r.logger.Warn("dropping malformed relay message", zap.Error(err))
			continue
		}
		if rm.Origin == r.origin {
			continue
		}
		switch rm.Op {
		case "update":
			r.local.Notify(ctx, rm.SessionID, rm.UserID)
		case "drop":
			r.local.Drop(rm.SessionID)
		default:
			r.logger.Warn("dropping relay message with unknown op", zap.String("op", rm.Op))
		}
	}
}

func updateChannel(sessionID string) string {
	return fmt.Sprintf("dspd:updates:%s", sessionID)
}
