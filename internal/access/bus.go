package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultInvalidationChannel is the pub/sub channel used when none is configured.
const DefaultInvalidationChannel = "access.invalidate"

// InvalidationEvent describes evictions performed on one instance so peers can mirror them.
// Role events carry the holders enumerated by the publisher.
type InvalidationEvent struct {
	Origin  string  `json:"origin"`
	UserIDs []int64 `json:"user_ids,omitempty"`
	RoleIDs []int64 `json:"role_ids,omitempty"`
	All     bool    `json:"all,omitempty"`
}

// Empty reports whether the event evicts nothing.
func (e InvalidationEvent) Empty() bool {
	return !e.All && len(e.UserIDs) == 0 && len(e.RoleIDs) == 0
}

// Broadcaster fans invalidations out to other instances.
type Broadcaster interface {
	Publish(ctx context.Context, event InvalidationEvent) error
	Subscribe(ctx context.Context, handle func(InvalidationEvent)) error
}

// RedisBus implements Broadcaster over Redis pub/sub.
type RedisBus struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
}

// NewRedisBus constructs a bus publishing on channel. Each bus gets a random origin id so an
// instance ignores its own messages.
func NewRedisBus(client *redis.Client, channel string, logger *slog.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisBus{client: client, channel: channel, origin: uuid.NewString(), logger: logger}
}

// Origin returns the id stamped on published events.
func (b *RedisBus) Origin() string {
	return b.origin
}

// Publish sends the event to every subscriber of the channel.
func (b *RedisBus) Publish(ctx context.Context, event InvalidationEvent) error {
	if b == nil || b.client == nil || event.Empty() {
		return nil
	}
	event.Origin = b.origin
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("access: encode invalidation: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("access: publish invalidation: %w", err)
	}
	return nil
}

// Subscribe confirms the subscription, then delivers peer events to handle until ctx ends.
func (b *RedisBus) Subscribe(ctx context.Context, handle func(InvalidationEvent)) error {
	if b == nil || b.client == nil {
		return nil
	}
	if handle == nil {
		return errors.New("access: invalidation handler required")
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("access: subscribe %s: %w", b.channel, err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event InvalidationEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Warn("discard malformed invalidation", slog.String("channel", msg.Channel), slog.Any("error", err))
					continue
				}
				if event.Origin == b.origin {
					continue
				}
				handle(event)
			}
		}
	}()
	return nil
}

var _ Broadcaster = (*RedisBus)(nil)
