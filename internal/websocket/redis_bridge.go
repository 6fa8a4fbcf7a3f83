package websocket

import (
	"context"

	"go.uber.org/zap"

	"safetrade-chat/internal/events"
)

// RedisBridge fans change events published on Redis out to hub subscribers.
type RedisBridge struct {
	subscriber events.Subscriber
	hub        *Hub
	logger     *zap.Logger
}

func NewRedisBridge(subscriber events.Subscriber, hub *Hub, l *zap.Logger) *RedisBridge {
	if l == nil {
		l = zap.NewNop()
	}
	return &RedisBridge{subscriber: subscriber, hub: hub, logger: l.Named("redis_bridge")}
}

// Run blocks until ctx is cancelled or the subscription fails. With no
// patterns it follows every change-event channel.
func (b *RedisBridge) Run(ctx context.Context, patterns ...string) error {
	if len(patterns) == 0 {
		patterns = []string{events.ChannelPattern}
	}
	return b.subscriber.Subscribe(ctx, patterns, func(channel string, payload []byte) {
		if n := b.hub.Broadcast(channel, payload); n > 0 {
			b.logger.Debug("event fanned out", zap.String("channel", channel), zap.Int("clients", n))
		}
	})
}
