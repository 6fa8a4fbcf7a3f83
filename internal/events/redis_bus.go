package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher delivers change events to every channel interested in them.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent, scope Scope) error
}

// RedisPublisher implements Publisher using Redis Pub/Sub
type RedisPublisher struct {
	client   *redis.Client
	resolver ChannelResolver
	logger   *zap.Logger
}

func NewRedisPublisher(client *redis.Client, resolver ChannelResolver, l *zap.Logger) *RedisPublisher {
	if resolver == nil {
		resolver = NewHybridChannelResolver()
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &RedisPublisher{client: client, resolver: resolver, logger: l}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev ChangeEvent, scope Scope) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CommitTimestamp.IsZero() {
		ev.CommitTimestamp = time.Now().UTC()
	}

	channels := p.resolver.ResolveChannels(ev, scope)
	if len(channels) == 0 {
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var errs []error
	for _, channel := range channels {
		if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
			p.logger.Warn("publish failed", zap.String("channel", channel), zap.Error(err))
			errs = append(errs, fmt.Errorf("publish %s: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}

// NewChangeEvent builds an event from typed rows. old may be nil.
func NewChangeEvent(typ EventType, table Table, record, old any) (ChangeEvent, error) {
	ev := ChangeEvent{
		ID:              uuid.NewString(),
		Type:            typ,
		Table:           table,
		CommitTimestamp: time.Now().UTC(),
	}
	if record != nil {
		data, err := json.Marshal(record)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("marshal record: %w", err)
		}
		ev.Record = data
	}
	if old != nil {
		data, err := json.Marshal(old)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("marshal old record: %w", err)
		}
		ev.OldRecord = data
	}
	return ev, nil
}
