package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"safetrade-chat/internal/domain"
)

// RedisFeed is a Feed reading change events straight from Redis Pub/Sub.
// The ctx given to Subscribe bounds only the subscribe call; the
// subscription lives until Unsubscribe.
type RedisFeed struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisFeed(client *redis.Client, l *zap.Logger) *RedisFeed {
	if l == nil {
		l = zap.NewNop()
	}
	return &RedisFeed{client: client, logger: l.Named("redis_feed")}
}

func (f *RedisFeed) Subscribe(ctx context.Context, filter Filter, onEvent Handler, onStatus StatusHandler) (Subscription, error) {
	if filter.Topic == "" {
		return nil, errors.New("subscribe: empty topic")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	listenCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		pubsub: f.client.Subscribe(listenCtx, filter.Topic),
		cancel: cancel,
		logger: f.logger.With(zap.String("topic", filter.Topic)),
	}
	go sub.listen(listenCtx, filter, onEvent, onStatus)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	logger *zap.Logger
	closed atomic.Bool
	once   sync.Once
}

func (s *redisSubscription) listen(ctx context.Context, filter Filter, onEvent Handler, onStatus StatusHandler) {
	notify := func(status domain.ConnectionStatus, err error) {
		if onStatus != nil {
			onStatus(status, err)
		}
	}

	for {
		msg, err := s.pubsub.Receive(ctx)
		if err != nil {
			if s.closed.Load() || ctx.Err() != nil {
				notify(domain.ConnectionDisconnected, nil)
			} else {
				s.logger.Warn("subscription ended", zap.Error(err))
				notify(domain.ConnectionDisconnected, err)
			}
			return
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				notify(domain.ConnectionConnected, nil)
			}
		case *redis.Message:
			var ev ChangeEvent
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				s.logger.Debug("dropping malformed event", zap.Error(err))
				continue
			}
			if filter.Matches(ev) && onEvent != nil {
				onEvent(ev)
			}
		}
	}
}

func (s *redisSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		err = s.pubsub.Close()
	})
	return err
}
