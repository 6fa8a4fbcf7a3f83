package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"safetrade-chat/internal/domain/typing"
	"safetrade-chat/internal/events"
)

// Key patterns:
// - typing:{conversation_id}          set of user ids with a live indicator
// - typing:{conversation_id}:{user_id} indicator JSON with TTL
const typingKeyPrefix = "typing:"

// DefaultTypingTTL bounds how long an indicator survives without a refresh
// when its owner never deletes it.
const DefaultTypingTTL = 10 * time.Second

// TypingStore keeps typing indicators as self-expiring keys and publishes a
// change event for every upsert and delete.
type TypingStore struct {
	client    *goredis.Client
	publisher events.Publisher
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewTypingStore(client *goredis.Client, publisher events.Publisher, ttl time.Duration, l *zap.Logger) *TypingStore {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &TypingStore{
		client:    client,
		publisher: publisher,
		ttl:       ttl,
		logger:    l.Named("typing_store"),
		now:       time.Now,
	}
}

func typingSetKey(conversationID string) string {
	return typingKeyPrefix + conversationID
}

func typingKey(conversationID, userID string) string {
	return fmt.Sprintf("%s%s:%s", typingKeyPrefix, conversationID, userID)
}

// Upsert records that userID is typing in conversationID now.
func (s *TypingStore) Upsert(ctx context.Context, ind typing.Indicator) (typing.Indicator, error) {
	if ind.ConversationID == "" || ind.UserID == "" {
		return typing.Indicator{}, errors.New("typing indicator needs conversation and user")
	}
	ind.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(ind)
	if err != nil {
		return typing.Indicator{}, err
	}

	key := typingKey(ind.ConversationID, ind.UserID)
	existed, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return typing.Indicator{}, fmt.Errorf("typing lookup: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.SAdd(ctx, typingSetKey(ind.ConversationID), ind.UserID)
	pipe.Expire(ctx, typingSetKey(ind.ConversationID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return typing.Indicator{}, fmt.Errorf("typing upsert: %w", err)
	}

	typ := events.EventInsert
	if existed > 0 {
		typ = events.EventUpdate
	}
	s.publish(ctx, typ, ind.ConversationID, &ind, nil)
	return ind, nil
}

// Delete removes the indicator. Deleting a missing indicator is not an error
// and publishes nothing.
func (s *TypingStore) Delete(ctx context.Context, conversationID, userID string) error {
	key := typingKey(conversationID, userID)

	pipe := s.client.TxPipeline()
	getCmd := pipe.Get(ctx, key)
	pipe.Del(ctx, key)
	pipe.SRem(ctx, typingSetKey(conversationID), userID)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("typing delete: %w", err)
	}

	raw, err := getCmd.Bytes()
	if err != nil {
		return nil
	}
	var old typing.Indicator
	if err := json.Unmarshal(raw, &old); err != nil {
		old = typing.Indicator{ConversationID: conversationID, UserID: userID}
	}
	s.publish(ctx, events.EventDelete, conversationID, nil, &old)
	return nil
}

// List returns the live indicators of a conversation.
func (s *TypingStore) List(ctx context.Context, conversationID string) ([]typing.Indicator, error) {
	userIDs, err := s.client.SMembers(ctx, typingSetKey(conversationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("typing members: %w", err)
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = typingKey(conversationID, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("typing values: %w", err)
	}

	out := make([]typing.Indicator, 0, len(values))
	var expired []interface{}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, userIDs[i])
			continue
		}
		var ind typing.Indicator
		if err := json.Unmarshal([]byte(str), &ind); err != nil {
			continue
		}
		out = append(out, ind)
	}
	if len(expired) > 0 {
		s.client.SRem(ctx, typingSetKey(conversationID), expired...)
	}
	return out, nil
}

func (s *TypingStore) publish(ctx context.Context, typ events.EventType, conversationID string, record, old *typing.Indicator) {
	if s.publisher == nil {
		return
	}
	var rec, prev any
	if record != nil {
		rec = record
	}
	if old != nil {
		prev = old
	}
	ev, err := events.NewChangeEvent(typ, events.TableTyping, rec, prev)
	if err != nil {
		s.logger.Warn("typing event build failed", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, ev, events.Scope{ConversationID: conversationID}); err != nil {
		s.logger.Warn("typing event publish failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
}
