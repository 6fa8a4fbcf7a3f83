package websocket

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"safetrade-chat/internal/domain/conversation"
	"safetrade-chat/internal/events"
	safetrade_errors "safetrade-chat/pkg/errors"
)

// ConversationLookup is the slice of the conversation repository the
// authorizer needs.
type ConversationLookup interface {
	GetByID(ctx context.Context, id string) (conversation.Conversation, error)
}

// ChannelAuthorizer handles authorization for WebSocket topic subscriptions
type ChannelAuthorizer struct {
	conversations ConversationLookup
}

func NewChannelAuthorizer(conversations ConversationLookup) *ChannelAuthorizer {
	return &ChannelAuthorizer{conversations: conversations}
}

// CanSubscribe reports whether userID may receive events on topic. Users may
// follow their own inbox and the message and typing topics of conversations
// they are a party to.
func (a *ChannelAuthorizer) CanSubscribe(ctx context.Context, userID, topic string) (bool, error) {
	if userID == "" {
		return false, nil
	}

	if strings.HasPrefix(topic, events.ChannelPrefixUser) {
		return topic == events.ChannelPrefixUser+userID, nil
	}

	var convID string
	switch {
	case strings.HasPrefix(topic, events.ChannelPrefixConversation):
		convID = strings.TrimPrefix(topic, events.ChannelPrefixConversation)
	case strings.HasPrefix(topic, events.ChannelPrefixTyping):
		convID = strings.TrimPrefix(topic, events.ChannelPrefixTyping)
	default:
		return false, nil
	}
	if _, err := uuid.Parse(convID); err != nil {
		return false, nil
	}

	conv, err := a.conversations.GetByID(ctx, convID)
	if err != nil {
		if errors.Is(err, safetrade_errors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return conv.HasParty(userID), nil
}
