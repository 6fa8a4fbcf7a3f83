package services

import (
	"context"

	"go.uber.org/zap"

	"safetrade-chat/internal/domain/conversation"
	"safetrade-chat/internal/domain/message"
	"safetrade-chat/internal/events"
)

// EventPublisher turns committed row changes into change-feed events.
// Publishing happens after the write; a failed publish is logged and the
// write still stands.
type EventPublisher struct {
	publisher events.Publisher
	logger    *zap.Logger
}

func NewEventPublisher(publisher events.Publisher, l *zap.Logger) *EventPublisher {
	if l == nil {
		l = zap.NewNop()
	}
	return &EventPublisher{publisher: publisher, logger: l.Named("event_publisher")}
}

func partyScope(c conversation.Conversation) events.Scope {
	return events.Scope{ConversationID: c.ID, PartyIDs: []string{c.BuyerID, c.SellerID}}
}

// PublishMessageInserted announces a new message to the conversation and
// both parties' inboxes.
func (p *EventPublisher) PublishMessageInserted(ctx context.Context, c conversation.Conversation, m message.Message) {
	p.publish(ctx, events.EventInsert, events.TableMessages, m, nil, partyScope(c))
}

// PublishMessagesUpdated announces read-state changes.
func (p *EventPublisher) PublishMessagesUpdated(ctx context.Context, c conversation.Conversation, msgs []message.Message) {
	for _, m := range msgs {
		p.publish(ctx, events.EventUpdate, events.TableMessages, m, nil, partyScope(c))
	}
}

func (p *EventPublisher) PublishConversation(ctx context.Context, typ events.EventType, c conversation.Conversation) {
	p.publish(ctx, typ, events.TableConversations, c, nil, partyScope(c))
}

func (p *EventPublisher) publish(ctx context.Context, typ events.EventType, table events.Table, record, old any, scope events.Scope) {
	if p == nil || p.publisher == nil {
		return
	}
	ev, err := events.NewChangeEvent(typ, table, record, old)
	if err != nil {
		p.logger.Warn("build change event failed", zap.String("table", string(table)), zap.Error(err))
		return
	}
	if err := p.publisher.Publish(ctx, ev, scope); err != nil {
		p.logger.Warn("publish change event failed",
			zap.String("table", string(table)),
			zap.String("type", string(typ)),
			zap.String("conversation_id", scope.ConversationID),
			zap.Error(err))
	}
}
