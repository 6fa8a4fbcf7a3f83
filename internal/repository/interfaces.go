package repository

import (
	"context"
	"time"

	"safetrade-chat/internal/domain/conversation"
	"safetrade-chat/internal/domain/message"
	"safetrade-chat/internal/domain/user"
)

type UserRepository interface {
	GetProfile(ctx context.Context, id string) (user.Profile, error)
	GetProfiles(ctx context.Context, ids []string) (map[string]user.Profile, error)
}

type ListingRepository interface {
	GetSummary(ctx context.Context, id string) (conversation.ListingSummary, error)
}

type ConversationRepository interface {
	GetByID(ctx context.Context, id string) (conversation.Conversation, error)
	// ListForUser returns bare rows where userID is buyer or seller, most
	// recently updated first.
	ListForUser(ctx context.Context, userID string) ([]conversation.Conversation, error)
	// CreateOrGet returns the row for the triple, creating it when absent.
	// created is false when the row already existed.
	CreateOrGet(ctx context.Context, listingID, buyerID, sellerID string) (c conversation.Conversation, created bool, err error)
	Touch(ctx context.Context, id string, at time.Time) error
}

type MessageRepository interface {
	Create(ctx context.Context, m *message.Message) error
	// ListByConversation returns every message in ascending created_at order.
	ListByConversation(ctx context.Context, conversationID string) ([]message.Message, error)
	// MarkRead flags the counterpart's unread messages as read and returns
	// the rows it changed.
	MarkRead(ctx context.Context, conversationID, readerID string) ([]message.Message, error)
	Activity(ctx context.Context, conversationID, viewerID string) (conversation.ActivitySummary, error)
}
