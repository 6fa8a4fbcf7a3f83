package chatsync

import (
	"context"

	"safetrade-chat/internal/domain"
	"safetrade-chat/internal/domain/conversation"
	"safetrade-chat/internal/domain/message"
	"safetrade-chat/internal/domain/user"
)

// MessageStore reads a conversation's history and records that the viewer
// has read it.
type MessageStore interface {
	ListMessages(ctx context.Context, conversationID string) ([]message.Message, error)
	// MarkRead flags every counterpart message in the conversation as read
	// and returns how many rows changed.
	MarkRead(ctx context.Context, conversationID string) (int, error)
}

// ConversationStore serves the viewer's conversation rows. Rows come back
// bare; the engine enriches them.
type ConversationStore interface {
	ListConversations(ctx context.Context) ([]conversation.Conversation, error)
	GetConversation(ctx context.Context, id string) (conversation.Conversation, error)
	// GetOrCreateConversation is idempotent per (listing, buyer, seller).
	// It fails with *VerificationRequiredError before creating anything.
	GetOrCreateConversation(ctx context.Context, listingID, buyerID, sellerID string) (conversation.Conversation, error)
	ConversationActivity(ctx context.Context, id string) (conversation.ActivitySummary, error)
}

// SendRequest is one outgoing message. ClientID carries the temp id.
type SendRequest struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           domain.MessageType
	ClientID       string
}

// FraudScore is the gate's verdict attached to an accepted message.
type FraudScore struct {
	RiskLevel domain.RiskLevel
	Score     int
	Flags     []string
}

type SendResult struct {
	Message message.Message
	Fraud   FraudScore
}

// MessageSender persists a message behind the fraud gate. Blocked content
// fails with *BlockedError; every other failure is a plain error.
type MessageSender interface {
	SendMessage(ctx context.Context, req SendRequest) (SendResult, error)
}

// TypingPublisher upserts and deletes the viewer's own typing indicator.
type TypingPublisher interface {
	StartTyping(ctx context.Context, conversationID string) error
	StopTyping(ctx context.Context, conversationID string) error
}

// ProfileDirectory resolves the denormalized data shown next to rows.
type ProfileDirectory interface {
	Profile(ctx context.Context, userID string) (user.Profile, error)
	Listing(ctx context.Context, listingID string) (conversation.ListingSummary, error)
}

// Backend is everything the engine needs from the server side.
type Backend interface {
	MessageStore
	ConversationStore
	MessageSender
	TypingPublisher
	ProfileDirectory
}
