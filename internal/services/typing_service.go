package services

import (
	"context"

	"safetrade-chat/internal/domain/typing"
)

// TypingStore persists self-expiring typing indicators.
type TypingStore interface {
	Upsert(ctx context.Context, ind typing.Indicator) (typing.Indicator, error)
	Delete(ctx context.Context, conversationID, userID string) error
	List(ctx context.Context, conversationID string) ([]typing.Indicator, error)
}

type TypingService struct {
	convs *ConversationService
	users *UserService
	store TypingStore
}

func NewTypingService(convs *ConversationService, users *UserService, store TypingStore) *TypingService {
	return &TypingService{convs: convs, users: users, store: store}
}

func (s *TypingService) Start(ctx context.Context, conversationID, userID string) (typing.Indicator, error) {
	if _, err := s.convs.Authorize(ctx, conversationID, userID); err != nil {
		return typing.Indicator{}, err
	}
	ind := typing.Indicator{ConversationID: conversationID, UserID: userID}
	if p, err := s.users.Profile(ctx, userID); err == nil {
		ind.DisplayName = p.DisplayName
	}
	return s.store.Upsert(ctx, ind)
}

func (s *TypingService) Stop(ctx context.Context, conversationID, userID string) error {
	if _, err := s.convs.Authorize(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.store.Delete(ctx, conversationID, userID)
}

func (s *TypingService) List(ctx context.Context, conversationID, viewerID string) ([]typing.Indicator, error) {
	if _, err := s.convs.Authorize(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	return s.store.List(ctx, conversationID)
}
