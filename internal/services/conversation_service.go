package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"safetrade-chat/internal/domain/conversation"
	"safetrade-chat/internal/events"
	"safetrade-chat/internal/repository"
	safetrade_errors "safetrade-chat/pkg/errors"
)

type ConversationService struct {
	convRepo    repository.ConversationRepository
	messageRepo repository.MessageRepository
	userRepo    repository.UserRepository
	publisher   *EventPublisher
	logger      *zap.Logger
}

func NewConversationService(
	convRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	publisher *EventPublisher,
	l *zap.Logger,
) *ConversationService {
	if l == nil {
		l = zap.NewNop()
	}
	return &ConversationService{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		userRepo:    userRepo,
		publisher:   publisher,
		logger:      l.Named("conversation_service"),
	}
}

// Authorize loads the conversation and checks that userID is one of its
// parties.
func (s *ConversationService) Authorize(ctx context.Context, conversationID, userID string) (conversation.Conversation, error) {
	if conversationID == "" || userID == "" {
		return conversation.Conversation{}, safetrade_errors.ErrInvalidInput
	}
	c, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if !c.HasParty(userID) {
		return conversation.Conversation{}, safetrade_errors.ErrForbidden
	}
	return c, nil
}

func (s *ConversationService) ListForUser(ctx context.Context, userID string) ([]conversation.Conversation, error) {
	if userID == "" {
		return nil, safetrade_errors.ErrInvalidInput
	}
	return s.convRepo.ListForUser(ctx, userID)
}

// Activity returns message counters and the latest message as seen by
// viewerID.
func (s *ConversationService) Activity(ctx context.Context, conversationID, viewerID string) (conversation.ActivitySummary, error) {
	if _, err := s.Authorize(ctx, conversationID, viewerID); err != nil {
		return conversation.ActivitySummary{}, err
	}
	return s.messageRepo.Activity(ctx, conversationID, viewerID)
}

type CreateConversationInput struct {
	ListingID string
	BuyerID   string
	SellerID  string
}

func (in CreateConversationInput) Validate() error {
	if strings.TrimSpace(in.ListingID) == "" || strings.TrimSpace(in.BuyerID) == "" || strings.TrimSpace(in.SellerID) == "" {
		return fmt.Errorf("%w: listing, buyer and seller are required", safetrade_errors.ErrInvalidInput)
	}
	if in.BuyerID == in.SellerID {
		return fmt.Errorf("%w: buyer and seller must differ", safetrade_errors.ErrInvalidInput)
	}
	return nil
}

// GetOrCreate returns the conversation for the (listing, buyer, seller)
// triple, creating it on first use. Both parties must be identity verified;
// the check runs before any row is written. created reports whether this
// call inserted the row.
func (s *ConversationService) GetOrCreate(ctx context.Context, in CreateConversationInput, callerID string) (conversation.Conversation, bool, error) {
	if err := in.Validate(); err != nil {
		return conversation.Conversation{}, false, err
	}
	if callerID != in.BuyerID && callerID != in.SellerID {
		return conversation.Conversation{}, false, safetrade_errors.ErrForbidden
	}

	profiles, err := s.userRepo.GetProfiles(ctx, []string{in.BuyerID, in.SellerID})
	if err != nil {
		return conversation.Conversation{}, false, fmt.Errorf("verification lookup: %w", err)
	}
	var unverified []string
	for _, id := range []string{in.BuyerID, in.SellerID} {
		p, ok := profiles[id]
		if !ok {
			return conversation.Conversation{}, false, fmt.Errorf("%w: user %s", safetrade_errors.ErrNotFound, id)
		}
		if !p.IdentityVerified {
			unverified = append(unverified, id)
		}
	}
	if len(unverified) > 0 {
		sort.Strings(unverified)
		return conversation.Conversation{}, false, &safetrade_errors.VerificationRequiredError{UserIDs: unverified}
	}

	c, created, err := s.convRepo.CreateOrGet(ctx, in.ListingID, in.BuyerID, in.SellerID)
	if err != nil {
		return conversation.Conversation{}, false, err
	}
	if created {
		s.logger.Info("conversation created",
			zap.String("conversation_id", c.ID),
			zap.String("listing_id", c.ListingID))
		s.publisher.PublishConversation(ctx, events.EventInsert, c)
	}
	return c, created, nil
}

// MarkRead flags the counterpart's messages as read for readerID and
// returns how many changed.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	c, err := s.Authorize(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	changed, err := s.messageRepo.MarkRead(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	if len(changed) > 0 {
		s.publisher.PublishMessagesUpdated(ctx, c, changed)
		s.publisher.PublishConversation(ctx, events.EventUpdate, c)
	}
	return len(changed), nil
}

// touch bumps updated_at after a new message; the returned row carries the
// new timestamp.
func (s *ConversationService) touch(ctx context.Context, c conversation.Conversation, at time.Time) conversation.Conversation {
	if err := s.convRepo.Touch(ctx, c.ID, at); err != nil {
		s.logger.Warn("touch conversation failed", zap.String("conversation_id", c.ID), zap.Error(err))
		return c
	}
	c.UpdatedAt = at
	return c
}
