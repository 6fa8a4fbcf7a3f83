package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"safetrade-chat/internal/domain"
	"safetrade-chat/internal/domain/message"
	"safetrade-chat/internal/events"
	"safetrade-chat/internal/fraud"
	"safetrade-chat/internal/repository"
	safetrade_errors "safetrade-chat/pkg/errors"
)

type MessageService struct {
	convs       *ConversationService
	messageRepo repository.MessageRepository
	userRepo    repository.UserRepository
	gate        fraud.Gate
	publisher   *EventPublisher
	logger      *zap.Logger
}

func NewMessageService(
	convs *ConversationService,
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	gate fraud.Gate,
	publisher *EventPublisher,
	l *zap.Logger,
) *MessageService {
	if gate == nil {
		gate = fraud.NewPatternGate(fraud.DefaultBlockScore)
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &MessageService{
		convs:       convs,
		messageRepo: messageRepo,
		userRepo:    userRepo,
		gate:        gate,
		publisher:   publisher,
		logger:      l.Named("message_service"),
	}
}

type SendMessageInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           domain.MessageType
	IsEncrypted    bool
	// ClientID is the sender's temp id. It is echoed on the stored record so
	// the sender can match the pushed insert to its optimistic entry.
	ClientID       string
}

func (in *SendMessageInput) Validate() error {
	in.Content = strings.TrimSpace(in.Content)
	if in.ConversationID == "" || in.SenderID == "" {
		return fmt.Errorf("%w: conversation and sender are required", safetrade_errors.ErrInvalidInput)
	}
	if in.Content == "" {
		return fmt.Errorf("%w: content is empty", safetrade_errors.ErrInvalidInput)
	}
	if in.Type == "" {
		in.Type = domain.MessageTypeText
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown message type %q", safetrade_errors.ErrInvalidInput, in.Type)
	}
	return nil
}

type SendResult struct {
	Message  message.Message
	Analysis fraud.Analysis
}

// Send screens the content and persists it. Content the gate blocks is never
// written and comes back as *BlockedError.
func (s *MessageService) Send(ctx context.Context, in SendMessageInput) (SendResult, error) {
	if err := in.Validate(); err != nil {
		return SendResult{}, err
	}
	conv, err := s.convs.Authorize(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return SendResult{}, err
	}

	analysis, err := s.gate.Screen(ctx, in.Content)
	if err != nil {
		return SendResult{}, fmt.Errorf("fraud screening: %w", err)
	}
	if analysis.Blocked {
		s.logger.Info("message blocked",
			zap.String("conversation_id", in.ConversationID),
			zap.String("user_id", in.SenderID),
			zap.Int("score", analysis.Score),
			zap.Strings("flags", analysis.Flags))
		return SendResult{Analysis: analysis}, &safetrade_errors.BlockedError{
			Reason:    analysis.Reason,
			Detail:    analysis.Reason,
			RiskLevel: string(analysis.RiskLevel),
			Score:     analysis.Score,
			Flags:     analysis.Flags,
		}
	}

	score := analysis.Score
	msg := message.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Type:           in.Type,
		IsEncrypted:    in.IsEncrypted,
		FraudScore:     &score,
		FraudRisk:      analysis.RiskLevel,
		FraudFlags:     analysis.Flags,
	}
	if err := s.messageRepo.Create(ctx, &msg); err != nil {
		return SendResult{}, fmt.Errorf("persist message: %w", err)
	}
	if message.IsTempID(in.ClientID) {
		msg.TempID = in.ClientID
	}
	if p, err := s.userRepo.GetProfile(ctx, in.SenderID); err == nil {
		msg.SenderName = p.DisplayName
	}

	conv = s.convs.touch(ctx, conv, msg.CreatedAt)
	s.publisher.PublishMessageInserted(ctx, conv, msg)
	s.publisher.PublishConversation(ctx, events.EventUpdate, conv)

	if analysis.RiskLevel.IsAlert() {
		s.logger.Warn("fraud alert raised",
			zap.String("conversation_id", conv.ID),
			zap.String("message_id", msg.ID),
			zap.String("risk_level", string(analysis.RiskLevel)))
	}
	return SendResult{Message: msg, Analysis: analysis}, nil
}

// List returns the conversation's messages in ascending creation order with
// sender names attached.
func (s *MessageService) List(ctx context.Context, conversationID, viewerID string) ([]message.Message, error) {
	conv, err := s.convs.Authorize(ctx, conversationID, viewerID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messageRepo.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	profiles, err := s.userRepo.GetProfiles(ctx, []string{conv.BuyerID, conv.SellerID})
	if err != nil {
		s.logger.Warn("sender lookup failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	for i := range msgs {
		if p, ok := profiles[msgs[i].SenderID]; ok {
			msgs[i].SenderName = p.DisplayName
		}
		msgs[i].Status = message.DeriveStatus(msgs[i], viewerID)
	}
	return msgs, nil
}
