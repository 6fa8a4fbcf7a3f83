package services

import (
	"context"

	"go.uber.org/zap"

	"safetrade-chat/internal/domain/conversation"
	"safetrade-chat/internal/domain/user"
	"safetrade-chat/internal/repository"
	safetrade_errors "safetrade-chat/pkg/errors"
)

// LookupCache is a read-through cache for display lookups.
type LookupCache interface {
	GetProfile(ctx context.Context, userID string) (user.Profile, bool, error)
	SetProfile(ctx context.Context, p user.Profile) error
	GetListing(ctx context.Context, listingID string) (conversation.ListingSummary, bool, error)
	SetListing(ctx context.Context, l conversation.ListingSummary) error
}

// UserService exposes the read-only profile and listing lookups the chat
// needs for display.
type UserService struct {
	userRepo    repository.UserRepository
	listingRepo repository.ListingRepository
	cache       LookupCache
	logger      *zap.Logger
}

func NewUserService(userRepo repository.UserRepository, listingRepo repository.ListingRepository) *UserService {
	return &UserService{userRepo: userRepo, listingRepo: listingRepo, logger: zap.NewNop()}
}

// WithCache puts cache in front of both lookups. Cache failures fall through
// to the repositories.
func (s *UserService) WithCache(cache LookupCache, l *zap.Logger) *UserService {
	s.cache = cache
	if l != nil {
		s.logger = l.Named("user_service")
	}
	return s
}

func (s *UserService) Profile(ctx context.Context, userID string) (user.Profile, error) {
	if userID == "" {
		return user.Profile{}, safetrade_errors.ErrInvalidInput
	}
	if s.cache != nil {
		p, ok, err := s.cache.GetProfile(ctx, userID)
		if err != nil {
			s.logger.Warn("profile cache read failed", zap.String("user_id", userID), zap.Error(err))
		} else if ok {
			return p, nil
		}
	}

	p, err := s.userRepo.GetProfile(ctx, userID)
	if err != nil {
		return user.Profile{}, err
	}
	if s.cache != nil {
		if err := s.cache.SetProfile(ctx, p); err != nil {
			s.logger.Warn("profile cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return p, nil
}

func (s *UserService) Listing(ctx context.Context, listingID string) (conversation.ListingSummary, error) {
	if listingID == "" {
		return conversation.ListingSummary{}, safetrade_errors.ErrInvalidInput
	}
	if s.cache != nil {
		l, ok, err := s.cache.GetListing(ctx, listingID)
		if err != nil {
			s.logger.Warn("listing cache read failed", zap.String("listing_id", listingID), zap.Error(err))
		} else if ok {
			return l, nil
		}
	}

	l, err := s.listingRepo.GetSummary(ctx, listingID)
	if err != nil {
		return conversation.ListingSummary{}, err
	}
	if s.cache != nil {
		if err := s.cache.SetListing(ctx, l); err != nil {
			s.logger.Warn("listing cache write failed", zap.String("listing_id", listingID), zap.Error(err))
		}
	}
	return l, nil
}
