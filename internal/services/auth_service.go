package services

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"safetrade-chat/config"
	safetrade_errors "safetrade-chat/pkg/errors"
)

// AuthService issues and verifies access tokens. Credentials are owned by
// the identity provider; this service only trusts tokens it signed.
type AuthService struct {
	jwtSecret []byte
	accessTTL time.Duration
}

func NewAuthService(cfg *config.Config) *AuthService {
	ttl := time.Duration(cfg.JWTExpiryMin) * time.Minute
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &AuthService{
		jwtSecret: []byte(cfg.JWTSecret),
		accessTTL: ttl,
	}
}

type AccessClaims struct {
	UserID    string `json:"sub"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// IssueAccessToken signs a token for userID and returns it with its lifetime
// in seconds.
func (s *AuthService) IssueAccessToken(userID string) (string, int64, error) {
	if userID == "" {
		return "", 0, safetrade_errors.ErrInvalidInput
	}
	now := time.Now()
	claims := AccessClaims{
		UserID:    userID,
		SessionID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.accessTTL.Seconds()), nil
}

func (s *AuthService) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, safetrade_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, safetrade_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return AccessClaims{}, safetrade_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return AccessClaims{}, safetrade_errors.ErrUnauthorized
	}
	return *claims, nil
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, safetrade_errors.ErrInvalidInput):
		return 400
	case errors.Is(err, safetrade_errors.ErrUnauthorized):
		return 401
	case errors.Is(err, safetrade_errors.ErrForbidden), errors.Is(err, safetrade_errors.ErrVerificationRequired):
		return 403
	case errors.Is(err, safetrade_errors.ErrNotFound):
		return 404
	case errors.Is(err, safetrade_errors.ErrAlreadyExists), errors.Is(err, safetrade_errors.ErrConflict):
		return 409
	case errors.Is(err, safetrade_errors.ErrBlocked):
		return 422
	case errors.Is(err, safetrade_errors.ErrRateLimited):
		return 429
	case errors.Is(err, safetrade_errors.ErrServiceUnavailable):
		return 503
	default:
		return 500
	}
}

// ErrorCode is the machine-readable code sent alongside an error response.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, safetrade_errors.ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, safetrade_errors.ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, safetrade_errors.ErrVerificationRequired):
		return "VERIFICATION_REQUIRED"
	case errors.Is(err, safetrade_errors.ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, safetrade_errors.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, safetrade_errors.ErrAlreadyExists), errors.Is(err, safetrade_errors.ErrConflict):
		return "CONFLICT"
	case errors.Is(err, safetrade_errors.ErrBlocked):
		return "BLOCKED"
	case errors.Is(err, safetrade_errors.ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, safetrade_errors.ErrServiceUnavailable):
		return "SERVICE_UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

type ctxKey string

var userIDKey ctxKey = "user_id"
var sessionIDKey ctxKey = "session_id"

func WithUserSessionContext(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	if sessionID != "" {
		ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	}
	return ctx
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}

func SessionIDFromContext(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(sessionIDKey).(string)
	return sessionID, ok && sessionID != ""
}
