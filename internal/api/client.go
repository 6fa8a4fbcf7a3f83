// Package api is the HTTP client for the chat service. It implements
// chatsync.Backend so an engine session can run against a remote server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"safetrade-chat/internal/chatsync"
	"safetrade-chat/internal/domain"
	"safetrade-chat/internal/domain/conversation"
	"safetrade-chat/internal/domain/message"
	"safetrade-chat/internal/domain/user"
	"safetrade-chat/internal/transport/httpdto"
	safetrade_errors "safetrade-chat/pkg/errors"
)

const defaultTimeout = 30 * time.Second

// Client calls the /v1 API as one user, identified by a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which has a 30s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(baseURL, token string, l *zap.Logger, opts ...Option) *Client {
	if l == nil {
		l = zap.NewNop()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  l.Named("api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ chatsync.Backend = (*Client)(nil)

// StatusError is a non-2xx answer. It unwraps to the matching sentinel from
// pkg/errors when the code or status is known.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
	sentinel   error
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api: status %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error { return e.sentinel }

type errorBody struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	UserIDs []string `json:"userIds"`
}

var codeSentinels = map[string]error{
	"INVALID_INPUT":         safetrade_errors.ErrInvalidInput,
	"INVALID_REQUEST":       safetrade_errors.ErrInvalidInput,
	"UNAUTHORIZED":          safetrade_errors.ErrUnauthorized,
	"FORBIDDEN":             safetrade_errors.ErrForbidden,
	"VERIFICATION_REQUIRED": safetrade_errors.ErrVerificationRequired,
	"NOT_FOUND":             safetrade_errors.ErrNotFound,
	"CONFLICT":              safetrade_errors.ErrConflict,
	"BLOCKED":               safetrade_errors.ErrBlocked,
	"RATE_LIMITED":          safetrade_errors.ErrRateLimited,
	"SERVICE_UNAVAILABLE":   safetrade_errors.ErrServiceUnavailable,
}

var statusSentinels = map[int]error{
	http.StatusBadRequest:          safetrade_errors.ErrInvalidInput,
	http.StatusUnauthorized:        safetrade_errors.ErrUnauthorized,
	http.StatusForbidden:           safetrade_errors.ErrForbidden,
	http.StatusNotFound:            safetrade_errors.ErrNotFound,
	http.StatusConflict:            safetrade_errors.ErrConflict,
	http.StatusUnprocessableEntity: safetrade_errors.ErrBlocked,
	http.StatusTooManyRequests:     safetrade_errors.ErrRateLimited,
	http.StatusServiceUnavailable:  safetrade_errors.ErrServiceUnavailable,
}

// decodeError turns an error response into the most specific error the body
// allows.
func decodeError(status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	if eb.Code == "VERIFICATION_REQUIRED" && len(eb.UserIDs) > 0 {
		return &safetrade_errors.VerificationRequiredError{UserIDs: eb.UserIDs}
	}
	sentinel, ok := codeSentinels[eb.Code]
	if !ok {
		sentinel = statusSentinels[status]
	}
	return &StatusError{StatusCode: status, Code: eb.Code, Message: eb.Error, sentinel: sentinel}
}

// do performs one request. Non-2xx answers become errors; otherwise the body
// is decoded into out unless out is nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (*http.Response, []byte, error) {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, body, decodeError(resp.StatusCode, body)
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp, body, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return resp, body, nil
}

// getData calls a route answering with the standard success envelope.
func getData[T any](ctx context.Context, c *Client, method, path string, in any) (T, error) {
	var env httpdto.Response[T]
	if _, _, err := c.do(ctx, method, path, in, &env); err != nil {
		var zero T
		return zero, err
	}
	return env.Data, nil
}

func conversationPath(id string, rest ...string) string {
	p := "/v1/conversations/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]message.Message, error) {
	return getData[[]message.Message](ctx, c, http.MethodGet, conversationPath(conversationID, "messages"), nil)
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) (int, error) {
	res, err := getData[httpdto.MarkReadResponse](ctx, c, http.MethodPost, conversationPath(conversationID, "read"), nil)
	return res.Updated, err
}

// SendMessage posts a message. A 422 carrying a fraud analysis comes back as
// *BlockedError.
func (c *Client) SendMessage(ctx context.Context, req chatsync.SendRequest) (chatsync.SendResult, error) {
	body := httpdto.SendMessageRequest{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		MessageType:    string(req.Type),
		ClientID:       req.ClientID,
	}

	var out httpdto.SendMessageResponse
	resp, raw, err := c.do(ctx, http.MethodPost, "/v1/messages/send", body, &out)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity {
			var blocked httpdto.SendMessageResponse
			if jsonErr := json.Unmarshal(raw, &blocked); jsonErr == nil && blocked.Blocked {
				return chatsync.SendResult{}, blockedError(blocked)
			}
		}
		return chatsync.SendResult{}, err
	}
	if resp != nil {
		if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" {
			c.logger.Debug("message budget", zap.String("remaining", remaining))
		}
	}
	if !out.Success || out.Message == nil {
		return chatsync.SendResult{}, fmt.Errorf("send message: unexpected response %q", out.Error)
	}

	res := chatsync.SendResult{Message: *out.Message}
	if out.FraudScore != nil {
		res.Fraud = chatsync.FraudScore{
			RiskLevel: domain.RiskLevel(out.FraudScore.RiskLevel),
			Score:     out.FraudScore.Score,
			Flags:     out.FraudScore.Flags,
		}
	}
	return res, nil
}

func blockedError(r httpdto.SendMessageResponse) *safetrade_errors.BlockedError {
	be := &safetrade_errors.BlockedError{Reason: r.Error}
	if a := r.FraudAnalysis; a != nil {
		be.Detail = a.Reason
		be.RiskLevel = a.RiskLevel
		be.Score = a.Score
		be.Flags = a.Flags
	}
	return be
}

func (c *Client) ListConversations(ctx context.Context) ([]conversation.Conversation, error) {
	return getData[[]conversation.Conversation](ctx, c, http.MethodGet, "/v1/conversations", nil)
}

func (c *Client) GetConversation(ctx context.Context, id string) (conversation.Conversation, error) {
	return getData[conversation.Conversation](ctx, c, http.MethodGet, conversationPath(id), nil)
}

// GetOrCreateConversation fails with *VerificationRequiredError when a party
// has not verified their identity.
func (c *Client) GetOrCreateConversation(ctx context.Context, listingID, buyerID, sellerID string) (conversation.Conversation, error) {
	return getData[conversation.Conversation](ctx, c, http.MethodPost, "/v1/conversations", httpdto.CreateConversationRequest{
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
	})
}

func (c *Client) ConversationActivity(ctx context.Context, id string) (conversation.ActivitySummary, error) {
	return getData[conversation.ActivitySummary](ctx, c, http.MethodGet, conversationPath(id, "activity"), nil)
}

func (c *Client) StartTyping(ctx context.Context, conversationID string) error {
	_, _, err := c.do(ctx, http.MethodPut, conversationPath(conversationID, "typing"), nil, nil)
	return err
}

func (c *Client) StopTyping(ctx context.Context, conversationID string) error {
	_, _, err := c.do(ctx, http.MethodDelete, conversationPath(conversationID, "typing"), nil, nil)
	if errors.Is(err, safetrade_errors.ErrNotFound) {
		return nil
	}
	return err
}

func (c *Client) Profile(ctx context.Context, userID string) (user.Profile, error) {
	return getData[user.Profile](ctx, c, http.MethodGet, "/v1/users/"+url.PathEscape(userID), nil)
}

func (c *Client) Listing(ctx context.Context, listingID string) (conversation.ListingSummary, error) {
	return getData[conversation.ListingSummary](ctx, c, http.MethodGet, "/v1/listings/"+url.PathEscape(listingID), nil)
}
