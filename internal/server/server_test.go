package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safetrade-chat/config"
	"safetrade-chat/internal/domain/conversation"
	"safetrade-chat/internal/domain/message"
	"safetrade-chat/internal/domain/typing"
	"safetrade-chat/internal/domain/user"
	"safetrade-chat/internal/fraud"
	"safetrade-chat/internal/handler"
	"safetrade-chat/internal/redis"
	"safetrade-chat/internal/services"
	"safetrade-chat/internal/transport/httpdto"
	"safetrade-chat/pkg/logger"
	safetrade_errors "safetrade-chat/pkg/errors"
)

var (
	buyerID      = "00000000-0000-4000-8000-000000000001"
	sellerID     = "00000000-0000-4000-8000-000000000002"
	unverifiedID = "00000000-0000-4000-8000-000000000003"
	listingID    = "00000000-0000-4000-8000-000000000101"
)

type store struct {
	mu       sync.Mutex
	convs    map[string]conversation.Conversation
	messages []message.Message
	users    map[string]user.Profile
	typing   map[string]typing.Indicator
}

func newStore() *store {
	return &store{
		convs: map[string]conversation.Conversation{},
		users: map[string]user.Profile{
			buyerID:      {ID: buyerID, DisplayName: "Alice", IdentityVerified: true},
			sellerID:     {ID: sellerID, DisplayName: "Sam", IdentityVerified: true},
			unverifiedID: {ID: unverifiedID, DisplayName: "Uma"},
		},
		typing: map[string]typing.Indicator{},
	}
}

func (s *store) GetByID(_ context.Context, id string) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return conversation.Conversation{}, safetrade_errors.ErrNotFound
	}
	return c, nil
}

func (s *store) ListForUser(_ context.Context, userID string) ([]conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []conversation.Conversation
	for _, c := range s.convs {
		if c.HasParty(userID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *store) CreateOrGet(_ context.Context, l, b, sl string) (conversation.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if c.ListingID == l && c.BuyerID == b && c.SellerID == sl {
			return c, false, nil
		}
	}
	now := time.Now()
	c := conversation.Conversation{ID: uuid.NewString(), ListingID: l, BuyerID: b, SellerID: sl, CreatedAt: now, UpdatedAt: now}
	s.convs[c.ID] = c
	return c, true, nil
}

func (s *store) Touch(context.Context, string, time.Time) error { return nil }

type messages struct{ *store }

func (m messages) Create(_ context.Context, msg *message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m messages) ListByConversation(_ context.Context, convID string) ([]message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []message.Message
	for _, msg := range m.messages {
		if msg.ConversationID == convID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m messages) MarkRead(_ context.Context, convID, reader string) ([]message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changed []message.Message
	for i, msg := range m.messages {
		if msg.ConversationID == convID && msg.SenderID != reader && !msg.IsRead {
			m.messages[i].IsRead = true
			changed = append(changed, m.messages[i])
		}
	}
	return changed, nil
}

func (m messages) Activity(_ context.Context, convID, viewer string) (conversation.ActivitySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s conversation.ActivitySummary
	for _, msg := range m.messages {
		if msg.ConversationID != convID {
			continue
		}
		s.TotalMessages++
		if msg.SenderID != viewer && !msg.IsRead {
			s.UnreadCount++
		}
	}
	return s, nil
}

type users struct{ *store }

func (u users) GetProfile(_ context.Context, id string) (user.Profile, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	p, ok := u.users[id]
	if !ok {
		return user.Profile{}, safetrade_errors.ErrNotFound
	}
	return p, nil
}

func (u users) GetProfiles(_ context.Context, ids []string) (map[string]user.Profile, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := map[string]user.Profile{}
	for _, id := range ids {
		if p, ok := u.users[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type listings struct{}

func (listings) GetSummary(_ context.Context, id string) (conversation.ListingSummary, error) {
	if id != listingID {
		return conversation.ListingSummary{}, safetrade_errors.ErrNotFound
	}
	return conversation.ListingSummary{ID: id, Title: "2019 Toyota Corolla LE", Price: 16500}, nil
}

type typingStore struct{ *store }

func (t typingStore) Upsert(_ context.Context, ind typing.Indicator) (typing.Indicator, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ind.UpdatedAt = time.Now()
	t.typing[ind.ConversationID+":"+ind.UserID] = ind
	return ind, nil
}

func (t typingStore) Delete(_ context.Context, convID, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.typing, convID+":"+userID)
	return nil
}

func (t typingStore) List(_ context.Context, convID string) ([]typing.Indicator, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []typing.Indicator
	for _, ind := range t.typing {
		if ind.ConversationID == convID {
			out = append(out, ind)
		}
	}
	return out, nil
}

type countingLimiter struct {
	mu    sync.Mutex
	limit int
	used  map[string]int
}

func (l *countingLimiter) AllowMessage(_ context.Context, userID string) (*redis.RateLimitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.used[userID]++
	remaining := l.limit - l.used[userID]
	if remaining < 0 {
		remaining = 0
	}
	return &redis.RateLimitResult{
		Allowed:   l.used[userID] <= l.limit,
		Remaining: remaining,
		ResetIn:   time.Minute,
		Limit:     l.limit,
	}, nil
}

func (l *countingLimiter) MessageStatus(_ context.Context, userID string) (*redis.RateLimitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := l.limit - l.used[userID]
	if remaining < 0 {
		remaining = 0
	}
	return &redis.RateLimitResult{
		Allowed:   l.used[userID] < l.limit,
		Remaining: remaining,
		ResetIn:   time.Minute,
		Limit:     l.limit,
	}, nil
}

type fixture struct {
	t      *testing.T
	store  *store
	auth   *services.AuthService
	router http.Handler
}

func newFixture(t *testing.T, sendLimit int) *fixture {
	t.Helper()
	cfg := &config.Config{AppMode: TestMode, AppPort: "0", JWTSecret: "test-secret", JWTExpiryMin: 5}
	st := newStore()

	auth := services.NewAuthService(cfg)
	publisher := services.NewEventPublisher(nil, nil)
	userService := services.NewUserService(users{st}, listings{})
	convService := services.NewConversationService(st, messages{st}, users{st}, publisher, nil)
	messageService := services.NewMessageService(convService, messages{st}, users{st}, fraud.NewPatternGate(fraud.DefaultBlockScore), publisher, nil)
	typingService := services.NewTypingService(convService, userService, typingStore{st})

	srv := New(cfg, logger.Nop(), nil)
	srv.SetupRoutes(&Handlers{
		Conversation: handler.NewConversationHandler(convService, typingService),
		Message:      handler.NewMessageHandler(messageService),
		User:         handler.NewUserHandler(userService),
	}, auth, &countingLimiter{limit: sendLimit, used: map[string]int{}})

	return &fixture{t: t, store: st, auth: auth, router: srv.Engine()}
}

func (f *fixture) do(method, path, userID string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, _, err := f.auth.IssueAccessToken(userID)
		require.NoError(f.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) conversation() conversation.Conversation {
	f.t.Helper()
	w := f.do(http.MethodPost, "/v1/conversations", buyerID, httpdto.CreateConversationRequest{
		ListingID: listingID, BuyerID: buyerID, SellerID: sellerID,
	})
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())

	var resp httpdto.Response[conversation.Conversation]
	require.NoError(f.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data
}

func decodeSend(t *testing.T, w *httptest.ResponseRecorder) httpdto.SendMessageResponse {
	t.Helper()
	var resp httpdto.SendMessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestPing(t *testing.T) {
	f := newFixture(t, 10)
	w := f.do(http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, 10)

	w := f.do(http.MethodGet, "/ping", "", nil)
	generated := w.Header().Get("X-Request-Id")
	assert.Len(t, generated, 36)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "client-abc.1")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, "client-abc.1", w.Header().Get("X-Request-Id"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "has spaces; and=stuff")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.NotEqual(t, "has spaces; and=stuff", w.Header().Get("X-Request-Id"))
}

func TestHealthWithoutDatabase(t *testing.T) {
	f := newFixture(t, 10)
	w := f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequiresToken(t *testing.T) {
	f := newFixture(t, 10)
	w := f.do(http.MethodGet, "/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateConversation_Idempotent(t *testing.T) {
	f := newFixture(t, 10)
	first := f.conversation()

	w := f.do(http.MethodPost, "/v1/conversations", sellerID, httpdto.CreateConversationRequest{
		ListingID: listingID, BuyerID: buyerID, SellerID: sellerID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp httpdto.Response[conversation.Conversation]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, first.ID, resp.Data.ID)
}

func TestCreateConversation_VerificationRequired(t *testing.T) {
	f := newFixture(t, 10)
	w := f.do(http.MethodPost, "/v1/conversations", unverifiedID, httpdto.CreateConversationRequest{
		ListingID: listingID, BuyerID: unverifiedID, SellerID: sellerID,
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	var resp httpdto.Response[any]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "VERIFICATION_REQUIRED", resp.Code)
	assert.Equal(t, []string{unverifiedID}, resp.UserIDs)
	assert.Empty(t, f.store.convs)
}

func TestSendMessage_Success(t *testing.T) {
	f := newFixture(t, 10)
	conv := f.conversation()

	w := f.do(http.MethodPost, "/v1/messages/send", buyerID, httpdto.SendMessageRequest{
		ConversationID: conv.ID,
		SenderID:       buyerID,
		Content:        "Is it still available?",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeSend(t, w)
	assert.True(t, resp.Success)
	assert.False(t, resp.Blocked)
	require.NotNil(t, resp.Message)
	assert.Equal(t, "Is it still available?", resp.Message.Content)
	require.NotNil(t, resp.FraudScore)
	assert.Equal(t, "low", resp.FraudScore.RiskLevel)
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
}

func TestSendMessage_Blocked(t *testing.T) {
	f := newFixture(t, 10)
	conv := f.conversation()

	w := f.do(http.MethodPost, "/v1/messages/send", buyerID, httpdto.SendMessageRequest{
		ConversationID: conv.ID,
		Content:        "Pay with a gift card by wire transfer today, urgent!",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	resp := decodeSend(t, w)
	assert.False(t, resp.Success)
	assert.True(t, resp.Blocked)
	assert.Equal(t, "BLOCKED", resp.Code)
	assert.Equal(t, httpdto.BlockedMessageError, resp.Error)
	require.NotNil(t, resp.FraudAnalysis)
	assert.NotEmpty(t, resp.FraudAnalysis.Flags)
	assert.Nil(t, resp.Message)
	assert.Empty(t, f.store.messages)
}

func TestSendMessage_SenderMismatch(t *testing.T) {
	f := newFixture(t, 10)
	conv := f.conversation()

	w := f.do(http.MethodPost, "/v1/messages/send", buyerID, httpdto.SendMessageRequest{
		ConversationID: conv.ID,
		SenderID:       sellerID,
		Content:        "hi",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, decodeSend(t, w).Success)
}

func TestSendMessage_Outsider(t *testing.T) {
	f := newFixture(t, 10)
	conv := f.conversation()

	w := f.do(http.MethodPost, "/v1/messages/send", unverifiedID, httpdto.SendMessageRequest{
		ConversationID: conv.ID,
		Content:        "hi",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSendMessage_RateLimited(t *testing.T) {
	f := newFixture(t, 1)
	conv := f.conversation()
	req := httpdto.SendMessageRequest{ConversationID: conv.ID, Content: "hello"}

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/messages/send", buyerID, req).Code)

	w := f.do(http.MethodPost, "/v1/messages/send", buyerID, req)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	resp := decodeSend(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "RATE_LIMITED", resp.Code)
	assert.Len(t, f.store.messages, 1)
}

func TestRateLimitStatus(t *testing.T) {
	f := newFixture(t, 3)
	conv := f.conversation()

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/messages/send", buyerID,
		httpdto.SendMessageRequest{ConversationID: conv.ID, Content: "hello"}).Code)

	for i := 0; i < 2; i++ {
		w := f.do(http.MethodGet, "/v1/messages/rate-limit", buyerID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Remaining"))

		var resp httpdto.Response[httpdto.RateLimitStatus]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Data.Allowed)
		assert.Equal(t, 3, resp.Data.Limit)
		assert.Equal(t, 2, resp.Data.Remaining)
		assert.Equal(t, 60, resp.Data.ResetInSeconds)
	}

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/v1/messages/rate-limit", "", nil).Code)
}

func TestMarkReadAndActivity(t *testing.T) {
	f := newFixture(t, 10)
	conv := f.conversation()

	for _, content := range []string{"first", "second"} {
		w := f.do(http.MethodPost, "/v1/messages/send", buyerID, httpdto.SendMessageRequest{ConversationID: conv.ID, Content: content})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := f.do(http.MethodGet, "/v1/conversations/"+conv.ID+"/activity", sellerID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var activity httpdto.Response[conversation.ActivitySummary]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &activity))
	assert.Equal(t, 2, activity.Data.TotalMessages)
	assert.Equal(t, 2, activity.Data.UnreadCount)

	w = f.do(http.MethodPost, "/v1/conversations/"+conv.ID+"/read", sellerID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var read httpdto.Response[httpdto.MarkReadResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &read))
	assert.Equal(t, 2, read.Data.Updated)

	w = f.do(http.MethodGet, "/v1/conversations/"+conv.ID+"/messages", sellerID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list httpdto.Response[[]message.Message]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 2)
	assert.True(t, list.Data[0].IsRead)
	assert.Equal(t, "Alice", list.Data[0].SenderName)
}

func TestTypingRoutes(t *testing.T) {
	f := newFixture(t, 10)
	conv := f.conversation()
	path := "/v1/conversations/" + conv.ID + "/typing"

	require.Equal(t, http.StatusOK, f.do(http.MethodPut, path, buyerID, nil).Code)

	w := f.do(http.MethodGet, path, sellerID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list httpdto.Response[[]typing.Indicator]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, buyerID, list.Data[0].UserID)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, path, buyerID, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPut, path, unverifiedID, nil).Code)
}

func TestLookups(t *testing.T) {
	f := newFixture(t, 10)

	w := f.do(http.MethodGet, "/v1/users/"+sellerID, buyerID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var profile httpdto.Response[user.Profile]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &profile))
	assert.Equal(t, "Sam", profile.Data.DisplayName)

	w = f.do(http.MethodGet, "/v1/listings/"+listingID, buyerID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/listings/"+uuid.NewString(), buyerID, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/users/not-a-uuid", buyerID, nil).Code)
}
