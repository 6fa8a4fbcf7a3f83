package chatsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"safetrade-chat/internal/domain"
	"safetrade-chat/internal/domain/conversation"
	"safetrade-chat/internal/domain/message"
	"safetrade-chat/internal/domain/typing"
	"safetrade-chat/internal/domain/user"
	"safetrade-chat/internal/events"
	safetrade_errors "safetrade-chat/pkg/errors"
)

const (
	viewer = "buyer"
	peer   = "seller"
	convA  = "conv-a"
	convB  = "conv-b"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeBackend struct {
	mu sync.Mutex

	messages    map[string][]message.Message
	listErr     error
	markReads   int
	markReadErr error

	sendFn func(ctx context.Context, req SendRequest) (SendResult, error)
	sends  []SendRequest
	seq    int

	convs       map[string]conversation.Conversation
	listConvErr error
	activity    map[string]conversation.ActivitySummary
	activityErr map[string]error
	profiles    map[string]user.Profile
	listings    map[string]conversation.ListingSummary
	listingErr  error

	typingStarts int
	typingStops  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		messages:    map[string][]message.Message{},
		convs:       map[string]conversation.Conversation{},
		activity:    map[string]conversation.ActivitySummary{},
		activityErr: map[string]error{},
		profiles: map[string]user.Profile{
			viewer:  {ID: viewer, DisplayName: "Alice", IdentityVerified: true},
			peer:    {ID: peer, DisplayName: "Sam", IdentityVerified: true},
			"other": {ID: "other", DisplayName: "Olive", IdentityVerified: true},
			"uma":   {ID: "uma", DisplayName: "Uma"},
		},
		listings: map[string]conversation.ListingSummary{
			"listing-1": {ID: "listing-1", Title: "2019 Toyota Corolla LE", Price: 16500, Make: "Toyota", Model: "Corolla", Year: 2019},
		},
	}
}

func (b *fakeBackend) ListMessages(_ context.Context, conversationID string) ([]message.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	return append([]message.Message(nil), b.messages[conversationID]...), nil
}

func (b *fakeBackend) MarkRead(_ context.Context, conversationID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.markReadErr != nil {
		return 0, b.markReadErr
	}
	b.markReads++
	n := 0
	for i, m := range b.messages[conversationID] {
		if m.SenderID != viewer && !m.IsRead {
			b.messages[conversationID][i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (b *fakeBackend) SendMessage(ctx context.Context, req SendRequest) (SendResult, error) {
	b.mu.Lock()
	b.sends = append(b.sends, req)
	b.seq++
	seq := b.seq
	fn := b.sendFn
	b.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return SendResult{
		Message: message.Message{
			ID:             fmt.Sprintf("msg-%d", seq),
			ConversationID: req.ConversationID,
			SenderID:       req.SenderID,
			Content:        req.Content,
			Type:           req.Type,
			CreatedAt:      epoch.Add(time.Duration(seq) * time.Second),
		},
		Fraud: FraudScore{RiskLevel: domain.RiskLevelLow},
	}, nil
}

func (b *fakeBackend) sendCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sends)
}

func (b *fakeBackend) markReadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.markReads
}

func (b *fakeBackend) ListConversations(_ context.Context) ([]conversation.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listConvErr != nil {
		return nil, b.listConvErr
	}
	var out []conversation.Conversation
	for _, c := range b.convs {
		if c.HasParty(viewer) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *fakeBackend) GetConversation(_ context.Context, id string) (conversation.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.convs[id]
	if !ok {
		return conversation.Conversation{}, safetrade_errors.ErrNotFound
	}
	return c, nil
}

func (b *fakeBackend) GetOrCreateConversation(_ context.Context, listingID, buyerID, sellerID string) (conversation.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var unverified []string
	for _, id := range []string{buyerID, sellerID} {
		if !b.profiles[id].IdentityVerified {
			unverified = append(unverified, id)
		}
	}
	if len(unverified) > 0 {
		return conversation.Conversation{}, &safetrade_errors.VerificationRequiredError{UserIDs: unverified}
	}
	for _, c := range b.convs {
		if c.ListingID == listingID && c.BuyerID == buyerID && c.SellerID == sellerID {
			return c, nil
		}
	}
	c := conversation.Conversation{
		ID:        fmt.Sprintf("conv-%d", len(b.convs)+1),
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		CreatedAt: epoch,
		UpdatedAt: epoch,
	}
	b.convs[c.ID] = c
	return c, nil
}

func (b *fakeBackend) ConversationActivity(_ context.Context, id string) (conversation.ActivitySummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.activityErr[id]; err != nil {
		return conversation.ActivitySummary{}, err
	}
	return b.activity[id], nil
}

func (b *fakeBackend) setActivity(id string, s conversation.ActivitySummary) {
	b.mu.Lock()
	b.activity[id] = s
	b.mu.Unlock()
}

func (b *fakeBackend) StartTyping(context.Context, string) error {
	b.mu.Lock()
	b.typingStarts++
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) StopTyping(context.Context, string) error {
	b.mu.Lock()
	b.typingStops++
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) typingCounts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.typingStarts, b.typingStops
}

func (b *fakeBackend) Profile(_ context.Context, userID string) (user.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.profiles[userID]
	if !ok {
		return user.Profile{}, safetrade_errors.ErrNotFound
	}
	return p, nil
}

func (b *fakeBackend) Listing(_ context.Context, listingID string) (conversation.ListingSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listingErr != nil {
		return conversation.ListingSummary{}, b.listingErr
	}
	l, ok := b.listings[listingID]
	if !ok {
		return conversation.ListingSummary{}, safetrade_errors.ErrNotFound
	}
	return l, nil
}

type fakeSub struct {
	filter   events.Filter
	onEvent  events.Handler
	onStatus events.StatusHandler
	closed   atomic.Bool
}

func (s *fakeSub) Unsubscribe() error {
	s.closed.Store(true)
	return nil
}

// fakeFeed acks every subscription synchronously unless manualAck is set.
type fakeFeed struct {
	mu           sync.Mutex
	subs         map[string]*fakeSub
	opened       int
	manualAck    bool
	subscribeErr error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: map[string]*fakeSub{}}
}

func (f *fakeFeed) Subscribe(_ context.Context, filter events.Filter, onEvent events.Handler, onStatus events.StatusHandler) (events.Subscription, error) {
	f.mu.Lock()
	if f.subscribeErr != nil {
		err := f.subscribeErr
		f.mu.Unlock()
		return nil, err
	}
	sub := &fakeSub{filter: filter, onEvent: onEvent, onStatus: onStatus}
	f.subs[filter.Topic] = sub
	f.opened++
	ack := !f.manualAck
	f.mu.Unlock()

	if ack && onStatus != nil {
		onStatus(domain.ConnectionConnected, nil)
	}
	return sub, nil
}

func (f *fakeFeed) sub(topic string) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[topic]
}

func (f *fakeFeed) openedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// push delivers ev the way a live subscription would.
func (f *fakeFeed) push(topic string, ev events.ChangeEvent) {
	s := f.sub(topic)
	if s == nil || s.closed.Load() || !s.filter.Matches(ev) {
		return
	}
	s.onEvent(ev)
}

func (f *fakeFeed) status(topic string, status domain.ConnectionStatus, err error) {
	if s := f.sub(topic); s != nil && s.onStatus != nil {
		s.onStatus(status, err)
	}
}

func newTestSession(t *testing.T, b *fakeBackend, f *fakeFeed, clock *fakeClock) *Session {
	t.Helper()
	opts := DefaultOptions()
	opts.TypingQuietPeriod = 50 * time.Millisecond
	opts.TypingSweepInterval = 10 * time.Millisecond
	opts.RequestTimeout = time.Second
	if clock != nil {
		opts.Now = clock.Now
	}
	s, err := NewSession(viewer, b, f, opts, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func messageEvent(t *testing.T, typ events.EventType, m message.Message) events.ChangeEvent {
	t.Helper()
	ev, err := events.NewChangeEvent(typ, events.TableMessages, m, nil)
	require.NoError(t, err)
	return ev
}

func conversationEvent(t *testing.T, typ events.EventType, c conversation.Conversation) events.ChangeEvent {
	t.Helper()
	ev, err := events.NewChangeEvent(typ, events.TableConversations, c, nil)
	require.NoError(t, err)
	return ev
}

func typingEvent(t *testing.T, typ events.EventType, ind typing.Indicator) events.ChangeEvent {
	t.Helper()
	var ev events.ChangeEvent
	var err error
	if typ == events.EventDelete {
		ev, err = events.NewChangeEvent(typ, events.TableTyping, nil, ind)
	} else {
		ev, err = events.NewChangeEvent(typ, events.TableTyping, ind, nil)
	}
	require.NoError(t, err)
	return ev
}

func peerMessage(id string, at time.Time, content string) message.Message {
	return message.Message{ID: id, ConversationID: convA, SenderID: peer, Content: content, Type: domain.MessageTypeText, CreatedAt: at}
}
