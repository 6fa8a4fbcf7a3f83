package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safetrade-chat/internal/domain"
)

type statusLog struct {
	mu       sync.Mutex
	statuses []domain.ConnectionStatus
	errs     []error
}

func (s *statusLog) handle(status domain.ConnectionStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	s.errs = append(s.errs, err)
}

func (s *statusLog) last() (domain.ConnectionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return "", nil
	}
	return s.statuses[len(s.statuses)-1], s.errs[len(s.errs)-1]
}

func TestChangeEvent_DecodeUsesOldRecordForDeletes(t *testing.T) {
	ev, err := NewChangeEvent(EventDelete, TableTyping, nil, map[string]string{"user_id": "u1"})
	require.NoError(t, err)

	var row struct {
		UserID string `json:"user_id"`
	}
	require.NoError(t, ev.Decode(&row))
	assert.Equal(t, "u1", row.UserID)

	empty := ChangeEvent{Type: EventInsert}
	assert.ErrorIs(t, empty.Decode(&row), ErrEmptyRecord)
}

func TestFilter_Matches(t *testing.T) {
	f := ConversationMessages("c1")
	assert.True(t, f.Matches(ChangeEvent{Type: EventInsert, Table: TableMessages}))
	assert.True(t, f.Matches(ChangeEvent{Type: EventUpdate, Table: TableMessages}))
	assert.False(t, f.Matches(ChangeEvent{Type: EventInsert, Table: TableConversations}))

	inserts := Filter{Topic: "x", Table: TableMessages, Event: EventInsert}
	assert.False(t, inserts.Matches(ChangeEvent{Type: EventUpdate, Table: TableMessages}))

	inbox := UserInbox("u1")
	assert.True(t, inbox.Matches(ChangeEvent{Type: EventUpdate, Table: TableConversations}))
	assert.True(t, inbox.Matches(ChangeEvent{Type: EventInsert, Table: TableMessages}))
}

func TestHybridChannelResolver(t *testing.T) {
	r := NewHybridChannelResolver()
	scope := Scope{ConversationID: "c1", PartyIDs: []string{"b", "s", "b", ""}}

	assert.Equal(t,
		[]string{"channel:conversation:c1", "channel:user:b", "channel:user:s"},
		r.ResolveChannels(ChangeEvent{Table: TableMessages}, scope))
	assert.Equal(t,
		[]string{"channel:user:b", "channel:user:s"},
		r.ResolveChannels(ChangeEvent{Table: TableConversations}, scope))
	assert.Equal(t,
		[]string{"channel:typing:c1"},
		r.ResolveChannels(ChangeEvent{Table: TableTyping}, scope))
}

func TestRedisFeed_DeliversFilteredEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	feed := NewRedisFeed(client, nil)
	pub := NewRedisPublisher(client, nil, nil)

	received := make(chan ChangeEvent, 4)
	status := &statusLog{}
	sub, err := feed.Subscribe(context.Background(), ConversationMessages("c1"),
		func(ev ChangeEvent) { received <- ev }, status.handle)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, _ := status.last()
		return s == domain.ConnectionConnected
	}, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	typingEv, err := NewChangeEvent(EventInsert, TableTyping, map[string]string{"user_id": "u"}, nil)
	require.NoError(t, err)
	// Routed to channel:typing:c1, never seen by this subscription.
	require.NoError(t, pub.Publish(ctx, typingEv, Scope{ConversationID: "c1"}))

	msgEv, err := NewChangeEvent(EventInsert, TableMessages, map[string]string{"id": "m1"}, nil)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, msgEv, Scope{ConversationID: "c1", PartyIDs: []string{"b", "s"}}))

	select {
	case ev := <-received:
		assert.Equal(t, msgEv.ID, ev.ID)
		assert.Equal(t, TableMessages, ev.Table)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	require.Eventually(t, func() bool {
		s, err := status.last()
		return s == domain.ConnectionDisconnected && err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, received)
}

func TestRedisFeed_OutlivesSubscribeContext(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	received := make(chan ChangeEvent, 1)
	status := &statusLog{}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	sub, err := NewRedisFeed(client, nil).Subscribe(ctx, ConversationMessages("c1"),
		func(ev ChangeEvent) { received <- ev }, status.handle)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	require.Eventually(t, func() bool {
		s, _ := status.last()
		return s == domain.ConnectionConnected
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	ev, err := NewChangeEvent(EventInsert, TableMessages, map[string]string{"id": "m1"}, nil)
	require.NoError(t, err)
	require.NoError(t, NewRedisPublisher(client, nil, nil).Publish(context.Background(), ev, Scope{ConversationID: "c1"}))

	select {
	case got := <-received:
		assert.Equal(t, ev.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered after the subscribe context ended")
	}
	s, _ := status.last()
	assert.Equal(t, domain.ConnectionConnected, s)
}

func TestRedisFeed_CancelledContext(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRedisFeed(client, nil).Subscribe(ctx, ConversationMessages("c1"), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisFeed_RejectsEmptyTopic(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	_, err := NewRedisFeed(client, nil).Subscribe(context.Background(), Filter{}, nil, nil)
	assert.Error(t, err)
}

// realtimeStub speaks the gateway frame protocol for one connection.
func realtimeStub(t *testing.T, script func(conn *websocket.Conn, sub Frame)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub Frame
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		script(conn, sub)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketFeed_AckThenEvents(t *testing.T) {
	filter := ConversationMessages("c1")
	insert, err := NewChangeEvent(EventInsert, TableMessages, map[string]string{"id": "m1"}, nil)
	require.NoError(t, err)
	typingEv, err := NewChangeEvent(EventInsert, TableTyping, map[string]string{"user_id": "u"}, nil)
	require.NoError(t, err)

	release := make(chan struct{})
	srv := realtimeStub(t, func(conn *websocket.Conn, sub Frame) {
		assert.Equal(t, FrameSubscribe, sub.Type)
		assert.Equal(t, filter.Topic, sub.Topic)
		_ = conn.WriteJSON(Frame{Type: FrameAck, Topic: sub.Topic})
		_ = conn.WriteJSON(Frame{Type: FrameEvent, Topic: sub.Topic, Event: &typingEv})
		_ = conn.WriteJSON(Frame{Type: FrameEvent, Topic: "channel:conversation:other", Event: &insert})
		_ = conn.WriteJSON(Frame{Type: FrameEvent, Topic: sub.Topic, Event: &insert})
		<-release
	})
	defer close(release)

	feed := NewWebSocketFeed(wsURL(srv), "tok", nil)
	received := make(chan ChangeEvent, 4)
	status := &statusLog{}
	sub, err := feed.Subscribe(context.Background(), filter, func(ev ChangeEvent) { received <- ev }, status.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	select {
	case ev := <-received:
		assert.Equal(t, insert.ID, ev.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	s, _ := status.last()
	assert.Equal(t, domain.ConnectionConnected, s)
	assert.Empty(t, received)
}

func TestWebSocketFeed_ErrorFrameDisconnects(t *testing.T) {
	srv := realtimeStub(t, func(conn *websocket.Conn, sub Frame) {
		_ = conn.WriteJSON(Frame{Type: FrameError, Topic: sub.Topic, Error: "forbidden topic"})
		time.Sleep(100 * time.Millisecond)
	})

	status := &statusLog{}
	_, err := NewWebSocketFeed(wsURL(srv), "tok", nil).
		Subscribe(context.Background(), UserInbox("someone-else"), nil, status.handle)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := status.last()
		return s == domain.ConnectionDisconnected && err != nil && err.Error() == "forbidden topic"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketFeed_DialFailure(t *testing.T) {
	feed := NewWebSocketFeed("ws://127.0.0.1:1/v1/realtime", "tok", nil)
	_, err := feed.Subscribe(context.Background(), UserInbox("u1"), nil, nil)
	assert.Error(t, err)
}

func TestFrame_JSONShape(t *testing.T) {
	data, err := json.Marshal(Frame{Type: FrameAck, Topic: "channel:user:u1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ack","topic":"channel:user:u1"}`, string(data))
}
