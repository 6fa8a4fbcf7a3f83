package chatsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safetrade-chat/internal/domain/typing"
	"safetrade-chat/internal/events"
)

var convATypingTopic = events.ChannelPrefixTyping + convA

func openWithOptions(t *testing.T, b *fakeBackend, f *fakeFeed, tune func(*Options)) *MessageStream {
	t.Helper()
	opts := DefaultOptions()
	opts.RequestTimeout = time.Second
	tune(&opts)
	s, err := NewSession(viewer, b, f, opts, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	v, err := s.OpenConversation(context.Background(), convA)
	require.NoError(t, err)
	return v
}

func TestTypingTracker_PeerExpires(t *testing.T) {
	clock := newFakeClock()
	b := newFakeBackend()
	f := newFakeFeed()
	v := openWithOptions(t, b, f, func(o *Options) {
		o.Now = clock.Now
		o.TypingSweepInterval = time.Hour
	})

	f.push(convATypingTopic, typingEvent(t, events.EventInsert, typing.Indicator{ConversationID: convA, UserID: peer}))

	peers := v.TypingPeers()
	require.Len(t, peers, 1)
	assert.Equal(t, "Sam", peers[0].DisplayName)
	assert.Equal(t, epoch, peers[0].UpdatedAt)

	clock.Advance(4 * time.Second)
	assert.Len(t, v.TypingPeers(), 1)
	assert.Equal(t, 0, v.typing.Sweep())

	clock.Advance(2 * time.Second)
	assert.Empty(t, v.TypingPeers())
	assert.Equal(t, 1, v.typing.Sweep())
	assert.Equal(t, 0, v.typing.Sweep())
}

func TestTypingTracker_RefreshKeepsPeerAlive(t *testing.T) {
	clock := newFakeClock()
	f := newFakeFeed()
	v := openWithOptions(t, newFakeBackend(), f, func(o *Options) {
		o.Now = clock.Now
		o.TypingSweepInterval = time.Hour
	})

	ind := typing.Indicator{ConversationID: convA, UserID: peer}
	f.push(convATypingTopic, typingEvent(t, events.EventInsert, ind))
	clock.Advance(4 * time.Second)
	f.push(convATypingTopic, typingEvent(t, events.EventUpdate, ind))
	clock.Advance(4 * time.Second)

	assert.Len(t, v.TypingPeers(), 1)
}

func TestTypingTracker_SweepLoopEvicts(t *testing.T) {
	clock := newFakeClock()
	f := newFakeFeed()
	v := openWithOptions(t, newFakeBackend(), f, func(o *Options) {
		o.Now = clock.Now
		o.TypingSweepInterval = 5 * time.Millisecond
	})

	f.push(convATypingTopic, typingEvent(t, events.EventInsert, typing.Indicator{ConversationID: convA, UserID: peer}))
	clock.Advance(10 * time.Second)

	require.Eventually(t, func() bool {
		v.typing.mu.Lock()
		defer v.typing.mu.Unlock()
		return len(v.typing.peers) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTypingTracker_DeleteRemovesPeer(t *testing.T) {
	f := newFakeFeed()
	v := openStream(t, newFakeBackend(), f)

	ind := typing.Indicator{ConversationID: convA, UserID: peer}
	f.push(convATypingTopic, typingEvent(t, events.EventInsert, ind))
	require.Len(t, v.TypingPeers(), 1)

	f.push(convATypingTopic, typingEvent(t, events.EventDelete, ind))
	assert.Empty(t, v.TypingPeers())
}

func TestTypingTracker_IgnoresSelfAndOtherConversations(t *testing.T) {
	f := newFakeFeed()
	v := openStream(t, newFakeBackend(), f)

	f.push(convATypingTopic, typingEvent(t, events.EventInsert, typing.Indicator{ConversationID: convA, UserID: viewer}))
	v.typing.OnFeedEvent(typingEvent(t, events.EventInsert, typing.Indicator{ConversationID: convB, UserID: peer}))

	assert.Empty(t, v.TypingPeers())
}

func TestTypingTracker_ThrottlesUpserts(t *testing.T) {
	clock := newFakeClock()
	b := newFakeBackend()
	v := openWithOptions(t, b, newFakeFeed(), func(o *Options) {
		o.Now = clock.Now
		o.TypingQuietPeriod = time.Minute
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, v.SendTypingIndicator(context.Background()))
	}
	starts, stops := b.typingCounts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 0, stops)
	assert.True(t, v.typing.Typing())

	clock.Advance(1100 * time.Millisecond)
	require.NoError(t, v.SendTypingIndicator(context.Background()))
	require.NoError(t, v.SendTypingIndicator(context.Background()))
	starts, _ = b.typingCounts()
	assert.Equal(t, 2, starts)
}

func TestTypingTracker_QuietPeriodClearsIndicator(t *testing.T) {
	b := newFakeBackend()
	v := openStream(t, b, newFakeFeed())

	require.NoError(t, v.SendTypingIndicator(context.Background()))
	require.Eventually(t, func() bool {
		_, stops := b.typingCounts()
		return stops == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, v.typing.Typing())

	starts, _ := b.typingCounts()
	assert.Equal(t, 1, starts)
}

func TestTypingTracker_KeystrokesPostponeQuietPeriod(t *testing.T) {
	b := newFakeBackend()
	v := openWithOptions(t, b, newFakeFeed(), func(o *Options) {
		o.TypingQuietPeriod = 200 * time.Millisecond
	})

	require.NoError(t, v.SendTypingIndicator(context.Background()))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, v.SendTypingIndicator(context.Background()))
	time.Sleep(150 * time.Millisecond)

	// 250ms after the first keystroke but only 150ms after the last
	_, stops := b.typingCounts()
	assert.Equal(t, 0, stops)

	require.Eventually(t, func() bool {
		_, stops := b.typingCounts()
		return stops == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTypingTracker_CloseStopsTimers(t *testing.T) {
	b := newFakeBackend()
	f := newFakeFeed()
	v := openWithOptions(t, b, f, func(o *Options) {
		o.TypingQuietPeriod = 30 * time.Millisecond
	})

	require.NoError(t, v.SendTypingIndicator(context.Background()))
	f.push(convATypingTopic, typingEvent(t, events.EventInsert, typing.Indicator{ConversationID: convA, UserID: peer}))
	v.Close()

	// the active indicator is cleared exactly once, by Close
	require.Eventually(t, func() bool {
		_, stops := b.typingCounts()
		return stops == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	_, stops := b.typingCounts()
	assert.Equal(t, 1, stops)

	assert.Empty(t, v.TypingPeers())
	assert.Error(t, v.SendTypingIndicator(context.Background()))
}
