package chatsync

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"safetrade-chat/internal/domain/typing"
	"safetrade-chat/internal/events"
	safetrade_errors "safetrade-chat/pkg/errors"
)

// TypingTracker publishes the viewer's typing state for one conversation and
// tracks which peers are typing.
//
// Local state: every NotifyTyping re-arms the quiet timer; when it fires the
// indicator is deleted. Upserts while the user keeps typing are throttled.
// Peer state: entries are refreshed from the feed, removed on delete, and
// evicted by a periodic sweep once older than the staleness window.
type TypingTracker struct {
	conversationID string
	viewerID       string
	publisher      TypingPublisher
	names          func(ctx context.Context, userID string) string
	opts           Options
	logger         *zap.Logger
	onChange       func()

	mu       sync.Mutex
	peers    map[string]typing.Indicator
	refresh  *rate.Limiter
	active   bool
	quiet    *time.Timer
	quietGen uint64
	stop     chan struct{}
	closed   bool
}

func newTypingTracker(s *Session, conversationID string, onChange func()) *TypingTracker {
	t := &TypingTracker{
		conversationID: conversationID,
		viewerID:       s.viewerID,
		publisher:      s.backend,
		names:          s.displayName,
		opts:           s.opts,
		logger:         s.logger.Named("typing").With(zap.String("conversation_id", conversationID)),
		onChange:       onChange,
		peers:          make(map[string]typing.Indicator),
		refresh:        rate.NewLimiter(rate.Every(s.opts.TypingRefreshInterval), 1),
		stop:           make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

// NotifyTyping records local typing activity.
func (t *TypingTracker) NotifyTyping(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return safetrade_errors.ErrClosed
	}
	t.quietGen++
	gen := t.quietGen
	if t.quiet != nil {
		t.quiet.Stop()
	}
	t.quiet = time.AfterFunc(t.opts.TypingQuietPeriod, func() { t.quietElapsed(gen) })

	publish := !t.active || t.refresh.AllowN(t.opts.Now(), 1)
	if !t.active {
		// first keystroke of a burst always goes out and starts a new window
		t.refresh.AllowN(t.opts.Now(), 1)
	}
	t.active = true
	t.mu.Unlock()

	if !publish {
		return nil
	}
	return t.publisher.StartTyping(ctx, t.conversationID)
}

func (t *TypingTracker) quietElapsed(gen uint64) {
	t.mu.Lock()
	if t.closed || gen != t.quietGen || !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.quiet = nil
	t.mu.Unlock()

	t.stopRemote()
}

func (t *TypingTracker) stopRemote() {
	ctx, cancel := context.WithTimeout(context.Background(), t.opts.RequestTimeout)
	defer cancel()
	if err := t.publisher.StopTyping(ctx, t.conversationID); err != nil {
		t.logger.Warn("clear typing indicator failed", zap.Error(err))
	}
}

// Typing reports whether the local indicator is currently published.
func (t *TypingTracker) Typing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// OnFeedEvent folds a peer's typing change into local state.
func (t *TypingTracker) OnFeedEvent(ev events.ChangeEvent) {
	if ev.Table != events.TableTyping {
		return
	}
	var ind typing.Indicator
	if err := ev.Decode(&ind); err != nil {
		t.logger.Debug("dropping malformed typing event", zap.Error(err))
		return
	}
	if ind.ConversationID != t.conversationID || ind.UserID == "" || ind.UserID == t.viewerID {
		return
	}

	if ev.Type == events.EventDelete {
		t.mu.Lock()
		_, had := t.peers[ind.UserID]
		delete(t.peers, ind.UserID)
		t.mu.Unlock()
		if had {
			t.changed()
		}
		return
	}

	if ind.DisplayName == "" {
		ind.DisplayName = t.names(context.Background(), ind.UserID)
	}
	ind.UpdatedAt = t.opts.Now()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.peers[ind.UserID] = ind
	t.mu.Unlock()
	t.changed()
}

// Peers returns the peers currently typing, by name. Stale entries are never
// included even if the sweep has not run yet.
func (t *TypingTracker) Peers() []typing.Indicator {
	now := t.opts.Now()
	t.mu.Lock()
	out := make([]typing.Indicator, 0, len(t.peers))
	for _, ind := range t.peers {
		if !ind.Stale(now, t.opts.TypingStaleAfter) {
			out = append(out, ind)
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out
}

func (t *TypingTracker) sweepLoop() {
	ticker := time.NewTicker(t.opts.TypingSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if t.Sweep() > 0 {
				t.changed()
			}
		}
	}
}

// Sweep evicts stale peer entries and returns how many were dropped.
func (t *TypingTracker) Sweep() int {
	now := t.opts.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, ind := range t.peers {
		if ind.Stale(now, t.opts.TypingStaleAfter) {
			delete(t.peers, id)
			n++
		}
	}
	return n
}

func (t *TypingTracker) changed() {
	if t.onChange != nil {
		t.onChange()
	}
}

// Close stops every timer. A published local indicator is cleared in the
// background.
func (t *TypingTracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.quietGen++
	if t.quiet != nil {
		t.quiet.Stop()
		t.quiet = nil
	}
	wasActive := t.active
	t.active = false
	t.peers = make(map[string]typing.Indicator)
	close(t.stop)
	t.mu.Unlock()

	if wasActive {
		go t.stopRemote()
	}
}
