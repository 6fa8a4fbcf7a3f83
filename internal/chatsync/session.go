package chatsync

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"safetrade-chat/internal/domain/user"
	"safetrade-chat/internal/events"
	safetrade_errors "safetrade-chat/pkg/errors"
)

// Session holds all client-side chat state for one signed-in user. Views are
// created from the session and share its backend, feed and profile cache.
type Session struct {
	viewerID   string
	backend    Backend
	supervisor *Supervisor
	opts       Options
	logger     *zap.Logger

	mu       sync.Mutex
	closed   bool
	views    map[string]*MessageStream
	list     *ConversationList
	profiles map[string]user.Profile
}

func NewSession(viewerID string, backend Backend, feed events.Feed, opts Options, l *zap.Logger) (*Session, error) {
	if viewerID == "" {
		return nil, errors.New("chatsync: viewer id is required")
	}
	if backend == nil || feed == nil {
		return nil, errors.New("chatsync: backend and feed are required")
	}
	if l == nil {
		l = zap.NewNop()
	}
	l = l.Named("chatsync").With(zap.String("viewer_id", viewerID))
	return &Session{
		viewerID:   viewerID,
		backend:    backend,
		supervisor: NewSupervisor(feed, l),
		opts:       opts.withDefaults(),
		logger:     l,
		views:      make(map[string]*MessageStream),
		profiles:   make(map[string]user.Profile),
	}, nil
}

func (s *Session) ViewerID() string { return s.viewerID }

func (s *Session) Supervisor() *Supervisor { return s.supervisor }

func messagesFeed(conversationID string) string { return "messages:" + conversationID }
func typingFeed(conversationID string) string   { return "typing:" + conversationID }
func inboxFeed(userID string) string            { return "inbox:" + userID }

// OpenConversation opens the message view for a conversation, subscribes its
// feeds and performs the initial load. A view that is already open is
// returned as is. When the load fails the view is still returned, together
// with the *LoadError.
func (s *Session) OpenConversation(ctx context.Context, conversationID string) (*MessageStream, error) {
	if conversationID == "" {
		return nil, safetrade_errors.ErrInvalidInput
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, safetrade_errors.ErrClosed
	}
	if v, ok := s.views[conversationID]; ok {
		s.mu.Unlock()
		return v, nil
	}
	v := newMessageStream(s, conversationID)
	s.views[conversationID] = v
	s.mu.Unlock()

	if err := s.supervisor.Open(ctx, messagesFeed(conversationID), events.ConversationMessages(conversationID), v.OnFeedEvent, v.setStatus); err != nil {
		s.logger.Warn("message feed unavailable", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	if err := s.supervisor.Open(ctx, typingFeed(conversationID), events.ConversationTyping(conversationID), v.typing.OnFeedEvent, nil); err != nil {
		s.logger.Warn("typing feed unavailable", zap.String("conversation_id", conversationID), zap.Error(err))
	}

	return v, v.Load(ctx)
}

// Conversations returns the session's conversation list, loading it and
// subscribing the viewer's inbox feed on first use.
func (s *Session) Conversations(ctx context.Context) (*ConversationList, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, safetrade_errors.ErrClosed
	}
	if s.list != nil {
		l := s.list
		s.mu.Unlock()
		return l, nil
	}
	l := newConversationList(s)
	s.list = l
	s.mu.Unlock()

	if err := s.supervisor.Open(ctx, inboxFeed(s.viewerID), events.UserInbox(s.viewerID), l.OnFeedEvent, l.setStatus); err != nil {
		s.logger.Warn("inbox feed unavailable", zap.Error(err))
	}
	return l, l.Load(ctx)
}

// Reconnect re-opens every feed of the session once. It is the only retry
// the engine performs and it only runs when asked.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	names := make([]string, 0, 2*len(s.views)+1)
	for id := range s.views {
		names = append(names, messagesFeed(id), typingFeed(id))
	}
	if s.list != nil {
		names = append(names, inboxFeed(s.viewerID))
	}
	s.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := s.supervisor.Reopen(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every view and feed. The session cannot be reused.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	views := make([]*MessageStream, 0, len(s.views))
	for _, v := range s.views {
		views = append(views, v)
	}
	list := s.list
	s.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
	if list != nil {
		list.Close()
	}
	s.supervisor.CloseAll()
}

func (s *Session) forgetView(conversationID string, v *MessageStream) {
	s.mu.Lock()
	if cur, ok := s.views[conversationID]; ok && cur == v {
		delete(s.views, conversationID)
	}
	s.mu.Unlock()
}

func (s *Session) forgetList(l *ConversationList) {
	s.mu.Lock()
	if s.list == l {
		s.list = nil
	}
	s.mu.Unlock()
}

// profile resolves a user through the session cache. Only successful
// lookups are cached.
func (s *Session) profile(ctx context.Context, userID string) (user.Profile, error) {
	s.mu.Lock()
	p, ok := s.profiles[userID]
	s.mu.Unlock()
	if ok {
		return p, nil
	}

	p, err := s.backend.Profile(ctx, userID)
	if err != nil {
		return user.Profile{}, err
	}
	s.mu.Lock()
	s.profiles[userID] = p
	s.mu.Unlock()
	return p, nil
}

// displayName never fails; a lookup failure yields an empty name.
func (s *Session) displayName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	p, err := s.profile(ctx, userID)
	if err != nil {
		s.logger.Debug("profile lookup failed", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	return p.DisplayName
}
