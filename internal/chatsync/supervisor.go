package chatsync

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"safetrade-chat/internal/domain"
	"safetrade-chat/internal/events"
)

// StatusFunc observes a feed's connectivity transitions.
type StatusFunc func(status domain.ConnectionStatus, err error)

type feedState struct {
	filter   events.Filter
	handler  events.Handler
	onStatus StatusFunc
	sub      events.Subscription
	status   domain.ConnectionStatus
	lastErr  error
	gen      uint64
}

// Supervisor owns the change-feed subscriptions of one session. Each named
// feed moves connecting -> connected -> disconnected. Nothing is reopened
// automatically; callers use Reopen.
type Supervisor struct {
	feed   events.Feed
	logger *zap.Logger

	mu    sync.Mutex
	feeds map[string]*feedState
	gen   uint64
}

func NewSupervisor(feed events.Feed, l *zap.Logger) *Supervisor {
	if l == nil {
		l = zap.NewNop()
	}
	return &Supervisor{
		feed:   feed,
		logger: l.Named("supervisor"),
		feeds:  make(map[string]*feedState),
	}
}

// Open subscribes a named feed, closing any previous feed under that name.
// Events and status callbacks from a closed or replaced subscription are
// dropped.
func (s *Supervisor) Open(ctx context.Context, name string, filter events.Filter, handler events.Handler, onStatus StatusFunc) error {
	s.mu.Lock()
	var stale events.Subscription
	if old, ok := s.feeds[name]; ok {
		stale = detach(old)
	}
	st := &feedState{filter: filter, handler: handler, onStatus: onStatus}
	s.feeds[name] = st
	s.mu.Unlock()

	s.unsubscribe(name, stale)
	return s.subscribe(ctx, name, st)
}

// Reopen re-subscribes a feed with its original filter and handlers.
func (s *Supervisor) Reopen(ctx context.Context, name string) error {
	s.mu.Lock()
	old, ok := s.feeds[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("reopen %s: feed not open", name)
	}
	stale := detach(old)
	st := &feedState{filter: old.filter, handler: old.handler, onStatus: old.onStatus}
	s.feeds[name] = st
	s.mu.Unlock()

	s.unsubscribe(name, stale)
	return s.subscribe(ctx, name, st)
}

func (s *Supervisor) subscribe(ctx context.Context, name string, st *feedState) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	st.gen = gen
	s.mu.Unlock()

	s.transition(name, gen, domain.ConnectionConnecting, nil)

	sub, err := s.feed.Subscribe(ctx, st.filter,
		func(ev events.ChangeEvent) {
			if !s.current(name, gen) {
				s.logger.Debug("dropping event from stale feed", zap.String("feed", name), zap.String("event_id", ev.ID))
				return
			}
			if st.handler != nil {
				st.handler(ev)
			}
		},
		func(status domain.ConnectionStatus, err error) {
			s.transition(name, gen, status, err)
		},
	)
	if err != nil {
		s.transition(name, gen, domain.ConnectionDisconnected, err)
		return fmt.Errorf("subscribe %s: %w", name, err)
	}

	s.mu.Lock()
	if cur, ok := s.feeds[name]; !ok || cur.gen != gen {
		s.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil
	}
	st.sub = sub
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) current(name string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.feeds[name]
	return ok && st.gen == gen
}

func (s *Supervisor) transition(name string, gen uint64, status domain.ConnectionStatus, err error) {
	s.mu.Lock()
	st, ok := s.feeds[name]
	if !ok || st.gen != gen || st.status == status {
		s.mu.Unlock()
		return
	}
	// disconnected is terminal for one subscription
	if st.status == domain.ConnectionDisconnected {
		s.mu.Unlock()
		return
	}
	st.status = status
	st.lastErr = err
	onStatus := st.onStatus
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("feed status changed", zap.String("feed", name), zap.String("status", string(status)), zap.Error(err))
	} else {
		s.logger.Info("feed status changed", zap.String("feed", name), zap.String("status", string(status)))
	}
	if onStatus != nil {
		onStatus(status, err)
	}
}

// Status reports a feed's connectivity. Unknown feeds are disconnected.
func (s *Supervisor) Status(name string) domain.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.feeds[name]; ok {
		return st.status
	}
	return domain.ConnectionDisconnected
}

// LastError is the failure behind the most recent disconnect, if any.
func (s *Supervisor) LastError(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.feeds[name]; ok {
		return st.lastErr
	}
	return nil
}

// Close unsubscribes a feed and forgets it.
func (s *Supervisor) Close(name string) error {
	s.mu.Lock()
	st, ok := s.feeds[name]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	wasDisconnected := st.status == domain.ConnectionDisconnected
	sub := detach(st)
	delete(s.feeds, name)
	s.mu.Unlock()

	if st.onStatus != nil && !wasDisconnected {
		st.onStatus(domain.ConnectionDisconnected, nil)
	}
	if sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}

// CloseAll closes every open feed.
func (s *Supervisor) CloseAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.feeds))
	for name := range s.feeds {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.Close(name); err != nil {
			s.logger.Debug("unsubscribe failed", zap.String("feed", name), zap.Error(err))
		}
	}
}

// detach invalidates st so its callbacks become no-ops and hands back its
// subscription. Callers hold s.mu.
func detach(st *feedState) events.Subscription {
	st.gen = 0
	sub := st.sub
	st.sub = nil
	return sub
}

func (s *Supervisor) unsubscribe(name string, sub events.Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		s.logger.Debug("unsubscribe failed", zap.String("feed", name), zap.Error(err))
	}
}
