package chatsync

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"safetrade-chat/internal/domain"
	"safetrade-chat/internal/domain/conversation"
	"safetrade-chat/internal/domain/message"
	"safetrade-chat/internal/events"
	safetrade_errors "safetrade-chat/pkg/errors"
)

// ConversationList holds the viewer's conversations, each enriched with
// listing, party and activity data. Enrichment never fails a load: missing
// pieces fall back to placeholders.
type ConversationList struct {
	session  *Session
	viewerID string
	backend  Backend
	opts     Options
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	items    []conversation.Conversation
	loading  bool
	err      error
	status   domain.ConnectionStatus
	closed   bool
	onChange func()
}

func newConversationList(s *Session) *ConversationList {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConversationList{
		session:  s,
		viewerID: s.viewerID,
		backend:  s.backend,
		opts:     s.opts,
		logger:   s.logger.Named("conversations"),
		ctx:      ctx,
		cancel:   cancel,
		status:   domain.ConnectionConnecting,
	}
}

func (l *ConversationList) OnChange(fn func()) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

func (l *ConversationList) changed() {
	l.mu.Lock()
	fn := l.onChange
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Load fetches every conversation the viewer is a party to and enriches the
// rows in parallel. Only a failure of the primary query is an error; the
// previous list is then kept.
func (l *ConversationList) Load(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return safetrade_errors.ErrClosed
	}
	l.loading = true
	l.mu.Unlock()
	l.changed()

	rows, err := l.backend.ListConversations(ctx)
	if err != nil {
		l.mu.Lock()
		l.loading = false
		l.err = &safetrade_errors.LoadError{Op: "conversations", Err: err}
		loadErr := l.err
		l.mu.Unlock()
		l.logger.Warn("conversation load failed", zap.Error(err))
		l.changed()
		return loadErr
	}

	enriched := make([]conversation.Conversation, len(rows))
	var g errgroup.Group
	g.SetLimit(l.opts.EnrichConcurrency)
	for i, row := range rows {
		g.Go(func() error {
			enriched[i] = l.enrich(ctx, row)
			return nil
		})
	}
	_ = g.Wait()

	l.mu.Lock()
	l.loading = false
	if l.closed {
		l.mu.Unlock()
		return safetrade_errors.ErrClosed
	}
	l.items = enriched
	l.sortLocked()
	l.err = nil
	l.mu.Unlock()
	l.changed()
	return nil
}

// enrich fills the denormalized fields of one row. Each lookup that fails is
// logged and replaced with a placeholder.
func (l *ConversationList) enrich(ctx context.Context, c conversation.Conversation) conversation.Conversation {
	log := l.logger.With(zap.String("conversation_id", c.ID))

	if c.ListingID != "" && c.Listing.Title == "" {
		if listing, err := l.backend.Listing(ctx, c.ListingID); err != nil {
			log.Warn("listing enrichment failed", zap.String("listing_id", c.ListingID), zap.Error(err))
		} else {
			c.Listing = listing
		}
	}

	var buyerVerified, sellerVerified bool
	if p, err := l.session.profile(ctx, c.BuyerID); err != nil {
		log.Warn("buyer enrichment failed", zap.Error(err))
	} else {
		c.BuyerName, buyerVerified = p.DisplayName, p.IdentityVerified
	}
	if p, err := l.session.profile(ctx, c.SellerID); err != nil {
		log.Warn("seller enrichment failed", zap.Error(err))
	} else {
		c.SellerName, sellerVerified = p.DisplayName, p.IdentityVerified
	}

	if activity, err := l.backend.ConversationActivity(ctx, c.ID); err != nil {
		log.Warn("activity enrichment failed", zap.Error(err))
	} else {
		c.ApplyActivity(activity)
	}

	c.Metrics.SecurityLevel = conversation.SecurityLevelFor(buyerVerified, sellerVerified, c.Metrics.FraudAlerts)
	c.ApplyDefaults()
	return c
}

// OnFeedEvent reloads the enriched projection of the conversation an event
// touches: any conversation insert or update, or a message insert into a
// tracked conversation.
func (l *ConversationList) OnFeedEvent(ev events.ChangeEvent) {
	var id string
	switch {
	case ev.Table == events.TableConversations && (ev.Type == events.EventInsert || ev.Type == events.EventUpdate):
		var c conversation.Conversation
		if err := ev.Decode(&c); err != nil {
			l.logger.Debug("dropping malformed conversation event", zap.Error(err))
			return
		}
		if !c.HasParty(l.viewerID) {
			return
		}
		id = c.ID
	case ev.Table == events.TableMessages && ev.Type == events.EventInsert:
		var msg message.Message
		if err := ev.Decode(&msg); err != nil {
			l.logger.Debug("dropping malformed message event", zap.Error(err))
			return
		}
		if !l.Tracks(msg.ConversationID) {
			return
		}
		id = msg.ConversationID
	default:
		return
	}

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed || id == "" {
		return
	}

	ctx, cancel := context.WithTimeout(l.ctx, l.opts.RequestTimeout)
	defer cancel()
	if err := l.Reload(ctx, id); err != nil {
		l.logger.Warn("conversation reload failed", zap.String("conversation_id", id), zap.Error(err))
	}
}

// Reload re-fetches and re-enriches one conversation, adding it when new.
func (l *ConversationList) Reload(ctx context.Context, id string) error {
	row, err := l.backend.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	l.upsert(l.enrich(ctx, row))
	return nil
}

func (l *ConversationList) upsert(c conversation.Conversation) {
	l.mu.Lock()
	if l.closed || !c.HasParty(l.viewerID) {
		l.mu.Unlock()
		return
	}
	replaced := false
	for i := range l.items {
		if l.items[i].ID == c.ID {
			l.items[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		l.items = append(l.items, c)
	}
	l.sortLocked()
	l.mu.Unlock()
	l.changed()
}

// GetOrCreateConversation returns the conversation for the triple, creating
// it when needed. Parties without identity verification make it fail with
// *VerificationRequiredError.
func (l *ConversationList) GetOrCreateConversation(ctx context.Context, listingID, buyerID, sellerID string) (conversation.Conversation, error) {
	if listingID == "" || buyerID == "" || sellerID == "" {
		return conversation.Conversation{}, safetrade_errors.ErrInvalidInput
	}
	row, err := l.backend.GetOrCreateConversation(ctx, listingID, buyerID, sellerID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	c := l.enrich(ctx, row)
	l.upsert(c)
	return c, nil
}

// Tracks reports whether the list holds the conversation.
func (l *ConversationList) Tracks(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.items {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Conversations returns the list, most recent activity first.
func (l *ConversationList) Conversations() []conversation.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]conversation.Conversation(nil), l.items...)
}

// TotalUnreadCount sums unread counts across the list.
func (l *ConversationList) TotalUnreadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, c := range l.items {
		total += c.Metrics.UnreadCount
	}
	return total
}

// SecurityAlerts sums fraud alerts across the list.
func (l *ConversationList) SecurityAlerts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, c := range l.items {
		total += c.Metrics.FraudAlerts
	}
	return total
}

func (l *ConversationList) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

func (l *ConversationList) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *ConversationList) Status() domain.ConnectionStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *ConversationList) setStatus(status domain.ConnectionStatus, err error) {
	l.mu.Lock()
	l.status = status
	l.mu.Unlock()
	l.changed()
}

func (l *ConversationList) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.status = domain.ConnectionDisconnected
	l.mu.Unlock()

	l.cancel()
	_ = l.session.supervisor.Close(inboxFeed(l.viewerID))
	l.session.forgetList(l)
}

func (l *ConversationList) sortLocked() {
	sort.SliceStable(l.items, func(i, j int) bool {
		return l.items[i].Metrics.LastActivity.After(l.items[j].Metrics.LastActivity)
	})
}
