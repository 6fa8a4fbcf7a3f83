package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"safetrade-chat/internal/domain"
	"safetrade-chat/internal/domain/message"
	"safetrade-chat/internal/domain/typing"
	"safetrade-chat/internal/events"
	safetrade_errors "safetrade-chat/pkg/errors"
)

// MessageStream is the reconciled, time-ordered message view of one open
// conversation. Optimistic sends, HTTP confirmations and pushed changes are
// merged through one index keyed by both temp id and server id.
type MessageStream struct {
	session        *Session
	conversationID string
	viewerID       string
	backend        Backend
	opts           Options
	logger         *zap.Logger
	typing         *TypingTracker

	// ctx is cancelled on Close and bounds work the stream starts itself.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	items    []message.Message
	index    map[string]int
	loading  bool
	sending  bool
	err      error
	status   domain.ConnectionStatus
	closed   bool
	onChange func()
}

func newMessageStream(s *Session, conversationID string) *MessageStream {
	ctx, cancel := context.WithCancel(context.Background())
	m := &MessageStream{
		session:        s,
		conversationID: conversationID,
		viewerID:       s.viewerID,
		backend:        s.backend,
		opts:           s.opts,
		logger:         s.logger.Named("stream").With(zap.String("conversation_id", conversationID)),
		ctx:            ctx,
		cancel:         cancel,
		index:          make(map[string]int),
		status:         domain.ConnectionConnecting,
	}
	m.typing = newTypingTracker(s, conversationID, m.changed)
	return m
}

func (m *MessageStream) ConversationID() string { return m.conversationID }

// OnChange registers a callback run after every state change. It runs
// without the stream's lock held.
func (m *MessageStream) OnChange(fn func()) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

func (m *MessageStream) changed() {
	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Load replaces the stream with the server's history and then marks the
// counterpart's messages read. Local entries still sending or failed are
// kept. On failure the previous messages are kept and
// a *LoadError is returned.
func (m *MessageStream) Load(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return safetrade_errors.ErrClosed
	}
	m.loading = true
	m.mu.Unlock()
	m.changed()

	msgs, err := m.backend.ListMessages(ctx, m.conversationID)

	m.mu.Lock()
	m.loading = false
	if m.closed {
		m.mu.Unlock()
		return safetrade_errors.ErrClosed
	}
	if err != nil {
		m.err = &safetrade_errors.LoadError{Op: "messages", Err: err}
		loadErr := m.err
		m.mu.Unlock()
		m.logger.Warn("message load failed", zap.Error(err))
		m.changed()
		return loadErr
	}

	items := make([]message.Message, 0, len(msgs))
	for _, msg := range msgs {
		msg.Status = m.presentedStatus(msg, "")
		items = append(items, msg)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	pending := m.pendingLocked()
	m.items = items
	m.reindexLocked()
	for _, p := range pending {
		if _, ok := m.index[p.TempID]; !ok {
			m.insertLocked(p)
		}
	}
	m.err = nil
	unread := m.hasUnreadLocked()
	m.mu.Unlock()
	m.changed()

	if unread {
		if err := m.MarkAsRead(ctx); err != nil {
			m.logger.Warn("mark read after load failed", zap.Error(err))
		}
	}
	return nil
}

// Send posts content as the viewer. Blank content, or a send while another
// is in flight, is a no-op that returns (nil, nil) without a network call.
// The optimistic entry is in the stream before the request is made.
//
// On success the confirmed message is returned. A blocked message is removed
// and *BlockedError returned. Any other failure leaves the entry as failed
// and returns *SendError.
func (m *MessageStream) Send(ctx context.Context, content string, typ domain.MessageType) (*message.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}
	if typ == "" {
		typ = domain.MessageTypeText
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, safetrade_errors.ErrClosed
	}
	if m.sending {
		m.mu.Unlock()
		m.logger.Debug("send ignored while another is in flight")
		return nil, nil
	}
	temp := message.Message{
		TempID:         message.NewTempID(),
		ConversationID: m.conversationID,
		SenderID:       m.viewerID,
		Content:        content,
		Type:           typ,
		CreatedAt:      m.opts.Now(),
		Status:         domain.DeliveryStatusSending,
	}
	m.insertLocked(temp)
	m.sending = true
	m.err = nil
	m.mu.Unlock()
	m.changed()

	return m.deliver(ctx, temp.TempID, content, typ)
}

// Retry resends a failed entry in place. Entries that are not failed, and
// retries while a send is in flight, are no-ops.
func (m *MessageStream) Retry(ctx context.Context, tempID string) (*message.Message, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, safetrade_errors.ErrClosed
	}
	slot, ok := m.index[tempID]
	if !ok || m.sending || m.items[slot].Status != domain.DeliveryStatusFailed {
		m.mu.Unlock()
		return nil, nil
	}
	m.items[slot].Status = domain.DeliveryStatusSending
	content, typ := m.items[slot].Content, m.items[slot].Type
	m.sending = true
	m.err = nil
	m.mu.Unlock()
	m.changed()

	return m.deliver(ctx, tempID, content, typ)
}

// Discard drops a failed entry. It reports whether anything was removed.
func (m *MessageStream) Discard(tempID string) bool {
	m.mu.Lock()
	slot, ok := m.index[tempID]
	if !ok || m.items[slot].Status != domain.DeliveryStatusFailed {
		m.mu.Unlock()
		return false
	}
	m.removeLocked(slot)
	m.mu.Unlock()
	m.changed()
	return true
}

func (m *MessageStream) deliver(ctx context.Context, tempID, content string, typ domain.MessageType) (*message.Message, error) {
	res, err := m.backend.SendMessage(ctx, SendRequest{
		ConversationID: m.conversationID,
		SenderID:       m.viewerID,
		Content:        content,
		Type:           typ,
		ClientID:       tempID,
	})

	m.mu.Lock()
	m.sending = false
	if m.closed {
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return &res.Message, nil
	}

	var blocked *safetrade_errors.BlockedError
	switch {
	case errors.As(err, &blocked):
		if slot, ok := m.index[tempID]; ok {
			m.removeLocked(slot)
		}
		m.err = blocked
		m.mu.Unlock()
		m.logger.Info("message blocked", zap.String("risk_level", blocked.RiskLevel), zap.Strings("flags", blocked.Flags))
		m.changed()
		return nil, blocked

	case err != nil:
		if slot, ok := m.index[tempID]; ok {
			m.items[slot].Status = domain.DeliveryStatusFailed
		}
		sendErr := &safetrade_errors.SendError{TempID: tempID, Err: err}
		m.err = sendErr
		m.mu.Unlock()
		m.logger.Warn("send failed", zap.String("temp_id", tempID), zap.Error(err))
		m.changed()
		return nil, sendErr
	}

	confirmed := res.Message
	confirmed.TempID = tempID
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = m.conversationID
	}
	if res.Fraud.RiskLevel != "" && confirmed.FraudRisk == "" {
		score := res.Fraud.Score
		confirmed.FraudScore = &score
		confirmed.FraudRisk = res.Fraud.RiskLevel
		confirmed.FraudFlags = res.Fraud.Flags
	}
	slot := m.mergeLocked(confirmed, domain.DeliveryStatusSent)
	out := m.items[slot].Clone()
	m.mu.Unlock()
	m.logger.Debug("message confirmed", zap.String("temp_id", tempID), zap.String("message_id", out.ID))
	m.changed()
	return &out, nil
}

// OnFeedEvent folds one pushed message change into the stream. Inserts are
// idempotent; updates patch read state in place without reordering.
func (m *MessageStream) OnFeedEvent(ev events.ChangeEvent) {
	if ev.Table != events.TableMessages {
		return
	}
	var msg message.Message
	if err := ev.Decode(&msg); err != nil {
		m.logger.Debug("dropping malformed message event", zap.Error(err))
		return
	}
	if msg.ConversationID != m.conversationID || msg.Key() == "" {
		return
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		m.logger.Debug("event after close ignored", zap.String("event_id", ev.ID))
		return
	}

	switch ev.Type {
	case events.EventInsert:
		m.onInsert(msg)
	case events.EventUpdate:
		m.onUpdate(msg)
	}
}

func (m *MessageStream) onInsert(msg message.Message) {
	fromPeer := msg.SenderID != m.viewerID
	if fromPeer && msg.SenderName == "" {
		msg.SenderName = m.session.displayName(m.ctx, msg.SenderID)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.mergeLocked(msg, domain.DeliveryStatusDelivered)
	m.mu.Unlock()
	m.changed()

	if fromPeer && !msg.IsRead {
		go m.markReadAsync()
	}
}

func (m *MessageStream) onUpdate(msg message.Message) {
	m.mu.Lock()
	slot, ok := m.lookupLocked(msg)
	if !ok || m.closed {
		m.mu.Unlock()
		return
	}
	cur := &m.items[slot]
	if msg.ID != "" && cur.ID == "" {
		cur.ID = msg.ID
		m.index[msg.ID] = slot
	}
	if msg.IsRead {
		cur.IsRead = true
	}
	cur.Status = m.presentedStatus(*cur, cur.Status)
	m.mu.Unlock()
	m.changed()
}

func (m *MessageStream) markReadAsync() {
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.RequestTimeout)
	defer cancel()
	if err := m.MarkAsRead(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, safetrade_errors.ErrClosed) {
		m.logger.Warn("async mark read failed", zap.Error(err))
	}
}

// MarkAsRead marks every counterpart message read on the server and then
// locally.
func (m *MessageStream) MarkAsRead(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return safetrade_errors.ErrClosed
	}
	m.mu.Unlock()

	if _, err := m.backend.MarkRead(ctx, m.conversationID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	m.mu.Lock()
	changed := false
	for i := range m.items {
		it := &m.items[i]
		if it.SenderID != m.viewerID && !it.IsRead && it.Confirmed() {
			it.IsRead = true
			it.Status = domain.DeliveryStatusRead
			changed = true
		}
	}
	m.mu.Unlock()
	if changed {
		m.changed()
	}
	return nil
}

// SendTypingIndicator reports local typing activity.
func (m *MessageStream) SendTypingIndicator(ctx context.Context) error {
	return m.typing.NotifyTyping(ctx)
}

// TypingPeers lists the peers currently typing in this conversation.
func (m *MessageStream) TypingPeers() []typing.Indicator {
	return m.typing.Peers()
}

// Messages returns a copy of the ordered stream.
func (m *MessageStream) Messages() []message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]message.Message, len(m.items))
	for i, it := range m.items {
		out[i] = it.Clone()
	}
	return out
}

func (m *MessageStream) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

func (m *MessageStream) Sending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sending
}

// Err is the last load or send failure, nil once a later operation succeeds.
func (m *MessageStream) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Status is the connectivity of the conversation's message feed.
func (m *MessageStream) Status() domain.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *MessageStream) setStatus(status domain.ConnectionStatus, err error) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
	m.changed()
}

// Close stops the typing timers and feeds. Events still in flight from the
// torn-down subscriptions are ignored.
func (m *MessageStream) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.status = domain.ConnectionDisconnected
	m.mu.Unlock()

	m.cancel()
	m.typing.Close()
	sup := m.session.supervisor
	_ = sup.Close(messagesFeed(m.conversationID))
	_ = sup.Close(typingFeed(m.conversationID))
	m.session.forgetView(m.conversationID, m)
}

// presentedStatus derives the status shown for msg, never moving an own
// message backwards from floor.
func (m *MessageStream) presentedStatus(msg message.Message, floor domain.DeliveryStatus) domain.DeliveryStatus {
	derived := message.DeriveStatus(msg, m.viewerID)
	if msg.SenderID != m.viewerID || floor == "" {
		return derived
	}
	if floor == domain.DeliveryStatusFailed {
		return floor
	}
	return message.Advance(floor, derived)
}

func (m *MessageStream) lookupLocked(msg message.Message) (int, bool) {
	if msg.ID != "" {
		if slot, ok := m.index[msg.ID]; ok {
			return slot, true
		}
	}
	if msg.TempID != "" {
		if slot, ok := m.index[msg.TempID]; ok {
			return slot, true
		}
	}
	return 0, false
}

// mergeLocked upserts msg by merge key. An existing record keeps its temp id
// and sender name; field values otherwise come from msg. For own messages
// the status only moves forward, to at least reached.
func (m *MessageStream) mergeLocked(msg message.Message, reached domain.DeliveryStatus) int {
	m.dropShadowLocked(msg)
	slot, ok := m.lookupLocked(msg)
	if !ok {
		if msg.SenderID == m.viewerID {
			msg.Status = message.Advance(domain.DeliveryStatusSending, reached)
			if msg.IsRead {
				msg.Status = domain.DeliveryStatusRead
			}
		} else {
			msg.Status = m.presentedStatus(msg, "")
		}
		return m.insertLocked(msg)
	}

	cur := m.items[slot]
	if msg.TempID == "" {
		msg.TempID = cur.TempID
	}
	if msg.SenderName == "" {
		msg.SenderName = cur.SenderName
	}
	if cur.IsRead {
		msg.IsRead = true
	}
	if msg.SenderID == m.viewerID {
		status := cur.Status
		if status == domain.DeliveryStatusFailed || status == "" {
			status = domain.DeliveryStatusSending
		}
		status = message.Advance(status, reached)
		if msg.IsRead {
			status = domain.DeliveryStatusRead
		}
		msg.Status = status
	} else {
		msg.Status = m.presentedStatus(msg, "")
	}

	if msg.CreatedAt.IsZero() || msg.CreatedAt.Equal(cur.CreatedAt) {
		msg.CreatedAt = cur.CreatedAt
		m.items[slot] = msg
		m.indexEntryLocked(slot)
		return slot
	}
	// a confirmation can move the timestamp; reposition by the new one
	m.removeLocked(slot)
	return m.insertLocked(msg)
}

// pendingLocked returns the local entries the server has not confirmed yet.
func (m *MessageStream) pendingLocked() []message.Message {
	var out []message.Message
	for _, it := range m.items {
		if it.Confirmed() || it.TempID == "" {
			continue
		}
		if it.Status == domain.DeliveryStatusSending || it.Status == domain.DeliveryStatusFailed {
			out = append(out, it.Clone())
		}
	}
	return out
}

// dropShadowLocked removes the optimistic entry for msg when a reload has
// already put the confirmed record in its own slot.
func (m *MessageStream) dropShadowLocked(msg message.Message) {
	if msg.ID == "" || msg.TempID == "" {
		return
	}
	confirmedSlot, ok := m.index[msg.ID]
	if !ok {
		return
	}
	tempSlot, ok := m.index[msg.TempID]
	if !ok || tempSlot == confirmedSlot || m.items[tempSlot].Confirmed() {
		return
	}
	if m.items[confirmedSlot].SenderName == "" {
		m.items[confirmedSlot].SenderName = m.items[tempSlot].SenderName
	}
	m.removeLocked(tempSlot)
}

// insertLocked places msg after every entry with the same or an earlier
// timestamp, so ties keep arrival order.
func (m *MessageStream) insertLocked(msg message.Message) int {
	slot := sort.Search(len(m.items), func(i int) bool {
		return m.items[i].CreatedAt.After(msg.CreatedAt)
	})
	m.items = append(m.items, message.Message{})
	copy(m.items[slot+1:], m.items[slot:])
	m.items[slot] = msg
	m.reindexLocked()
	return slot
}

func (m *MessageStream) removeLocked(slot int) {
	m.items = append(m.items[:slot], m.items[slot+1:]...)
	m.reindexLocked()
}

func (m *MessageStream) indexEntryLocked(slot int) {
	it := m.items[slot]
	if it.ID != "" {
		m.index[it.ID] = slot
	}
	if it.TempID != "" {
		m.index[it.TempID] = slot
	}
}

func (m *MessageStream) reindexLocked() {
	m.index = make(map[string]int, 2*len(m.items))
	for i := range m.items {
		m.indexEntryLocked(i)
	}
}

func (m *MessageStream) hasUnreadLocked() bool {
	for _, it := range m.items {
		if it.SenderID != m.viewerID && !it.IsRead {
			return true
		}
	}
	return false
}
