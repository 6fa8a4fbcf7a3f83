package events

import (
	"encoding/json"
	"errors"
	"time"
)

// EventType is the kind of row change carried by a ChangeEvent.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAny    EventType = "*"
)

// Table names the entity a change belongs to.
type Table string

const (
	TableConversations Table = "conversations"
	TableMessages      Table = "messages"
	TableTyping        Table = "typing_indicators"
)

// Redis channel prefixes
const (
	ChannelPrefixConversation = "channel:conversation:"
	ChannelPrefixUser         = "channel:user:"
	ChannelPrefixTyping       = "channel:typing:"
	ChannelPattern            = "channel:*"
)

var ErrEmptyRecord = errors.New("change event has no record")

// ChangeEvent is one row-level change notification.
type ChangeEvent struct {
	ID              string          `json:"id"`
	Type            EventType       `json:"type"`
	Table           Table           `json:"table"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// Decode unmarshals the row carried by the event into v. Deletes carry the
// row in OldRecord.
func (e ChangeEvent) Decode(v any) error {
	raw := e.Record
	if len(raw) == 0 || e.Type == EventDelete && len(e.OldRecord) > 0 {
		raw = e.OldRecord
	}
	if len(raw) == 0 {
		return ErrEmptyRecord
	}
	return json.Unmarshal(raw, v)
}

// Filter selects the events a subscription receives. Topic carries the row
// predicate (which conversation or user); Table and Event narrow further on
// the client.
type Filter struct {
	Topic string
	Table Table
	Event EventType
}

// Matches reports whether ev passes the table and event-type parts of f.
func (f Filter) Matches(ev ChangeEvent) bool {
	if f.Table != "" && f.Table != ev.Table {
		return false
	}
	if f.Event != "" && f.Event != EventAny && f.Event != ev.Type {
		return false
	}
	return true
}

// ConversationMessages selects message changes for one conversation.
func ConversationMessages(conversationID string) Filter {
	return Filter{Topic: ChannelPrefixConversation + conversationID, Table: TableMessages, Event: EventAny}
}

// ConversationTyping selects typing presence changes for one conversation.
func ConversationTyping(conversationID string) Filter {
	return Filter{Topic: ChannelPrefixTyping + conversationID, Table: TableTyping, Event: EventAny}
}

// UserInbox selects conversation and message changes for every conversation
// the user is a party to.
func UserInbox(userID string) Filter {
	return Filter{Topic: ChannelPrefixUser + userID, Event: EventAny}
}
