package message

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"safetrade-chat/internal/domain"
)

const TempIDPrefix = "temp-"

var tempSeq atomic.Uint64

// Message is one entry of a conversation stream. A locally issued message has
// only TempID until the server confirms it; afterwards ID is set and TempID is
// kept so late events can still be matched.
type Message struct {
	ID             string                `json:"id,omitempty"`
	TempID         string                `json:"temp_id,omitempty"`
	ConversationID string                `json:"conversation_id"`
	SenderID       string                `json:"sender_id"`
	SenderName     string                `json:"sender_name,omitempty"`
	Content        string                `json:"content"`
	Type           domain.MessageType    `json:"message_type"`
	IsRead         bool                  `json:"is_read"`
	IsEncrypted    bool                  `json:"is_encrypted"`
	FraudScore     *int                  `json:"fraud_score,omitempty"`
	FraudRisk      domain.RiskLevel      `json:"fraud_risk_level,omitempty"`
	FraudFlags     []string              `json:"fraud_flags,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	Status         domain.DeliveryStatus `json:"status,omitempty"`
}

// Key is the merge key: the server id once known, the temp id before.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

// Confirmed reports whether the server has assigned an id.
func (m Message) Confirmed() bool {
	return m.ID != "" && !IsTempID(m.ID)
}

// NewTempID returns a process-unique client id of the form temp-<n>.
func NewTempID() string {
	return TempIDPrefix + strconv.FormatUint(tempSeq.Add(1), 10)
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.FraudFlags != nil {
		m.FraudFlags = append([]string(nil), m.FraudFlags...)
	}
	if m.FraudScore != nil {
		score := *m.FraudScore
		m.FraudScore = &score
	}
	return m
}
