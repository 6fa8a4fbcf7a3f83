package typing

import "time"

// Indicator is an ephemeral "is typing" record keyed by conversation and user.
type Indicator struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	DisplayName    string    `json:"display_name,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Stale reports whether the indicator is older than window at now.
func (i Indicator) Stale(now time.Time, window time.Duration) bool {
	return now.Sub(i.UpdatedAt) > window
}
