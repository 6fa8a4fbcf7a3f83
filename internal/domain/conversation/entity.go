package conversation

import (
	"time"

	"safetrade-chat/internal/domain"
)

// Placeholders used when an enrichment lookup fails or returns nothing.
const (
	UnknownListingTitle = "Unknown listing"
	UnknownPartyName    = "Unknown user"
)

// ListingSummary is a read-only copy of the listing fields shown in the inbox.
type ListingSummary struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Price float64 `json:"price"`
	Make  string  `json:"make,omitempty"`
	Model string  `json:"model,omitempty"`
	Year  int     `json:"year,omitempty"`
}

// Metrics aggregates per-viewer counters for one conversation.
type Metrics struct {
	TotalMessages int                  `json:"total_messages"`
	UnreadCount   int                  `json:"unread_count"`
	LastActivity  time.Time            `json:"last_activity"`
	FraudAlerts   int                  `json:"fraud_alerts"`
	SecurityLevel domain.SecurityLevel `json:"security_level"`
}

// ClampUnread keeps UnreadCount non-negative.
func (m *Metrics) ClampUnread() {
	if m.UnreadCount < 0 {
		m.UnreadCount = 0
	}
}

// Conversation is a negotiation between one buyer and one seller over one
// listing, as projected for a single viewer.
type Conversation struct {
	ID            string         `json:"id"`
	ListingID     string         `json:"listing_id"`
	BuyerID       string         `json:"buyer_id"`
	SellerID      string         `json:"seller_id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Listing       ListingSummary `json:"listing"`
	BuyerName     string         `json:"buyer_name"`
	SellerName    string         `json:"seller_name"`
	LastMessage   string         `json:"last_message,omitempty"`
	LastMessageAt *time.Time     `json:"last_message_at,omitempty"`
	Metrics       Metrics        `json:"metrics"`
}

// HasParty reports whether userID is the buyer or the seller.
func (c Conversation) HasParty(userID string) bool {
	return c.BuyerID == userID || c.SellerID == userID
}

// Counterpart returns the other party's id for viewerID.
func (c Conversation) Counterpart(viewerID string) string {
	if c.BuyerID == viewerID {
		return c.SellerID
	}
	return c.BuyerID
}

// ApplyDefaults fills missing denormalized fields with placeholders.
func (c *Conversation) ApplyDefaults() {
	if c.Listing.ID == "" {
		c.Listing.ID = c.ListingID
	}
	if c.Listing.Title == "" {
		c.Listing.Title = UnknownListingTitle
	}
	if c.BuyerName == "" {
		c.BuyerName = UnknownPartyName
	}
	if c.SellerName == "" {
		c.SellerName = UnknownPartyName
	}
	if c.Metrics.LastActivity.IsZero() {
		c.Metrics.LastActivity = c.UpdatedAt
	}
	if c.Metrics.SecurityLevel == "" {
		c.Metrics.SecurityLevel = domain.SecurityLevelStandard
	}
	c.Metrics.ClampUnread()
}

// ActivitySummary is the message-derived part of a conversation's metrics,
// computed for one viewer.
type ActivitySummary struct {
	TotalMessages int        `json:"total_messages"`
	UnreadCount   int        `json:"unread_count"`
	FraudAlerts   int        `json:"fraud_alerts"`
	LastMessage   string     `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// ApplyActivity copies s into the conversation's projection.
func (c *Conversation) ApplyActivity(s ActivitySummary) {
	c.Metrics.TotalMessages = s.TotalMessages
	c.Metrics.UnreadCount = s.UnreadCount
	c.Metrics.FraudAlerts = s.FraudAlerts
	c.LastMessage = s.LastMessage
	c.LastMessageAt = s.LastMessageAt
	if s.LastMessageAt != nil && s.LastMessageAt.After(c.Metrics.LastActivity) {
		c.Metrics.LastActivity = *s.LastMessageAt
	}
	c.Metrics.ClampUnread()
}

// SecurityLevelFor grades a conversation: elevated once any fraud alert was
// raised, verified when both parties verified their identity.
func SecurityLevelFor(buyerVerified, sellerVerified bool, fraudAlerts int) domain.SecurityLevel {
	switch {
	case fraudAlerts > 0:
		return domain.SecurityLevelElevated
	case buyerVerified && sellerVerified:
		return domain.SecurityLevelVerified
	}
	return domain.SecurityLevelStandard
}
