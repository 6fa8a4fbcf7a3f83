package domain

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
	MessageTypeAlert  MessageType = "alert"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeSystem, MessageTypeAlert:
		return true
	}
	return false
}

// DeliveryStatus is the per-message state seen by the sender.
type DeliveryStatus string

const (
	DeliveryStatusSending   DeliveryStatus = "sending"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusRead      DeliveryStatus = "read"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Rank orders the forward progression sending < sent < delivered < read.
// Failed sits outside the progression and ranks zero.
func (s DeliveryStatus) Rank() int {
	switch s {
	case DeliveryStatusSending:
		return 1
	case DeliveryStatusSent:
		return 2
	case DeliveryStatusDelivered:
		return 3
	case DeliveryStatusRead:
		return 4
	}
	return 0
}

type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// IsAlert reports whether a message at this level counts as a fraud alert.
func (r RiskLevel) IsAlert() bool {
	return r == RiskLevelHigh || r == RiskLevelCritical
}

type SecurityLevel string

const (
	SecurityLevelVerified SecurityLevel = "verified"
	SecurityLevelStandard SecurityLevel = "standard"
	SecurityLevelElevated SecurityLevel = "elevated"
)

// ConnectionStatus is the tri-state connectivity of one change feed.
type ConnectionStatus string

const (
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)
