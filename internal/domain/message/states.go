package message

import "safetrade-chat/internal/domain"

// DeriveStatus computes the delivery status presented for m to viewerID.
//
// For the viewer's own messages: sending while unconfirmed, failed once
// rejected, read if the counterpart read it, otherwise delivered. Messages
// from the other party are shown as delivered or read for consistency only.
func DeriveStatus(m Message, viewerID string) domain.DeliveryStatus {
	if m.SenderID == viewerID {
		if m.Status == domain.DeliveryStatusFailed {
			return domain.DeliveryStatusFailed
		}
		if !m.Confirmed() {
			return domain.DeliveryStatusSending
		}
	}
	if m.IsRead {
		return domain.DeliveryStatusRead
	}
	return domain.DeliveryStatusDelivered
}

// Advance returns the later of current and next in the forward progression.
// A failed entry only leaves failed through an explicit retry.
func Advance(current, next domain.DeliveryStatus) domain.DeliveryStatus {
	if current == domain.DeliveryStatusFailed {
		return current
	}
	if next == domain.DeliveryStatusFailed {
		return next
	}
	if next.Rank() > current.Rank() {
		return next
	}
	return current
}
