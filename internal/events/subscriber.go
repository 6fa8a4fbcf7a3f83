package events

import (
	"context"

	"safetrade-chat/internal/domain"
)

// Subscriber is the raw pattern subscription used by the push gateway.
type Subscriber interface {
	Subscribe(ctx context.Context, channels []string, handler func(channel string, payload []byte)) error
}

// Handler receives change events for one subscription.
type Handler func(ev ChangeEvent)

// StatusHandler is told about connection transitions. err is non-nil when
// the transition to disconnected was caused by a failure.
type StatusHandler func(status domain.ConnectionStatus, err error)

// Feed opens filtered change-event subscriptions. Implementations report
// connected once the subscription is acknowledged and disconnected once it
// ends; they never reconnect on their own.
type Feed interface {
	Subscribe(ctx context.Context, filter Filter, onEvent Handler, onStatus StatusHandler) (Subscription, error)
}

// Subscription is an open feed. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe() error
}
