package events

// Frame types exchanged on the realtime WebSocket.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameAck         = "ack"
	FrameEvent       = "event"
	FrameError       = "error"
)

// Frame is the envelope for every realtime WebSocket message in both
// directions.
type Frame struct {
	Type  string       `json:"type"`
	Topic string       `json:"topic,omitempty"`
	Event *ChangeEvent `json:"event,omitempty"`
	Error string       `json:"error,omitempty"`
}
