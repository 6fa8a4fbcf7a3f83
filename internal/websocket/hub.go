package websocket

import (
	"encoding/json"
	"sync"

	"safetrade-chat/internal/events"
)

// Hub manages WebSocket client connections and topic subscriptions.
// Membership changes are applied synchronously so an ack sent from Subscribe
// always precedes the first event delivered on that topic.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client (for cleanup)
	clients map[string]*Client

	// topics maps topic name to set of clients subscribed to it
	topics map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		topics:  make(map[string]map[*Client]struct{}),
	}
}

// Register adds a new client to the hub
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
}

// Unregister removes a client and all its subscriptions, then closes its
// send queue. Calling it twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	for _, topic := range client.Topics() {
		h.detach(client, topic)
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

// Subscribe adds client to topic and queues an ack frame for it.
func (h *Hub) Subscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[*Client]struct{})
	}
	h.topics[topic][client] = struct{}{}
	client.addTopic(topic)
	client.SendFrame(events.Frame{Type: events.FrameAck, Topic: topic})
}

// Unsubscribe removes client from topic
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	h.detach(client, topic)
	h.mu.Unlock()
}

func (h *Hub) detach(client *Client, topic string) {
	if subscribers, ok := h.topics[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.topics, topic)
		}
	}
	client.removeTopic(topic)
}

// Broadcast wraps a raw change event into an event frame and queues it for
// every subscriber of topic. It returns the number of clients reached.
func (h *Hub) Broadcast(topic string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subscribers := h.topics[topic]
	if len(subscribers) == 0 {
		return 0
	}

	var ev events.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return 0
	}
	data, err := json.Marshal(events.Frame{Type: events.FrameEvent, Topic: topic, Event: &ev})
	if err != nil {
		return 0
	}

	sent := 0
	for c := range subscribers {
		if c.SendMessage(data) {
			sent++
		}
	}
	return sent
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetTopicSubscriberCount returns the number of subscribers for a topic
func (h *Hub) GetTopicSubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
