package feed

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// ClientMessage is an inbound subscription request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// ServerMessage is an outbound frame: a change event or a subscription reply.
type ServerMessage struct {
	Kind    string   `json:"kind"`
	Event   *Event   `json:"event,omitempty"`
	Topics  []string `json:"topics,omitempty"`
	Refused []string `json:"refused,omitempty"`
}

// Client is one connected subscriber owned by a user.
type Client struct {
	ID     string
	UserID string
	Send   chan []byte

	topics map[string]struct{}
}

// NewClient creates a client with a buffered outbound queue.
func NewClient(id, userID string, buffer int) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		Send:   make(chan []byte, buffer),
		topics: make(map[string]struct{}),
	}
}

// Hub tracks clients and their topic subscriptions and fans change events
// out to them. It is a Sink.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> subscribers
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "feed_hub").Logger(),
	}
}

// Register adds a client. It starts with no subscriptions.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c] = struct{}{}
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return
	}
	for topic := range c.topics {
		h.removeLocked(topic, c)
	}
	delete(h.all, c)
	close(c.Send)
}

// privateTables have no table-wide topic: notifications go to their
// addressee only and user rows are never published.
var privateTables = map[string]bool{
	TableNotification: true,
	TableUser:         true,
}

// Allowed reports whether c may subscribe to topic. User topics are private
// to their owner; everything else is open to any authenticated client.
func Allowed(c *Client, topic string) bool {
	switch {
	case strings.HasPrefix(topic, TopicUserPrefix):
		return topic == UserTopic(c.UserID)
	case strings.HasPrefix(topic, TopicTablePrefix):
		table := strings.TrimPrefix(topic, TopicTablePrefix)
		return table != "" && !privateTables[table]
	case strings.HasPrefix(topic, TopicPatientPrefix):
		return len(topic) > len(TopicPatientPrefix)
	}
	return false
}

// Subscribe adds topics to c and returns the ones refused.
func (h *Hub) Subscribe(c *Client, topics []string) (refused []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return topics
	}
	for _, topic := range topics {
		if !Allowed(c, topic) {
			refused = append(refused, topic)
			continue
		}
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][c] = struct{}{}
		c.topics[topic] = struct{}{}
	}
	return refused
}

// Unsubscribe removes topics from c.
func (h *Hub) Unsubscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		h.removeLocked(topic, c)
		delete(c.topics, topic)
	}
}

func (h *Hub) removeLocked(topic string, c *Client) {
	if subs, ok := h.clients[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.clients, topic)
		}
	}
}

// ProcessMessage applies an inbound message and returns the reply to send.
func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) *ServerMessage {
	switch msg.Action {
	case "subscribe":
		refused := h.Subscribe(c, msg.Topics)
		return &ServerMessage{Kind: "subscribed", Topics: msg.Topics, Refused: refused}
	case "unsubscribe":
		h.Unsubscribe(c, msg.Topics)
		return &ServerMessage{Kind: "unsubscribed", Topics: msg.Topics}
	}
	return nil
}

// Send queues data for c. It returns false when c is no longer registered
// or its buffer is full. Send never blocks.
func (h *Hub) Send(c *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.all[c]; !ok {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Handle delivers ev once to every client subscribed to any of its topics.
// A client whose buffer is full is disconnected: it would otherwise miss the
// event silently, and on reconnect it reloads its views.
func (h *Hub) Handle(_ context.Context, ev Event) {
	data, err := json.Marshal(ServerMessage{Kind: "event", Event: &ev})
	if err != nil {
		h.logger.Error().Err(err).Str("event_id", ev.ID).Msg("encode event")
		return
	}

	var slow []*Client
	h.mu.RLock()
	delivered := make(map[*Client]struct{})
	for _, topic := range Topics(ev) {
		for c := range h.clients[topic] {
			if _, done := delivered[c]; done {
				continue
			}
			delivered[c] = struct{}{}
			select {
			case c.Send <- data:
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Str("client_id", c.ID).Str("event_id", ev.ID).Msg("client buffer full, disconnecting")
		h.Unregister(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Resync tells every client that events may have been missed so it should
// reload its views. The listener calls it after reconnecting. Clients that
// cannot take the frame are disconnected.
func (h *Hub) Resync() {
	data, _ := json.Marshal(ServerMessage{Kind: "resync"})

	var slow []*Client
	h.mu.RLock()
	for c := range h.all {
		select {
		case c.Send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.Unregister(c)
	}
}
