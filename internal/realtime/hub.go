package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const broadcastChannel = "presence:broadcast"

// Message is the outbound wire envelope.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub owns the connection set and fans payloads out locally and, when
// Redis is configured, across nodes.
type Hub struct {
	id      string
	redis   *redis.Client
	mu      sync.RWMutex
	clients map[string]*Client
}

type Client struct {
	ConnID string
	Send   chan []byte
}

// fanout is the cross-node envelope. Origin lets the publishing node skip
// its own messages when they come back over the subscription.
type fanout struct {
	Origin  string          `json:"origin"`
	Exclude string          `json:"exclude,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		id:      uuid.NewString(),
		redis:   redisClient,
		clients: map[string]*Client{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(connID string) *Client {
	client := &Client{
		ConnID: connID,
		Send:   make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[connID] = client
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.clients[client.ConnID]; ok && existing == client {
		delete(h.clients, client.ConnID)
	}
	close(client.Send)
}

// SendTo delivers a payload to one connection. Unknown connections and
// full send buffers drop the payload rather than block.
func (h *Hub) SendTo(connID string, payload []byte) {
	h.mu.RLock()
	client := h.clients[connID]
	h.mu.RUnlock()

	if client == nil {
		return
	}
	select {
	case client.Send <- payload:
	default:
	}
}

// BroadcastAll fans the payload out to every local connection except the
// excluded one and mirrors it over Redis for other nodes.
func (h *Hub) BroadcastAll(payload []byte, exclude string) {
	h.deliverLocal(payload, exclude)

	if h.redis != nil {
		env, err := json.Marshal(fanout{Origin: h.id, Exclude: exclude, Payload: payload})
		if err != nil {
			return
		}
		if err := h.redis.Publish(context.Background(), broadcastChannel, env).Err(); err != nil {
			log.Printf("redis publish error: %v", err)
		}
	}
}

// BroadcastEvent marshals an event envelope and broadcasts it with no
// exclusions.
func (h *Hub) BroadcastEvent(event string, data any) {
	payload, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		return
	}
	h.BroadcastAll(payload, "")
}

func (h *Hub) deliverLocal(payload []byte, exclude string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID, client := range h.clients {
		if connID == exclude {
			continue
		}
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	pubsub := h.redis.Subscribe(context.Background(), broadcastChannel)
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var env fanout
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			continue
		}
		if env.Origin == h.id {
			continue
		}
		h.deliverLocal(env.Payload, env.Exclude)
	}
}
