package realtime

import (
	"context"
	"encoding/json"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// RegisterRoutes wires the websocket transport. Each connection gets a
// server-assigned connection id; its single read loop dispatches intents
// serially, which is what gives per-connection emission ordering.
func RegisterRoutes(r fiber.Router, hub *Hub, b *Broadcaster) {
	r.Get("/ws", websocket.New(func(c *websocket.Conn) {
		connID := uuid.NewString()
		client := hub.Register(connID)

		done := make(chan struct{})
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				break
			}
			Deliver(hub, b.Dispatch(context.Background(), connID, raw))
		}

		// Connection loss is the disconnect intent.
		Deliver(hub, b.Disconnect(context.Background(), connID))
		hub.Unregister(client)
		<-done
	}))
}

// Deliver writes a dispatch result to the transport.
func Deliver(hub *Hub, emissions []Emission) {
	for _, e := range emissions {
		payload, err := json.Marshal(Message{Event: e.Event, Data: e.Data})
		if err != nil {
			log.Printf("deliver: marshal %s: %v", e.Event, err)
			continue
		}
		switch e.Scope {
		case ScopeBroadcast:
			hub.BroadcastAll(payload, e.Exclude)
		case ScopeTargeted:
			hub.SendTo(e.ConnID, payload)
		}
	}
}
