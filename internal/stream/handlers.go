package stream

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const writeWait = 5 * time.Second

// RegisterRoutes mounts the live feed: /ws for every session and
// /ws/:sessionID for one. Guards run before the websocket upgrade.
func RegisterRoutes(r fiber.Router, hub *Hub, guards ...fiber.Handler) {
	handler := websocket.New(func(c *websocket.Conn) {
		serve(c, hub)
	})
	for _, path := range []string{"/ws", "/ws/:sessionID"} {
		handlers := append(append([]fiber.Handler{}, guards...), handler)
		r.Get(path, handlers...)
	}
}

func serve(c *websocket.Conn, hub *Hub) {
	sessionID := c.Params("sessionID")
	if sessionID == "" {
		sessionID = AllSessions
	}
	client := hub.Register(sessionID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range client.Send {
			_ = c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// viewers only listen; reading detects the close
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
	hub.Unregister(client)
	<-done
}
