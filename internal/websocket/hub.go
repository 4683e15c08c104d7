package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"medsales/internal/auth"
	"medsales/internal/authz"
	"medsales/internal/model"
	"medsales/pkg/apperr"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256

	// Clients subscribe to stock and case changes; reading inventory is the minimum grant.
	subscribeResource = "inventory"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the envelope written to every client.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
	At    time.Time   `json:"at"`
}

// Client represents a single connected WebSocket client
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	connected  atomic.Int64
	log        *logrus.Logger
}

func NewHub(log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run dispatches registrations and broadcasts until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.connected.Store(0)
			return nil
		case client := <-h.register:
			h.clients[client] = true
			h.connected.Store(int64(len(h.clients)))
			h.log.WithField("clients", len(h.clients)).Debug("websocket client connected")
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.connected.Store(int64(len(h.clients)))
				h.log.WithField("clients", len(h.clients)).Debug("websocket client disconnected")
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// slow consumer
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.connected.Store(int64(len(h.clients)))
		}
	}
}

// Connected reports how many clients are registered.
func (h *Hub) Connected() int {
	return int(h.connected.Load())
}

// Publish queues an event for every connected client. It drops the event when the hub is saturated.
func (h *Hub) Publish(event string, data interface{}) {
	payload, err := json.Marshal(Message{Event: event, Data: data, At: time.Now().UTC()})
	if err != nil {
		h.log.WithError(err).WithField("event", event).Warn("failed to encode websocket event")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.log.WithField("event", event).Warn("websocket broadcast queue full, event dropped")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only drains control frames; clients never send application messages.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Warn("websocket read failed")
			}
			return
		}
	}
}

// ServeWs authenticates the token query parameter, checks inventory:read and upgrades the connection.
func ServeWs(hub *Hub, verifier *auth.Verifier, authorizer authz.Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("token")
		if raw == "" {
			hub.log.Info("websocket connection rejected: missing token")
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		userID, err := verifier.Verify(c.Request.Context(), raw)
		if err != nil {
			hub.log.WithError(err).Info("websocket connection rejected")
			c.AbortWithStatus(apperr.HTTPStatus(err))
			return
		}

		decision, err := authorizer.Authorize(c.Request.Context(), authz.Request{
			UserID:   userID,
			Tenant:   c.Query("tenant"),
			Resource: subscribeResource,
			Action:   model.ActionRead,
		}, nil)
		if err != nil {
			hub.log.WithError(err).Error("websocket authorization failed")
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if !decision.Allowed {
			hub.log.WithField("user_id", userID.String()).Info("websocket connection rejected: inadequate permissions")
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		client := &Client{hub: hub, conn: conn, send: make(chan []byte, sendBuffer)}
		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
