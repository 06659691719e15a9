package websocket

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/service"
	ws "github.com/agor-sh/agor/pkg/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	// sendBuffer bounds the per-client queue; a client that cannot
	// drain it in time is disconnected and must re-sync from the store.
	sendBuffer = 256
)

// Client is one connected event-stream subscriber.
type Client struct {
	ID        string
	Principal service.Principal

	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte
	logger *logger.Logger

	mu     sync.RWMutex
	topics []string
}

// NewClient wraps an upgraded connection.
func NewClient(id string, principal service.Principal, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:        id,
		Principal: principal,
		conn:      conn,
		hub:       hub,
		send:      make(chan []byte, sendBuffer),
		logger:    log.WithFields(zap.String("client_id", id)),
	}
}

// Subscribed reports whether the client wants events on the subject.
func (c *Client) Subscribed(subject string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, topic := range c.topics {
		if topicMatches(subject, topic) {
			return true
		}
	}
	return false
}

// topicMatches applies NATS-style wildcards client-side.
func topicMatches(subject, topic string) bool {
	if topic == ">" || topic == subject {
		return true
	}
	st := strings.Split(subject, ".")
	tt := strings.Split(topic, ".")
	for i, part := range tt {
		if part == ">" {
			return true
		}
		if i >= len(st) {
			return false
		}
		if part != "*" && part != st[i] {
			return false
		}
	}
	return len(st) == len(tt)
}

// ReadPump consumes client frames until the connection dies.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", zap.Error(err))
			}
			return
		}

		var msg ws.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(ws.NewError("", "", ws.ErrorCodeBadRequest, "invalid message format"))
			continue
		}
		c.handle(&msg)
	}
}

func (c *Client) handle(msg *ws.Message) {
	switch msg.Action {
	case ws.ActionSubscribe:
		var payload ws.SubscribePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.reply(ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "invalid subscribe payload"))
			return
		}
		c.mu.Lock()
		c.topics = append(c.topics, payload.Topics...)
		c.mu.Unlock()
		c.reply(ws.NewResponse(msg.ID, msg.Action, nil))
	case ws.ActionUnsubscribe:
		var payload ws.SubscribePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.reply(ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "invalid unsubscribe payload"))
			return
		}
		drop := make(map[string]bool, len(payload.Topics))
		for _, t := range payload.Topics {
			drop[t] = true
		}
		c.mu.Lock()
		kept := c.topics[:0]
		for _, t := range c.topics {
			if !drop[t] {
				kept = append(kept, t)
			}
		}
		c.topics = kept
		c.mu.Unlock()
		c.reply(ws.NewResponse(msg.ID, msg.Action, nil))
	default:
		c.reply(ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "unknown action"))
	}
}

// reply queues a frame, dropping the client on overflow.
func (c *Client) reply(msg *ws.Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(raw)
}

// enqueue adds raw bytes to the send queue; a full queue means the
// client is too slow and gets unregistered.
func (c *Client) enqueue(raw []byte) {
	select {
	case c.send <- raw:
	default:
		c.logger.Warn("client send buffer overflow, disconnecting")
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}
}

// WritePump drains the send queue to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
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
