package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/events"
	"github.com/agor-sh/agor/internal/events/bus"
	ws "github.com/agor-sh/agor/pkg/websocket"
)

// Hub fans bus events out to connected websocket clients.
type Hub struct {
	eventBus bus.EventBus
	logger   *logger.Logger

	mu      sync.RWMutex
	clients map[string]*Client

	subs []bus.Subscription
}

// NewHub creates a hub that is not yet listening on the bus.
func NewHub(eventBus bus.EventBus, log *logger.Logger) *Hub {
	return &Hub{
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "ws-hub")),
		clients:  make(map[string]*Client),
	}
}

// Start subscribes to every externally visible event stream. Each
// subject family gets one bus subscription shared by all clients.
func (h *Hub) Start(ctx context.Context) error {
	subjects := []string{
		events.SubjectAllSessions,
		events.SubjectAllTasks,
		events.SubjectAllMessages,
		events.SubjectAllWorktrees,
		events.SubjectAllBoards,
		events.SubjectAllPermissions,
		events.SubjectAllTerminals,
	}
	for _, subject := range subjects {
		sub, err := h.eventBus.Subscribe(subject, h.dispatch)
		if err != nil {
			h.Stop()
			return err
		}
		h.subs = append(h.subs, sub)
	}
	return nil
}

// Stop tears down bus subscriptions and disconnects all clients.
func (h *Hub) Stop() {
	for _, sub := range h.subs {
		if err := sub.Unsubscribe(); err != nil {
			h.logger.Warn("failed to unsubscribe", zap.Error(err))
		}
	}
	h.subs = nil

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
}

// Register adds a client to the fan-out set.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("client registered", zap.String("client_id", client.ID), zap.Int("clients", len(h.clients)))
}

// Unregister removes a client. Safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.send)
		h.logger.Debug("client unregistered", zap.String("client_id", client.ID), zap.Int("clients", len(h.clients)))
	}
}

// dispatch forwards one bus event to every subscribed client.
func (h *Hub) dispatch(ctx context.Context, event *bus.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return nil
	}
	payload, err := json.Marshal(ws.EventPayload{
		Subject: event.Subject,
		Event:   raw,
	})
	if err != nil {
		h.logger.Error("failed to marshal event payload", zap.Error(err))
		return nil
	}
	frame, err := json.Marshal(ws.NewNotification(ws.ActionEvent, payload))
	if err != nil {
		h.logger.Error("failed to marshal event frame", zap.Error(err))
		return nil
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		if client.Subscribed(event.Subject) {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.enqueue(frame)
	}
	return nil
}
