package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	gws "github.com/agor-sh/agor/internal/gateway/websocket"
	"github.com/agor-sh/agor/internal/service"
	ws "github.com/agor-sh/agor/pkg/websocket"
)

// authFrameWait bounds how long an unauthenticated connection may sit
// before sending its auth frame.
const authFrameWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The daemon binds to loopback; browser origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWebsocket upgrades the connection and hands it to the hub.
// Clients authenticate with a bearer token (header or token query
// param) or, failing that, an auth frame as the first message.
func (h *Handlers) serveWebsocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	principal, ok := h.wsAuthenticate(c, conn)
	if !ok {
		_ = conn.Close()
		return
	}

	client := gws.NewClient(uuid.New().String(), principal, conn, h.deps.Hub, h.deps.Logger)
	h.deps.Hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// wsAuthenticate resolves the connection's principal, reading a first
// auth frame when no token accompanied the upgrade request.
func (h *Handlers) wsAuthenticate(c *gin.Context, conn *websocket.Conn) (service.Principal, bool) {
	if token := bearerToken(c); token != "" {
		return h.wsVerify(conn, token)
	}

	_ = conn.SetReadDeadline(time.Now().Add(authFrameWait))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return service.Principal{}, false
	}
	var msg ws.Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Action != ws.ActionAuth {
		h.wsReject(conn, msg.ID, "first message must be an auth frame")
		return service.Principal{}, false
	}
	var payload ws.AuthPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		h.wsReject(conn, msg.ID, "invalid auth payload")
		return service.Principal{}, false
	}

	principal, ok := h.wsVerify(conn, payload.Token)
	if ok {
		if ack, err := json.Marshal(ws.NewResponse(msg.ID, ws.ActionAuth, nil)); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, ack)
		}
	}
	return principal, ok
}

func (h *Handlers) wsVerify(conn *websocket.Conn, token string) (service.Principal, bool) {
	claims, err := h.deps.Signer.Verify(token)
	if err != nil {
		h.wsReject(conn, "", "invalid token")
		return service.Principal{}, false
	}
	return service.Principal{
		UserID:    claims.UserID,
		Role:      claims.Role,
		SessionID: claims.SessionID,
	}, true
}

func (h *Handlers) wsReject(conn *websocket.Conn, msgID, reason string) {
	if frame, err := json.Marshal(ws.NewError(msgID, ws.ActionAuth, ws.ErrorCodeAuth, reason)); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
}
