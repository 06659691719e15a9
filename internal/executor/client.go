package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/events"
	"github.com/agor-sh/agor/internal/service"
	"github.com/agor-sh/agor/internal/store/models"
	ws "github.com/agor-sh/agor/pkg/websocket"
)

// ErrAuth marks a 401/403 from the daemon; main maps it to exit code 3.
var ErrAuth = errors.New("executor: daemon rejected session token")

const requestTimeout = 30 * time.Second

// Client talks to the daemon's REST surface with the session-scoped token
// and watches the websocket stream for the task cancel notification.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *logger.Logger
}

// NewClient creates a daemon client.
func NewClient(baseURL, token string, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
		logger:  log,
	}
}

// GetSession loads a session.
func (c *Client) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+id, nil, &session, requestTimeout); err != nil {
		return nil, err
	}
	return &session, nil
}

// StartTask transitions the task to running.
func (c *Client) StartTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+taskID+"/start", struct{}{}, &task, requestTimeout); err != nil {
		return nil, err
	}
	return &task, nil
}

// FinishTask records the terminal task status.
func (c *Client) FinishTask(ctx context.Context, taskID string, result service.TaskResult) error {
	return c.do(ctx, http.MethodPost, "/api/v1/tasks/"+taskID+"/finish", result, nil, requestTimeout)
}

// AppendMessage appends one transcript message.
func (c *Client) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	var saved models.Message
	path := "/api/v1/sessions/" + msg.SessionID + "/messages"
	if err := c.do(ctx, http.MethodPost, path, msg, &saved, requestTimeout); err != nil {
		return nil, err
	}
	return &saved, nil
}

// SetResumeToken persists the vendor session id on the session.
func (c *Client) SetResumeToken(ctx context.Context, sessionID, token string) error {
	patch := service.PatchSessionRequest{AgentSessionID: &token}
	return c.do(ctx, http.MethodPatch, "/api/v1/sessions/"+sessionID, patch, nil, requestTimeout)
}

// MCPConfig fetches the resolved MCP servers for the session. The daemon
// serializes the rendered servers directly under "servers".
func (c *Client) MCPConfig(ctx context.Context, sessionID string) ([]*models.MCPServer, error) {
	var body struct {
		Servers []*models.MCPServer `json:"servers"`
		Mode    string              `json:"mode"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+sessionID+"/mcp-config", nil, &body, requestTimeout); err != nil {
		return nil, err
	}
	return body.Servers, nil
}

// RequestPermission raises a synchronous permission prompt and blocks for the
// decision. The decided scope comes back with it so the run can stop
// re-prompting for the same tool. The call outlives the normal request
// timeout; the arbiter's own timeout bounds it server-side.
func (c *Client) RequestPermission(ctx context.Context, sessionID, taskID, toolName, inputPreview string) (bool, models.PermissionScope, error) {
	req := map[string]string{
		"task_id":       taskID,
		"tool_name":     toolName,
		"input_preview": inputPreview,
	}
	var body struct {
		Behavior string                 `json:"behavior"`
		Scope    models.PermissionScope `json:"scope"`
	}
	path := "/api/v1/sessions/" + sessionID + "/permission-requests"
	if err := c.do(ctx, http.MethodPost, path, req, &body, 0); err != nil {
		return false, models.PermissionScopeOnce, err
	}
	scope := body.Scope
	if scope == "" {
		scope = models.PermissionScopeOnce
	}
	return body.Behavior == "allow", scope, nil
}

// WatchCancel subscribes to the task's cancel subject over the websocket
// gateway. The returned channel closes when a cancel notification arrives or
// the connection drops; per the abort contract a dropped daemon connection
// also means stop.
func (c *Client) WatchCancel(ctx context.Context, taskID string) (<-chan struct{}, error) {
	wsURL, err := c.websocketURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := gws.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("executor: dial websocket: %w", err)
	}

	subject := events.SubjectTaskCancel(taskID)
	payload, _ := json.Marshal(ws.SubscribePayload{Topics: []string{subject}})
	if err := conn.WriteJSON(ws.NewRequest(uuid.NewString(), ws.ActionSubscribe, payload)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("executor: subscribe %s: %w", subject, err)
	}

	cancelled := make(chan struct{})
	go func() {
		defer close(cancelled)
		defer conn.Close()
		for {
			var msg ws.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type != ws.MessageTypeNotification || msg.Action != ws.ActionEvent {
				continue
			}
			var event ws.EventPayload
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				continue
			}
			if event.Subject == subject {
				return
			}
		}
	}()

	// Close the socket when the run context ends so the reader goroutine
	// does not linger.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return cancelled, nil
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("executor: bad daemon url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/v1/ws"
	u.RawQuery = url.Values{"token": {c.token}}.Encode()
	return u.String(), nil
}

// do executes one JSON request. A zero timeout leaves the call bounded only
// by ctx, which blocking permission requests rely on.
func (c *Client) do(ctx context.Context, method, path string, in, out any, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("executor: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("executor: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("executor: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrAuth
	}
	if resp.StatusCode >= 400 {
		return decodeAPIError(method, path, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("executor: decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(method, path string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return fmt.Errorf("executor: %s %s: %s (%s)", method, path, body.Error, body.Kind)
	}
	return fmt.Errorf("executor: %s %s: status %d", method, path, resp.StatusCode)
}
