package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/agor-sh/agor/internal/common/config"
)

const tokenFileName = "cli-token"

func defaultDaemonURL() string {
	if v := os.Getenv("AGOR_DAEMON_URL"); v != "" {
		return v
	}
	return "http://127.0.0.1:7365"
}

func tokenPath() string {
	return filepath.Join(config.StateDir(), tokenFileName)
}

func loadToken() string {
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(data))
}

func saveToken(token string) error {
	path := tokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	return nil
}

func clearToken() error {
	err := os.Remove(tokenPath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// client is a thin REST wrapper around the daemon's /api/v1 surface.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient() *client {
	return &client{
		baseURL: daemonURL,
		token:   loadToken(),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *client) get(path string, out any) error {
	return c.do(http.MethodGet, path, "", nil, out)
}

func (c *client) post(path string, body, out any) error {
	return c.doJSON(http.MethodPost, path, body, out)
}

func (c *client) patch(path string, body, out any) error {
	return c.doJSON(http.MethodPatch, path, body, out)
}

func (c *client) doJSON(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	return c.do(method, path, "application/json", reader, out)
}

// postRaw sends a preserialized body, used for board YAML import.
func (c *client) postRaw(path, contentType string, body []byte, out any) error {
	return c.do(http.MethodPost, path, contentType, bytes.NewReader(body), out)
}

// getRaw returns the response body verbatim, used for board export.
func (c *client) getRaw(path string) ([]byte, error) {
	var raw []byte
	err := c.do(http.MethodGet, path, "", nil, &raw)
	return raw, err
}

func (c *client) do(method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach agord at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s (run \"agor login\")", errAuth, apiError(data))
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("daemon returned %s: %s", resp.Status, apiError(data))
	}

	switch dst := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*dst = data
		return nil
	default:
		if len(data) == 0 {
			return nil
		}
		return json.Unmarshal(data, out)
	}
}

func apiError(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(bytes.TrimSpace(body))
}

// printJSON renders any API entity for the terminal.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
