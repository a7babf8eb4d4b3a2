package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"gamgui/internal/command"
	"gamgui/internal/session"
)

// apiClient talks to a running gamgui server.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) CreateSession(ctx context.Context, name string) (*session.Session, error) {
	var s session.Session
	err := c.do(ctx, http.MethodPost, "/api/sessions", map[string]string{"name": name}, &s)
	return &s, err
}

func (c *apiClient) ListSessions(ctx context.Context) ([]*session.Session, error) {
	var out struct {
		Sessions []*session.Session `json:"sessions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out)
	return out.Sessions, err
}

func (c *apiClient) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) Exec(ctx context.Context, id, shellCommand string) (*command.Result, error) {
	var res command.Result
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(id)+"/exec",
		map[string]string{"command": shellCommand}, &res)
	return &res, err
}

func (c *apiClient) PutCredential(ctx context.Context, name string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.base+"/api/credentials/"+url.PathEscape(name), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

func (c *apiClient) ListCredentials(ctx context.Context) ([]string, error) {
	var out struct {
		Credentials []string `json:"credentials"`
	}
	err := c.do(ctx, http.MethodGet, "/api/credentials", nil, &out)
	return out.Credentials, err
}

func (c *apiClient) DeleteCredential(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/credentials/"+url.PathEscape(name), nil, nil)
}

// DialTerminal opens the websocket terminal for a session.
func (c *apiClient) DialTerminal(ctx context.Context, id string) (*websocket.Conn, error) {
	wsBase := strings.Replace(c.base, "http", "ws", 1)
	u := fmt.Sprintf("%s/api/sessions/%s/ws?token=%s", wsBase, url.PathEscape(id), url.QueryEscape(c.token))
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}
