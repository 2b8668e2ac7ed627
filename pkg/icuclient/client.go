// Package icuclient is a Go client for the ICU API. A Client holds the
// session token returned by Login; live views are built from Aggregators fed
// by a Feed rather than from the results of the client's own writes.
package icuclient

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/icu/icu/internal/platform/auth"
)

const apiPrefix = "/api/v1"

// Option configures a Client.
type Option func(*resty.Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

type Client struct {
	http    *resty.Client
	baseURL string

	mu      sync.RWMutex
	token   string
	session *auth.Session
}

func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	rc := resty.New().
		SetBaseURL(baseURL+apiPrefix).
		SetTimeout(15*time.Second).
		SetHeader("Accept", "application/json")
	for _, opt := range opts {
		opt(rc)
	}
	return &Client{http: rc, baseURL: baseURL}
}

// Session returns the signed-in identity, or nil.
func (c *Client) Session() *auth.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Token returns the session token, or "".
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setSession(token string, s *auth.Session) {
	c.mu.Lock()
	c.token = token
	c.session = s
	c.mu.Unlock()
}

func (c *Client) clearSession() {
	c.setSession("", nil)
}

type loginResponse struct {
	Token   string        `json:"token"`
	Session *auth.Session `json:"session"`
}

// Login signs in with an employee code and keeps the session token.
func (c *Client) Login(ctx context.Context, employeeCode string) (*auth.Session, error) {
	var out loginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{"employee_code": employeeCode}, &out)
	if err != nil {
		return nil, err
	}
	c.setSession(out.Token, out.Session)
	return out.Session, nil
}

// Logout ends the session. The local token is dropped even if the server
// call fails.
func (c *Client) Logout(ctx context.Context) error {
	defer c.clearSession()
	if c.Token() == "" {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// Me returns the server's view of the current session.
func (c *Client) Me(ctx context.Context) (*auth.Session, error) {
	var s auth.Session
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// do sends a request and decodes a 2xx body into result. Error bodies become
// *APIError, and a 401 drops the stored session.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	req := c.http.R().SetContext(ctx)
	if token := c.Token(); token != "" {
		req.SetAuthToken(token)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusUnauthorized {
			c.clearSession()
		}
		return decodeError(resp.StatusCode(), resp.Body())
	}
	if result == nil || len(resp.Body()) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Body(), result)
}
