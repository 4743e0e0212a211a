// Package api is the cockpit's HTTP client for the remote pilot API.
//
// A Client is bound to one credential: a bearer token, a legacy user id or
// nothing. Factory hands out clients and keeps returning the same pointer
// while the credential inputs stay the same.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/atinyakov/koracockpit/internal/models"
)

// Header names used for credentials and tracing.
const (
	HeaderAuthorization = "Authorization"
	HeaderUserID        = "x-user-id"
	HeaderRequestID     = "X-Request-ID"
)

const (
	apiMe         = "/me"
	apiPilotLogin = "/auth/pilot-login"
	apiLogin      = "/auth/login"
	apiRegister   = "/auth/register"
)

// ErrUnauthorized matches StatusError values for 401 and 403 responses.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error: %d %s", e.Code, e.Body)
}

// Is lets errors.Is(err, ErrUnauthorized) match auth failures.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && (e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden)
}

// Client issues requests against the API with a fixed credential.
type Client struct {
	baseURL string
	token   string
	userID  string
	http    *http.Client
}

// Factory derives Clients from session credentials.
type Factory struct {
	baseURL string
	http    *http.Client

	mu   sync.Mutex
	last *Client
}

// NewFactory returns a Factory for baseURL. A nil httpClient uses http.DefaultClient.
func NewFactory(baseURL string, httpClient *http.Client) *Factory {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Factory{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// BaseURL returns the API root the factory points at.
func (f *Factory) BaseURL() string { return f.baseURL }

// For returns the client for the given credentials. Consecutive calls with
// the same token and userID return the same *Client. Only the most recent
// client is kept, so For(A), For(B), For(A) yields a new client for A and
// anything keyed on the client pointer treats it as a credential change.
func (f *Factory) For(token, userID string) *Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.last != nil && f.last.token == token && f.last.userID == userID {
		return f.last
	}
	f.last = &Client{baseURL: f.baseURL, token: token, userID: userID, http: f.http}
	return f.last
}

// Anonymous returns a client that sends no credential header.
func (f *Factory) Anonymous() *Client {
	return &Client{baseURL: f.baseURL, http: f.http}
}

// AuthHeaders returns the credential headers the client attaches.
// A bearer token wins over a user id; with neither, no header is sent.
func (c *Client) AuthHeaders() http.Header {
	h := http.Header{}
	switch {
	case c.token != "":
		h.Set(HeaderAuthorization, "Bearer "+c.token)
	case c.userID != "":
		h.Set(HeaderUserID, c.userID)
	}
	return h
}

// Get issues GET path and decodes the JSON response into out (which may be nil).
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post issues POST path with body encoded as JSON.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, uuid.NewString())
	for k, v := range c.AuthHeaders() {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	// An empty success body leaves out untouched.
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid response from %s: %w", path, err)
	}
	return nil
}

// Me fetches the caller's user and wallet.
func (c *Client) Me(ctx context.Context) (models.Me, error) {
	var me models.Me
	err := c.Get(ctx, apiMe, &me)
	return me, err
}

// PilotLogin signs in with a pilot role and its shared secret.
func (c *Client) PilotLogin(ctx context.Context, role models.Role, password string) (models.AuthResponse, error) {
	var resp models.AuthResponse
	err := c.Post(ctx, apiPilotLogin, models.PilotLoginRequest{Role: role, Password: password}, &resp)
	return resp, err
}

// Login signs in with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (models.AuthResponse, error) {
	var resp models.AuthResponse
	err := c.Post(ctx, apiLogin, models.LoginRequest{Email: email, Password: password}, &resp)
	return resp, err
}

// Register creates an email account and signs it in.
func (c *Client) Register(ctx context.Context, email, password, name string) (models.AuthResponse, error) {
	var resp models.AuthResponse
	err := c.Post(ctx, apiRegister, models.RegisterRequest{Email: email, Password: password, Name: name}, &resp)
	return resp, err
}
