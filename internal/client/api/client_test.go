package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/koracockpit/internal/models"
)

// roundTripperFunc allows stubbing the transport of an http.Client.
type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(fn roundTripperFunc) *http.Client {
	return &http.Client{Transport: fn, Timeout: time.Second}
}

func jsonResponse(code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestClient_HeaderSelection(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		userID     string
		wantAuth   string
		wantUserID string
	}{
		{name: "token wins", token: "T", userID: "U", wantAuth: "Bearer T"},
		{name: "legacy user id", userID: "U", wantUserID: "U"},
		{name: "anonymous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got http.Header
			f := NewFactory("http://api.test", newTestClient(func(req *http.Request) (*http.Response, error) {
				got = req.Header.Clone()
				return jsonResponse(http.StatusOK, `{}`), nil
			}))

			require.NoError(t, f.For(tt.token, tt.userID).Get(context.Background(), "/me", nil))

			assert.Equal(t, tt.wantAuth, got.Get("Authorization"))
			assert.Equal(t, tt.wantUserID, got.Get("x-user-id"))
			_, err := uuid.Parse(got.Get(HeaderRequestID))
			assert.NoError(t, err)
		})
	}
}

func TestFactory_ReferentialStability(t *testing.T) {
	f := NewFactory("http://api.test/", nil)

	a := f.For("T", "U")
	assert.Same(t, a, f.For("T", "U"))

	b := f.For("T2", "U")
	assert.NotSame(t, a, b)
	assert.Same(t, b, f.For("T2", "U"))

	c := f.For("", "U")
	assert.NotSame(t, b, c)
	assert.Equal(t, "http://api.test", f.BaseURL())
}

func TestFactory_OnlyLastClientIsKept(t *testing.T) {
	f := NewFactory("http://api.test", nil)

	a := f.For("A", "")
	b := f.For("B", "")
	a2 := f.For("A", "")

	assert.NotSame(t, a, b)
	assert.NotSame(t, a, a2)
	assert.Equal(t, a.AuthHeaders(), a2.AuthHeaders())
	assert.Same(t, a2, f.For("A", ""))
}

func TestClient_StatusError(t *testing.T) {
	f := NewFactory("http://api.test", newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnauthorized, "invalid credentials\n"), nil
	}))

	_, err := f.Anonymous().PilotLogin(context.Background(), models.RoleAnchor, "bad")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, "invalid credentials", se.Body)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_ServerErrorIsNotUnauthorized(t *testing.T) {
	f := NewFactory("http://api.test", newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusInternalServerError, "boom"), nil
	}))

	_, err := f.For("", "u1").Me(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "server error: 500 boom")
}

func TestClient_NetworkError(t *testing.T) {
	f := NewFactory("http://api.test", newTestClient(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("network down")
	}))

	_, err := f.For("", "u1").Me(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GET /me failed")
}

func TestClient_InvalidJSON(t *testing.T) {
	f := NewFactory("http://api.test", newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, "not-json"), nil
	}))

	_, err := f.For("T", "").Me(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid response")
}

func TestClient_EmptySuccessBody(t *testing.T) {
	tests := []struct {
		name string
		resp func() *http.Response
	}{
		{"no content", func() *http.Response {
			return &http.Response{StatusCode: http.StatusNoContent, Header: http.Header{}, Body: http.NoBody}
		}},
		{"created without body", func() *http.Response { return jsonResponse(http.StatusCreated, "") }},
		{"ok with whitespace only", func() *http.Response { return jsonResponse(http.StatusOK, " \n") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFactory("http://api.test", newTestClient(func(req *http.Request) (*http.Response, error) {
				return tt.resp(), nil
			}))

			var out json.RawMessage
			require.NoError(t, f.For("T", "").Post(context.Background(), "/meter-readings", map[string]any{"kwh": 1}, &out))
			assert.Nil(t, out)
		})
	}
}

func TestClient_AuthEndpoints(t *testing.T) {
	type seen struct {
		path string
		body map[string]any
	}
	var calls []seen

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, seen{path: r.URL.Path, body: body})
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"user":{"id":"a1","regionId":"region-2"},"token":"h.e.s"}`)
	}))
	defer srv.Close()

	c := NewFactory(srv.URL, srv.Client()).Anonymous()
	ctx := context.Background()

	resp, err := c.PilotLogin(ctx, models.RoleAnchor, "x")
	require.NoError(t, err)
	assert.Equal(t, "a1", resp.User.ID)
	assert.Equal(t, "region-2", resp.User.RegionID)
	assert.Equal(t, "h.e.s", resp.Token)

	_, err = c.Login(ctx, "a@b.c", "pw")
	require.NoError(t, err)
	_, err = c.Register(ctx, "a@b.c", "pw", "")
	require.NoError(t, err)

	require.Len(t, calls, 3)
	assert.Equal(t, "/auth/pilot-login", calls[0].path)
	assert.Equal(t, map[string]any{"role": "anchor", "password": "x"}, calls[0].body)
	assert.Equal(t, "/auth/login", calls[1].path)
	assert.Equal(t, map[string]any{"email": "a@b.c", "password": "pw"}, calls[1].body)
	assert.Equal(t, "/auth/register", calls[2].path)
	assert.NotContains(t, calls[2].body, "name")
}

func TestNewHTTPClient(t *testing.T) {
	c, err := NewHTTPClient(TransportOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.Timeout)

	_, err = NewHTTPClient(TransportOptions{CAFile: "/nonexistent/ca.crt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read CA cert")
}
