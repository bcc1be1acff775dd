package restclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
)

func newTestClient(srv *httptest.Server, auth Auth, retries int) *Client {
	return New(Options{
		BaseURL:         srv.URL,
		Platform:        "servicenow",
		Auth:            auth,
		MaxRetries:      retries,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	})
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "active=true", r.URL.RawQuery)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": "ok"})
	}))
	defer srv.Close()

	var out struct {
		Result string `json:"result"`
	}
	err := newTestClient(srv, nil, 3).Get(context.Background(), "/api/now/table/incident", url.Values{"active": {"true"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Result)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestClient(srv, nil, 2).Post(context.Background(), "/x", map[string]any{"a": 1}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, apperrors.TextPlatformFailure, rich.TextCode)
	assert.Equal(t, http.StatusBadGateway, rich.Metadata["upstream_status"])
}

func TestDo_NotFoundAndClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv, nil, 3)

	err := c.Get(context.Background(), "/missing", nil, nil)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load())

	err = c.Get(context.Background(), "/bad", nil, nil)
	assert.True(t, apperrors.IsCategory(err, goerrors.CategoryExternal))
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_TooManyRequestsIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(srv, nil, 1).Patch(context.Background(), "/x", map[string]any{}, nil))
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_AppliesAuthAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bearer":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		case "/basic":
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "admin", user)
			assert.Equal(t, "secret", pass)
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "hello", body["short_description"])
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(srv, BearerAuth("tok"), 0).Get(context.Background(), "/bearer", nil, nil))
	require.NoError(t, newTestClient(srv, BasicAuth{Username: "admin", Password: "secret"}, 0).
		Post(context.Background(), "/basic", map[string]string{"short_description": "hello"}, nil))
}

func TestDo_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Platform: "incident", Timeout: 5 * time.Millisecond, MaxRetries: 0})
	err := c.Get(context.Background(), "/slow", nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, goerrors.CategoryExternal))
}
