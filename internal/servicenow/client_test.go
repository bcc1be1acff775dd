package servicenow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{
		InstanceURL:     srv.URL,
		Username:        "bridge",
		Password:        "pw",
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
	})
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestGetAndUpdate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, _, _ := r.BasicAuth()
		assert.Equal(t, "bridge", user)
		assert.Equal(t, "/api/now/table/incident/abc123", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, map[string]any{"result": map[string]any{
				"sys_id":    "abc123",
				"state":     "2",
				"caller_id": map[string]any{"value": "usr_1", "link": "https://x"},
			}})
		case http.MethodPatch:
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "3", body["state"])
			writeJSON(t, w, map[string]any{"result": map[string]any{"sys_id": "abc123", "state": "3"}})
		}
	})

	rec, err := c.Get(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", rec.SysID())
	assert.Equal(t, "usr_1", rec.String("caller_id"))

	rec, err = c.Update(context.Background(), "abc123", map[string]any{"state": "3"})
	require.NoError(t, err)
	assert.Equal(t, "3", rec.String("state"))
}

func TestGet_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.Get(context.Background(), "nope")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestFindByCorrelationAndCreate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "correlation_id=01HX", r.URL.Query().Get("sysparm_query"))
			assert.Equal(t, "1", r.URL.Query().Get("sysparm_limit"))
			writeJSON(t, w, map[string]any{"result": []any{}})
		case http.MethodPost:
			writeJSON(t, w, map[string]any{"result": map[string]any{"sys_id": "new1", "number": "INC0010001"}})
		}
	})

	_, found, err := c.FindByCorrelation(context.Background(), "01HX")
	require.NoError(t, err)
	assert.False(t, found)

	rec, err := c.Create(context.Background(), map[string]any{"short_description": "x"})
	require.NoError(t, err)
	assert.Equal(t, "INC0010001", rec.String("number"))
}

func TestListLinkedPaging(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "correlation_idISNOTEMPTY^ORDERBYsys_created_on", q.Get("sysparm_query"))
		assert.Equal(t, "10", q.Get("sysparm_limit"))
		assert.Equal(t, "20", q.Get("sysparm_offset"))
		writeJSON(t, w, map[string]any{"result": []any{map[string]any{"sys_id": "a"}}})
	})

	records, err := c.ListLinked(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestWorkNotes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/now/table/sys_journal_field", r.URL.Path)
		assert.Equal(t, "element_id=abc^element=work_notes^ORDERBYDESCsys_created_on", r.URL.Query().Get("sysparm_query"))
		writeJSON(t, w, map[string]any{"result": []any{
			map[string]any{"value": "second"},
			map[string]any{"value": "first"},
		}})
	})

	notes, err := c.WorkNotes(context.Background(), "abc", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, notes)
}

func TestLookupsAreCachedIncludingMisses(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/api/now/table/sys_user":
			assert.Equal(t, "email=a@x.io^ORuser_name=a@x.io^ORname=a@x.io", r.URL.Query().Get("sysparm_query"))
			writeJSON(t, w, map[string]any{"result": []any{map[string]any{"sys_id": "usr_1"}}})
		case "/api/now/table/sys_user_group":
			writeJSON(t, w, map[string]any{"result": []any{}})
		}
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, ok, err := c.LookupUser(ctx, "a@x.io")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "usr_1", id)
	}
	for i := 0; i < 2; i++ {
		_, ok, err := c.LookupReference(ctx, "sys_user_group", "name", "Nobody")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestLookupCacheExpires(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, map[string]any{"result": []any{map[string]any{"sys_id": "grp"}}})
	}))
	defer srv.Close()

	c := New(Options{InstanceURL: srv.URL, CacheTTL: 20 * time.Millisecond})
	_, _, err := c.LookupReference(context.Background(), "sys_user_group", "name", "Payments")
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, _, err = c.LookupReference(context.Background(), "sys_user_group", "name", "Payments")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEncodedQueryOperandsRejectSeparator(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, map[string]any{"result": []any{map[string]any{"sys_id": "sys-1"}}})
	})
	ctx := context.Background()
	injected := "x^ORcorrelation_idISNOTEMPTY"

	_, found, err := c.FindByCorrelation(ctx, injected)
	require.Error(t, err)
	assert.False(t, found)
	assert.Equal(t, apperrors.TextBadInput, apperrors.TextCode(err))

	_, found, err = c.LookupUser(ctx, injected)
	require.Error(t, err)
	assert.False(t, found)

	_, found, err = c.LookupReference(ctx, "sys_user_group", "name", injected)
	require.Error(t, err)
	assert.False(t, found)

	_, err = c.WorkNotes(ctx, injected, "")
	require.Error(t, err)

	assert.Zero(t, calls.Load())
}
