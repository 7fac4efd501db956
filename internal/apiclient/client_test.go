package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerAttachedWhenTokenSet(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	require.NoError(t, err)

	require.NoError(t, client.GetJSON(context.Background(), "/ping", nil))
	assert.Equal(t, "", gotAuth.Load())

	client.SetToken("tok-1")
	require.NoError(t, client.GetJSON(context.Background(), "/ping", nil))
	assert.Equal(t, "Bearer tok-1", gotAuth.Load())

	client.ClearToken()
	require.NoError(t, client.GetJSON(context.Background(), "/ping", nil))
	assert.Equal(t, "", gotAuth.Load())
}

func TestExplicitAuthorizationNotOverwritten(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	require.NoError(t, err)
	client.SetToken("tok-1")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/ping", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Basic abc")

	resp, err := client.http.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Basic abc", gotAuth.Load())
}

func TestUnauthorizedHookFires(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	require.NoError(t, err)

	var fired atomic.Int64
	client.OnUnauthorized(func() { fired.Add(1) })

	require.NoError(t, client.GetJSON(context.Background(), "/open", nil))
	assert.Equal(t, int64(0), fired.Load())

	err = client.GetJSON(context.Background(), "/secret", nil)
	require.Error(t, err)
	assert.Equal(t, int64(1), fired.Load())
}

func TestAPIErrorCarriesBackendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"message": "email already registered"})
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	require.NoError(t, err)

	err = client.PostJSON(context.Background(), "/employee", map[string]string{"email": "x"}, nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "email already registered", apiErr.Message)
	assert.Contains(t, apiErr.Error(), "email already registered")
}

func TestAPIErrorFallsBackToErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": "Error al comunicarse con el backend"})
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	require.NoError(t, err)

	err = client.GetJSON(context.Background(), "/anything", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Error al comunicarse con el backend", apiErr.Message)
}

func TestAPIErrorWithNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	require.NoError(t, err)

	err = client.GetJSON(context.Background(), "/boom", nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Empty(t, apiErr.Message)
	assert.Contains(t, string(apiErr.Body), "upstream exploded")
}

func TestPostJSONEncodesBodyAndDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		json.NewEncoder(w).Encode(map[string]string{"echo": in["name"]})
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, client.PostJSON(context.Background(), "/echo", map[string]string{"name": "novack"}, &out))
	assert.Equal(t, "novack", out["echo"])
}

func TestPathWithoutLeadingSlash(t *testing.T) {
	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
	}))
	defer srv.Close()

	client, err := New(srv.URL)
	require.NoError(t, err)

	require.NoError(t, client.GetJSON(context.Background(), "ping", nil))
	assert.Equal(t, "/ping", gotPath.Load())
}

func TestInvalidBaseURL(t *testing.T) {
	_, err := New("://not-a-url")
	assert.Error(t, err)
}
