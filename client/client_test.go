package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gammadia/gpumux/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *apiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return newAPIClient(strings.TrimPrefix(server.URL, "http://"), http.DefaultTransport)
}

func TestClient_Status(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status.json", r.URL.Path)
		_ = json.NewEncoder(w).Encode(api.Status{Server: "gpu01-x", Pending: "a\nb"})
	})

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gpu01-x", status.Server)
	assert.Equal(t, "a\nb", status.Pending)
}

func TestClient_UpdateQueue(t *testing.T) {
	var received api.UpdateQueueRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/queue/update.json", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(api.Response{Status: "ok"})
	})

	require.NoError(t, c.UpdateQueue(context.Background(), "x\ny\n"))
	assert.Equal(t, "x\ny\n", received.Pending)
}

func TestClient_AppendQueue_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(api.Response{Status: "error", Error: "no command to append"})
	})

	err := c.AppendQueue(context.Background(), []string{""})
	assert.EqualError(t, err, "failed to append to queue: server replied 400: no command to append")
}

func TestClient_JobLog(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/job/4", r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("tail"))
		_, _ = io.WriteString(w, "epoch 9\n")
	})

	data, err := c.JobLog(context.Background(), 4, 20)
	require.NoError(t, err)
	assert.Equal(t, "epoch 9\n", string(data))
}

func TestClient_JobLog_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(api.Response{Status: "error", Error: "log of job 4: not found"})
	})

	_, err := c.JobLog(context.Background(), 4, 0)
	assert.EqualError(t, err, "failed to get log of job 4: server replied 404: log of job 4: not found")
}
