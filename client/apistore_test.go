package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/presence/models"
)

func TestAPIStore_RoutesAndPayloads(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	bodies := map[string]map[string]interface{}{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		bodies[r.URL.Path] = body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewAPIStore(srv.URL + "/")
	ctx := context.Background()

	require.NoError(t, store.StartSession(ctx, "u1", "sess-1", models.Metadata{Platform: "linux"}))
	require.NoError(t, store.Heartbeat(ctx, "u1", models.HeartbeatUpdate{ClientTime: 42}))
	require.NoError(t, store.SetStatus(ctx, "u1", models.StatusAway))
	require.NoError(t, store.EndSession(ctx, "u1", "sess-1"))

	mu.Lock()
	defer mu.Unlock()

	start := bodies["/presence/start"]
	require.NotNil(t, start)
	assert.Equal(t, "u1", start["user_id"])
	assert.Equal(t, "sess-1", start["session_id"])

	beat := bodies["/presence/heartbeat"]
	require.NotNil(t, beat)
	assert.Equal(t, float64(42), beat["client_time"])

	status := bodies["/presence/status"]
	require.NotNil(t, status)
	assert.Equal(t, "away", status["status"])

	stop := bodies["/presence/stop"]
	require.NotNil(t, stop)
	assert.Equal(t, "sess-1", stop["session_id"])
}

func TestAPIStore_NonSuccessStatusIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := NewAPIStore(srv.URL)
	err := store.Heartbeat(context.Background(), "u1", models.HeartbeatUpdate{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
