package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/presence/models"
	"chorus/presence/utils"
)

func TestBeacon_FireDeliversPayload(t *testing.T) {
	t.Parallel()

	received := make(chan models.DisconnectRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.DisconnectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received <- req
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	beacon := NewBeacon(srv.URL, utils.NewLogger())
	beacon.Fire("u1")

	select {
	case req := <-received:
		assert.Equal(t, "u1", req.UserID)
		assert.Equal(t, "offline", req.Action)
		assert.NotZero(t, req.Timestamp)
	case <-time.After(5 * time.Second):
		t.Fatal("beacon never arrived")
	}
}

func TestBeacon_FireDoesNotBlock(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	beacon := NewBeacon(srv.URL, utils.NewLogger())

	done := make(chan struct{})
	go func() {
		beacon.Fire("u1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Fire blocked on a slow server")
	}
}

func TestBeacon_FireSurvivesUnreachableEndpoint(t *testing.T) {
	t.Parallel()

	beacon := NewBeacon("http://127.0.0.1:1", utils.NewLogger())
	// Delivery failure is the accepted gap; Fire must not panic or block.
	beacon.Fire("u1")
}

func TestTracker_FireBeacon(t *testing.T) {
	t.Parallel()

	received := make(chan models.DisconnectRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.DisconnectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received <- req
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fs := newFakeStore()
	tracker, _ := newTestTracker(t, fs, Options{
		Beacon: NewBeacon(srv.URL, utils.NewLogger()),
	})
	ctx := context.Background()

	// Offline: nothing to announce.
	tracker.FireBeacon()

	require.NoError(t, tracker.Start(ctx, "u1", models.Metadata{}))
	tracker.FireBeacon()

	select {
	case req := <-received:
		assert.Equal(t, "u1", req.UserID)
		assert.Equal(t, "offline", req.Action)
	case <-time.After(5 * time.Second):
		t.Fatal("beacon never arrived")
	}

	tracker.Stop(ctx)
}
