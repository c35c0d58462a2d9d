package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/presence/middleware"
	"chorus/presence/models"
	"chorus/presence/services"
	"chorus/presence/store"
	"chorus/presence/utils"
)

type fakeService struct {
	mu sync.Mutex

	records map[string]*models.PresenceRecord

	endCalls int
	endErr   error
}

func newFakeService() *fakeService {
	return &fakeService{records: map[string]*models.PresenceRecord{}}
}

func (f *fakeService) StartSession(_ context.Context, userID, sessionID string, meta models.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[userID] = &models.PresenceRecord{
		UserID:       userID,
		IsOnline:     true,
		SessionID:    sessionID,
		SessionStart: time.Now().UTC(),
		LastSeen:     time.Now().UTC(),
		Platform:     meta.Platform,
	}
	return nil
}

func (f *fakeService) EndSession(_ context.Context, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls++
	if f.endErr != nil {
		return f.endErr
	}
	delete(f.records, userID)
	return nil
}

func (f *fakeService) Heartbeat(_ context.Context, userID string, beat models.HeartbeatUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[userID]
	if !ok {
		return store.ErrNoSession
	}
	rec.LastSeen = time.Now().UTC()
	rec.Heartbeat = beat.ClientTime
	return nil
}

func (f *fakeService) SetStatus(_ context.Context, userID string, status models.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[userID]
	if !ok {
		return store.ErrNoSession
	}
	rec.Status = status
	return nil
}

func (f *fakeService) GetPresence(_ context.Context, userID string) (*models.PresenceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[userID]; ok {
		copied := *rec
		return &copied, nil
	}
	return &models.PresenceRecord{UserID: userID, IsOnline: false}, nil
}

func (f *fakeService) IsOnline(ctx context.Context, userID string) (bool, error) {
	rec, err := f.GetPresence(ctx, userID)
	if err != nil {
		return false, err
	}
	return rec.IsOnline, nil
}

func (f *fakeService) OnlineUsers(_ context.Context) ([]models.OnlineUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := []models.OnlineUser{}
	for _, rec := range f.records {
		users = append(users, models.OnlineUser{PresenceRecord: *rec})
	}
	return users, nil
}

func (f *fakeService) ends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endCalls
}

func newCleanupRouter(svc PresenceService, dedup *services.DedupCache) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := utils.NewLogger()
	router := gin.New()
	router.POST("/presence/disconnect", NewCleanupHandler(svc, dedup, logger).Disconnect)
	return router
}

func postDisconnect(router *gin.Engine, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/presence/disconnect", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCleanup_ValidationRejectsShortUserID(t *testing.T) {
	svc := newFakeService()
	router := newCleanupRouter(svc, services.NewDedupCache(5*time.Second))

	w := postDisconnect(router, models.DisconnectRequest{UserID: "ab", Action: "offline", Timestamp: 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, svc.ends(), "validation failures must not write")
}

func TestCleanup_ValidationRejectsUnknownAction(t *testing.T) {
	svc := newFakeService()
	dedup := services.NewDedupCache(5 * time.Second)
	router := newCleanupRouter(svc, dedup)

	w := postDisconnect(router, models.DisconnectRequest{UserID: "user1", Action: "online", Timestamp: 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, svc.ends())

	// The rejected request must not poison the dedup cache for a later
	// valid one.
	w = postDisconnect(router, models.DisconnectRequest{UserID: "user1", Action: "offline", Timestamp: 2})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, svc.ends())
}

func TestCleanup_DeduplicatesWithinWindow(t *testing.T) {
	svc := newFakeService()
	require.NoError(t, svc.StartSession(context.Background(), "user1", "s1", models.Metadata{}))
	router := newCleanupRouter(svc, services.NewDedupCache(5*time.Second))

	first := postDisconnect(router, models.DisconnectRequest{UserID: "user1", Action: "offline", Timestamp: 1})
	require.Equal(t, http.StatusOK, first.Code)

	second := postDisconnect(router, models.DisconnectRequest{UserID: "user1", Action: "offline", Timestamp: 2})
	require.Equal(t, http.StatusOK, second.Code)

	var firstResp, secondResp models.DisconnectResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResp))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResp))

	assert.True(t, firstResp.Success)
	assert.False(t, firstResp.Cached)
	assert.True(t, secondResp.Success)
	assert.True(t, secondResp.Cached, "duplicate within the window must be served from cache")
	assert.Equal(t, 1, svc.ends(), "only the first beacon may reach the store")
}

func TestCleanup_ErrorClassification(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		retryAfter bool
	}{
		{"permission", store.ErrPermissionDenied, http.StatusForbidden, false},
		{"unavailable", fmt.Errorf("dial: %w", context.DeadlineExceeded), http.StatusServiceUnavailable, true},
		{"internal", errors.New("boom"), http.StatusInternalServerError, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newFakeService()
			svc.endErr = tc.err
			router := newCleanupRouter(svc, services.NewDedupCache(5*time.Second))

			w := postDisconnect(router, models.DisconnectRequest{UserID: "user1", Action: "offline", Timestamp: 1})
			assert.Equal(t, tc.wantStatus, w.Code)
			if tc.retryAfter {
				assert.NotEmpty(t, w.Header().Get("Retry-After"))
			}

			// A failed cleanup is not cached: the next beacon must retry the
			// write.
			svc.mu.Lock()
			svc.endErr = nil
			svc.mu.Unlock()
			w = postDisconnect(router, models.DisconnectRequest{UserID: "user1", Action: "offline", Timestamp: 2})
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, 2, svc.ends())
		})
	}
}

func TestCleanup_RateLimited(t *testing.T) {
	svc := newFakeService()
	gin.SetMode(gin.TestMode)
	logger := utils.NewLogger()
	limiter := middleware.NewRateLimiter()
	router := gin.New()
	router.POST("/presence/disconnect",
		middleware.RateLimit(limiter, 50, time.Minute),
		NewCleanupHandler(svc, services.NewDedupCache(time.Nanosecond), logger).Disconnect)

	for i := 0; i < 50; i++ {
		w := postDisconnect(router, models.DisconnectRequest{
			UserID: fmt.Sprintf("user%02d", i), Action: "offline", Timestamp: 1,
		})
		require.Equal(t, http.StatusOK, w.Code, "request %d should be allowed", i+1)
	}

	w := postDisconnect(router, models.DisconnectRequest{UserID: "user99", Action: "offline", Timestamp: 1})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, 50, svc.ends(), "the rejected request must not write")
}

func TestCleanup_Scenario(t *testing.T) {
	// User opens the app, goes away, closes the tab: the beacon clears the
	// record and a duplicate beacon two seconds later is absorbed.
	svc := newFakeService()
	ctx := context.Background()
	require.NoError(t, svc.StartSession(ctx, "user1", "s1", models.Metadata{}))
	require.NoError(t, svc.SetStatus(ctx, "user1", models.StatusAway))

	router := newCleanupRouter(svc, services.NewDedupCache(5*time.Second))

	w := postDisconnect(router, models.DisconnectRequest{UserID: "user1", Action: "offline", Timestamp: time.Now().UnixMilli()})
	require.Equal(t, http.StatusOK, w.Code)

	rec, err := svc.GetPresence(ctx, "user1")
	require.NoError(t, err)
	assert.False(t, rec.IsOnline)

	dup := postDisconnect(router, models.DisconnectRequest{UserID: "user1", Action: "offline", Timestamp: time.Now().UnixMilli()})
	require.Equal(t, http.StatusOK, dup.Code)

	var dupResp models.DisconnectResponse
	require.NoError(t, json.Unmarshal(dup.Body.Bytes(), &dupResp))
	assert.True(t, dupResp.Cached)
	assert.Equal(t, 1, svc.ends())
}
