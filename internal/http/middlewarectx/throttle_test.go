package middlewarectx

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle_AllowPerKey(t *testing.T) {
	th := NewThrottle(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	assert.True(t, th.Allow("a"))
	assert.True(t, th.Allow("a"))
	assert.False(t, th.Allow("a"), "burst exhausted")
	assert.True(t, th.Allow("b"), "other keys have their own bucket")

	now = now.Add(time.Second)
	assert.True(t, th.Allow("a"), "token refilled")
}

func TestThrottle_Disabled(t *testing.T) {
	th := NewThrottle(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, th.Allow("a"))
	}
}

func TestThrottle_PrunesIdleVisitors(t *testing.T) {
	th := NewThrottle(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	th.Allow("a")
	now = now.Add(idleLimiterTTL + time.Minute)
	th.Allow("b")

	th.mu.Lock()
	defer th.mu.Unlock()
	assert.NotContains(t, th.visitors, "a")
	assert.Contains(t, th.visitors, "b")
}

func TestThrottle_Middleware(t *testing.T) {
	th := NewThrottle(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := th.Middleware(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(userID, addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = addr
		if userID != "" {
			req = req.WithContext(WithUser(req.Context(), userID, ""))
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, send("u1", "10.0.0.1:1000"))
	assert.Equal(t, http.StatusTooManyRequests, send("u1", "10.0.0.2:1000"))
	assert.Equal(t, http.StatusOK, send("", "10.0.0.1:1000"), "anonymous keyed by address")
	assert.Equal(t, http.StatusTooManyRequests, send("", "10.0.0.1:2000"))
}
