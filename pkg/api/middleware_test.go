package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, rps float64, burst int) (*RateLimiter, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(rps, burst, time.Minute)
	rl.now = func() time.Time { return now }
	t.Cleanup(rl.Close)
	return rl, &now
}

func TestRateLimitMiddleware(t *testing.T) {
	rl, now := newTestLimiter(t, 1, 2)
	handler := rl.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/policy", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do().Code, "within burst")
	}
	w := do()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	*now = now.Add(1100 * time.Millisecond)
	assert.Equal(t, http.StatusOK, do().Code, "refilled")
}

func TestRateLimitKeysAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, 1)

	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, wait := rl.Allow("a")
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))

	ok, _ = rl.Allow("b")
	assert.True(t, ok, "other keys have their own bucket")
}

func TestRateLimitEvictsIdleKeys(t *testing.T) {
	rl, now := newTestLimiter(t, 1, 1)
	rl.Allow("a")
	*now = now.Add(30 * time.Second)
	rl.Allow("b")

	*now = now.Add(45 * time.Second)
	rl.evict()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	require.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "b")
}

func TestRemoteIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", RemoteIP(req))
	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", RemoteIP(req))
}
