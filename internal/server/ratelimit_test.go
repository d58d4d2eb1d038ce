package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
)

func fakeClock(rl *rateLimiter) *time.Time {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return &now
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := newRateLimiter(5, time.Minute)
	defer rl.stop()
	fakeClock(rl)

	for i := 0; i < 5; i++ {
		ok, _ := rl.allow("192.168.1.1")
		assert.True(t, ok, "request %d", i+1)
	}
	ok, wait := rl.allow("192.168.1.1")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, wait)

	ok, _ = rl.allow("192.168.1.2")
	assert.True(t, ok, "limits are per client")
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := newRateLimiter(2, 10*time.Second)
	defer rl.stop()
	now := fakeClock(rl)

	ok, _ := rl.allow("c")
	assert.True(t, ok)
	*now = now.Add(4 * time.Second)
	ok, _ = rl.allow("c")
	assert.True(t, ok)

	*now = now.Add(4 * time.Second)
	ok, wait := rl.allow("c")
	assert.False(t, ok)
	assert.Equal(t, 2*time.Second, wait)

	// The first request leaves the window; the second is still in it.
	*now = now.Add(3 * time.Second)
	ok, _ = rl.allow("c")
	assert.True(t, ok)
	ok, _ = rl.allow("c")
	assert.False(t, ok)
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)
	defer rl.stop()
	fakeClock(rl)

	handler := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/upload_chunk", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, send().Code)
	}
	rr := send()
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Rate limit exceeded. Please try again later."}`, rr.Body.String())
}

func TestRateLimiter_Prune(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)
	defer rl.stop()
	now := fakeClock(rl)

	rl.allow("192.168.1.1")
	*now = now.Add(2 * time.Minute)
	rl.allow("192.168.1.2")
	rl.prune()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "192.168.1.1")
	assert.Contains(t, rl.clients, "192.168.1.2")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		header     string
		value      string
		want       string
	}{
		{"remote addr", "192.168.1.1:12345", "", "", "192.168.1.1"},
		{"ipv6 remote addr", "[2001:db8::1]:443", "", "", "2001:db8::1"},
		{"no port", "192.168.1.1", "", "", "192.168.1.1"},
		{"forwarded for", "127.0.0.1:12345", "X-Forwarded-For", "203.0.113.1, 198.51.100.1", "203.0.113.1"},
		{"real ip", "127.0.0.1:12345", "X-Real-IP", "203.0.113.5", "203.0.113.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}

			var got string
			middleware.RealIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = clientIP(r)
			})).ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}
