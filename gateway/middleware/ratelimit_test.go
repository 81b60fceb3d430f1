package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(handler http.Handler, remoteAddr string, headers map[string]string) int {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiterRejectsOverBudget(t *testing.T) {
	rl := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 3})
	handler := rl.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.1:5000", nil))
	}
	require.Equal(t, http.StatusTooManyRequests, doRequest(handler, "10.0.0.1:5000", nil))

	// A different client has its own bucket.
	require.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.2:5000", nil))
}

func TestRateLimiterDefaultBurstCoversWindow(t *testing.T) {
	rl := NewRateLimiter(RateLimit{RequestsPerMinute: 100})
	handler := rl.Middleware(okHandler())

	// The whole per-minute budget may arrive back to back, as a webhook
	// replay delivers it.
	for i := 0; i < 100; i++ {
		require.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.1:5000", nil), "request %d", i)
	}
}

func TestRateLimiterDisabledWhenZero(t *testing.T) {
	rl := NewRateLimiter(RateLimit{})
	handler := rl.Middleware(okHandler())
	for i := 0; i < 50; i++ {
		require.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.1:5000", nil))
	}
}

func TestRateLimiterKeysByForwardedAddress(t *testing.T) {
	rl := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1})
	handler := rl.Middleware(okHandler())

	require.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.1:5000", map[string]string{
		"X-Forwarded-For": "203.0.113.7, 10.0.0.1",
	}))
	// Same forwarded client through a different proxy address shares the bucket.
	require.Equal(t, http.StatusTooManyRequests, doRequest(handler, "10.0.0.9:5000", map[string]string{
		"X-Forwarded-For": "203.0.113.7",
	}))

	require.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.9:5000", map[string]string{
		"X-Real-IP": "198.51.100.4",
	}))
}

func TestRateLimiterEvictsStaleVisitors(t *testing.T) {
	rl := NewRateLimiter(RateLimit{RequestsPerMinute: 60, Burst: 1})
	now := time.Unix(1700000000, 0)
	rl.clockNow = func() time.Time { return now }
	handler := rl.Middleware(okHandler())

	require.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.1:5000", nil))
	require.Len(t, rl.visitors, 1)

	now = now.Add(6 * time.Minute)
	require.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.2:5000", nil))
	require.Len(t, rl.visitors, 1, "idle visitor evicted when a new one arrives")
}
