package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestRealIP_RemoteAddrHost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.1:54321"
	assert.Equal(t, "192.168.1.1", realIP(req))
}

func TestRealIP_IgnoresForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.1:54321"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	req.Header.Set("X-Real-Ip", "9.10.11.12")
	assert.Equal(t, "192.168.1.1", realIP(req))
}

func TestRealIP_BareRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7"
	assert.Equal(t, "10.0.0.7", realIP(req))
}

func hit(h http.Handler, remote, forwarded string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = remote
	if forwarded != "" {
		req.Header.Set("X-Forwarded-For", forwarded)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestLimit_RejectsBurstFromOneClient(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(0.001), 2)
	h := rl.Limit(http.HandlerFunc(okHandler))

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for range 3 {
		last = hit(h, "7.7.7.7:1000", "")
		codes = append(codes, last.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "1000", last.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many requests","error_code":429}`, last.Body.String())

	assert.Equal(t, http.StatusOK, hit(h, "8.8.8.8:1000", "").Code)
}

func TestLimit_ForgedForwardingHeaderKeepsBucket(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(0.001), 2)
	h := rl.Limit(http.HandlerFunc(okHandler))

	hit(h, "7.7.7.7:1000", "1.1.1.1")
	hit(h, "7.7.7.7:1001", "2.2.2.2")
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "7.7.7.7:1002", "3.3.3.3").Code)
}

func TestLimit_TrustedProxyKeysOnForwardedClient(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(0.001), 1)
	h := chimiddleware.RealIP(rl.Limit(http.HandlerFunc(okHandler)))

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:80", "1.1.1.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:80", "1.1.1.1").Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:80", "2.2.2.2").Code)
}
