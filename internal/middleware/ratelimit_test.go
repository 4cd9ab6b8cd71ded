package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	counts  map[string]int64
	expires map[string]time.Duration
	err     error
	ttl     time.Duration
	ttlErr  error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (f *fakeCounter) Incr(_ context.Context, key string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCounter) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.expires[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCounter) TTL(_ context.Context, _ string) *redis.DurationCmd {
	return redis.NewDurationResult(f.ttl, f.ttlErr)
}

func newLimitedRouter(counter Counter, limit int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(counter, limit, time.Minute))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	counter := newFakeCounter()
	r := newLimitedRouter(counter, 2)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.JSONEq(t, `{"error":"too many requests"}`, w.Body.String())
	require.Equal(t, "60", w.Header().Get("Retry-After"))

	require.Len(t, counter.expires, 1)
	for _, exp := range counter.expires {
		require.Equal(t, time.Minute, exp)
	}
}

func TestRateLimit_RetryAfterUsesRemainingWindow(t *testing.T) {
	counter := newFakeCounter()
	counter.ttl = 41500 * time.Millisecond
	r := newLimitedRouter(counter, 1)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "42", w.Header().Get("Retry-After"))
}

func TestRateLimit_RetryAfterFallsBackToWindow(t *testing.T) {
	counter := newFakeCounter()
	counter.ttlErr = errors.New("redis down")
	r := newLimitedRouter(counter, 0)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestRateLimit_FailsOpen(t *testing.T) {
	counter := newFakeCounter()
	counter.err = errors.New("redis down")
	r := newLimitedRouter(counter, 0)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestDebugDelay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(DebugDelay(30))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	start := time.Now()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRequestLogger_KeepsBodyReadable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	r.POST("/echo", func(c *gin.Context) {
		var body map[string]string
		require.NoError(t, c.ShouldBindJSON(&body))
		c.JSON(http.StatusOK, body)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"k":"v"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"k":"v"}`, w.Body.String())
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{}
	big := make([]byte, maxLoggedBody+10)
	n, err := b.Write(big)
	require.NoError(t, err)
	require.Equal(t, len(big), n)
	require.Equal(t, maxLoggedBody, b.Len())
	require.True(t, b.truncated)
}
