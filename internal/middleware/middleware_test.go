package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestIDGenerated(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())

	var captured string
	router.GET("/test", func(c *gin.Context) {
		captured = GetRequestID(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if captured == "" {
		t.Error("Expected a generated request ID in context")
	}
	if got := w.Header().Get(RequestIDHeader); got != captured {
		t.Errorf("Expected response header %q, got %q", captured, got)
	}
}

func TestRequestIDPreserved(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "client-supplied-id")
	router.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "client-supplied-id" {
		t.Errorf("Expected client-supplied request ID to be preserved, got %q", got)
	}
}

func TestCORSPreflightAnsweredLocally(t *testing.T) {
	router := gin.New()
	router.Use(CORS())

	backendHit := false
	router.OPTIONS("/api/login", func(c *gin.Context) {
		backendHit = true
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if backendHit {
		t.Error("Preflight must not reach the route handler")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Expected wildcard allow-origin, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("Expected Access-Control-Allow-Methods to be set")
	}
	if w.Header().Get("Access-Control-Max-Age") != "86400" {
		t.Errorf("Expected max-age 86400, got %q", w.Header().Get("Access-Control-Max-Age"))
	}
}

func TestCORSHeadersOnNormalRequest(t *testing.T) {
	router := gin.New()
	router.Use(CORS())
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Expected CORS headers on normal responses too")
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	config := DefaultCORSConfig()
	config.AllowOrigins = []string{"https://allowed.example.com"}

	router := gin.New()
	router.Use(CORSWithConfig(config))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "https://allowed.example.com")
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://allowed.example.com" {
		t.Errorf("Expected echoed origin, got %q", got)
	}
}

func TestLocalRateLimiterExhaustsBurst(t *testing.T) {
	config := DefaultRateLimitConfig()
	config.RequestsPerSecond = 1
	config.BurstSize = 3

	limiter := NewLocalRateLimiter(config)
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Fatalf("Request %d should be allowed within burst", i+1)
		}
	}
	if limiter.Allow("10.0.0.1") {
		t.Error("Request beyond burst should be denied")
	}

	// Other keys have their own bucket
	if !limiter.Allow("10.0.0.2") {
		t.Error("Different client should not share the bucket")
	}
}

func TestLocalRateLimiterRefills(t *testing.T) {
	config := DefaultRateLimitConfig()
	config.RequestsPerSecond = 100
	config.BurstSize = 1

	limiter := NewLocalRateLimiter(config)
	defer limiter.Stop()

	if !limiter.Allow("10.0.0.1") {
		t.Fatal("First request should be allowed")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatal("Second immediate request should be denied")
	}

	time.Sleep(20 * time.Millisecond)
	if !limiter.Allow("10.0.0.1") {
		t.Error("Bucket should refill after waiting")
	}
}

func TestRateLimiterMiddlewareReturns429(t *testing.T) {
	config := DefaultRateLimitConfig()
	config.RequestsPerSecond = 1
	config.BurstSize = 2

	router := gin.New()
	router.Use(RateLimiter(config))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	var lastCode int
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		lastCode = w.Code

		if w.Header().Get("X-RateLimit-Limit") == "" {
			t.Error("Expected X-RateLimit-Limit header")
		}
	}

	if lastCode != http.StatusTooManyRequests {
		t.Errorf("Expected status 429 after burst exhausted, got %d", lastCode)
	}
}
