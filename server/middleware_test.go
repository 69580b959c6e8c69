package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEventAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		username       string
		password       string
		token          string
		reqUsername    string
		reqPassword    string
		reqToken       string
		expectedStatus int
	}{
		{
			name:           "no auth configured - allows request",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "valid basic auth",
			username:       "streamer",
			password:       "secret123",
			reqUsername:    "streamer",
			reqPassword:    "secret123",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid basic auth password",
			username:       "streamer",
			password:       "secret123",
			reqUsername:    "streamer",
			reqPassword:    "wrong",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "valid token",
			token:          "deck-token",
			reqToken:       "deck-token",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid token",
			token:          "deck-token",
			reqToken:       "nope",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "token accepted even with bad basic auth",
			username:       "streamer",
			password:       "secret123",
			token:          "deck-token",
			reqToken:       "deck-token",
			reqUsername:    "x",
			reqPassword:    "y",
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &authConfig{
				username: tt.username,
				password: tt.password,
				token:    tt.token,
				enabled:  (tt.username != "" && tt.password != "") || tt.token != "",
			}
			handler := eventAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}), cfg)

			req := httptest.NewRequest(http.MethodPost, "/overlay/events/play", nil)
			if tt.reqUsername != "" || tt.reqPassword != "" {
				req.SetBasicAuth(tt.reqUsername, tt.reqPassword)
			}
			if tt.reqToken != "" {
				req.Header.Set("X-Events-Token", tt.reqToken)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if tt.expectedStatus == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401 response")
			}
		})
	}
}

func newTestLimiter(t *testing.T, cfg *rateLimiterConfig) (*ipRateLimiter, *time.Time) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newIPRateLimiter(ctx, cfg)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl, now := newTestLimiter(t, &rateLimiterConfig{enabled: true, requestsPerIP: 3, window: time.Minute})

	for i := 0; i < 3; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.allow("10.0.0.1") {
		t.Fatal("4th request should be limited")
	}
	if !rl.allow("10.0.0.2") {
		t.Fatal("other IPs have their own window")
	}

	*now = now.Add(61 * time.Second)
	if !rl.allow("10.0.0.1") {
		t.Fatal("window should have slid")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl, _ := newTestLimiter(t, &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Minute})
	for i := 0; i < 10; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatal("disabled limiter must allow everything")
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, now := newTestLimiter(t, &rateLimiterConfig{enabled: true, requestsPerIP: 5, window: time.Minute})
	rl.allow("10.0.0.1")
	*now = now.Add(3 * time.Minute)
	rl.cleanup()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.visitors) != 0 {
		t.Fatalf("visitors = %d, want 0", len(rl.visitors))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl, _ := newTestLimiter(t, &rateLimiterConfig{enabled: true, requestsPerIP: 1, window: 30 * time.Second})
	handler := rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}), rl)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/overlay/events/play", nil)
		req.RemoteAddr = "192.0.2.10:51234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}
	if rr := send(); rr.Code != http.StatusAccepted {
		t.Fatalf("first request: %d", rr.Code)
	}
	rr := send()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d, want 429", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("Retry-After = %q, want 30", got)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"ipv4 with port", "192.0.2.1:1234", nil, "192.0.2.1"},
		{"ipv6 with port", "[2001:db8::1]:443", nil, "2001:db8::1"},
		{"no port", "192.0.2.1", nil, "192.0.2.1"},
		{"forwarded for", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "203.0.113.5"},
		{"invalid forwarded falls back", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "garbage"}, "10.0.0.1"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadRateLimiterConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "7")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "bogus")
	cfg := loadRateLimiterConfig()
	if cfg.enabled || cfg.requestsPerIP != 7 || cfg.window != time.Minute {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadCORSConfig(t *testing.T) {
	tests := []struct {
		name           string
		permissive     string
		origins        string
		wantPermissive bool
		wantOrigins    int
	}{
		{"defaults to permissive", "", "", true, 0},
		{"origins imply restricted", "", "https://a.example, https://b.example", false, 2},
		{"explicit permissive wins", "true", "https://a.example", true, 1},
		{"explicit restricted", "0", "", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CORS_PERMISSIVE", tt.permissive)
			t.Setenv("CORS_ALLOWED_ORIGINS", tt.origins)
			cfg := loadCORSConfig()
			if cfg.permissive != tt.wantPermissive || len(cfg.allowedOrigins) != tt.wantOrigins {
				t.Fatalf("cfg = %+v", cfg)
			}
		})
	}
}

func TestCORSHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	restricted := withCORSConfig(next, &corsConfig{allowedOrigins: []string{"*.example.com"}})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "https://obs.example.com")
	rr := httptest.NewRecorder()
	restricted.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://obs.example.com" {
		t.Fatalf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "https://evil.test")
	rr = httptest.NewRecorder()
	restricted.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	permissive := withCORSConfig(next, &corsConfig{permissive: true})
	req = httptest.NewRequest(http.MethodOptions, "/overlay/events/play", nil)
	rr = httptest.NewRecorder()
	permissive.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight: code=%d headers=%v", rr.Code, rr.Header())
	}
}

func TestIsOriginAllowed(t *testing.T) {
	allowed := []string{"https://exact.test", "*.example.com"}
	tests := map[string]bool{
		"https://exact.test":     true,
		"https://a.example.com":  true,
		"https://example.com":    true,
		"https://badexample.com": false,
		"https://other.test":     false,
		"http://exact.test:8080": false,
	}
	for origin, want := range tests {
		if got := isOriginAllowed(origin, allowed); got != want {
			t.Errorf("isOriginAllowed(%q) = %v, want %v", origin, got, want)
		}
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		in   string
		def  int
		want int
	}{
		{"42", 0, 42},
		{" 7 ", 0, 7},
		{"", 5, 5},
		{"x", 5, 5},
	}
	for _, tt := range tests {
		if got := parseInt(tt.in, tt.def); got != tt.want {
			t.Errorf("parseInt(%q, %d) = %d, want %d", tt.in, tt.def, got, tt.want)
		}
	}
}
