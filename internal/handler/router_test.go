package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/solify/internal/middleware"
	"github.com/hitoshi/solify/internal/relay"
)

// --- モック定義 ---

// mockAuthenticator はmiddleware.Authenticatorのモック実装。"valid-token"のみを受け付ける。
type mockAuthenticator struct{}

func (mockAuthenticator) Authenticate(token string) (string, error) {
	if token == "valid-token" {
		return "alice", nil
	}
	return "", errors.New("invalid token")
}

// --- テストヘルパー ---

func testRouterDeps(rl *middleware.RateLimiter) *RouterDeps {
	return &RouterDeps{
		Authenticator:      mockAuthenticator{},
		CORSAllowedOrigins: []string{"http://localhost:5173"},
		RateLimiter:        rl,
		RequestTimeout:     5 * time.Second,
		DB:                 &mockPinger{},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics\n"))
		}),
		AuthService:    &mockAuthService{},
		RelayService:   &mockRelayService{},
		BalanceService: &mockBalanceService{},
	}
}

func createTestRouter(t *testing.T, cfg middleware.RateLimiterConfig) (http.Handler, *mockRelayService) {
	t.Helper()

	rl := middleware.NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)

	deps := testRouterDeps(rl)
	return NewRouter(deps), deps.RelayService.(*mockRelayService)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// --- テスト ---

func TestNewRouter_PublicRoutes_NoAuthRequired(t *testing.T) {
	router, _ := createTestRouter(t, middleware.DefaultRateLimiterConfig())

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/api/v1/signup", `{"username":"bob","password":"pw"}`},
		{http.MethodPost, "/api/v1/signin", `{"username":"bob","password":"pw"}`},
		{http.MethodGet, "/api/v1/balance2?walletAddress=11111111111111111111111111111111", ""},
		{http.MethodPost, "/api/v1/airdrop", `{"walletAddress":"11111111111111111111111111111111"}`},
		{http.MethodGet, "/health", ""},
		{http.MethodGet, "/metrics", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := serve(router, jsonRequest(tt.method, tt.path, tt.body))
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
			}
		})
	}
}

func TestNewRouter_ProtectedRoutes_RequireBearerToken(t *testing.T) {
	router, _ := createTestRouter(t, middleware.DefaultRateLimiterConfig())

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/v1/balance", ""},
		{http.MethodGet, "/api/v1/txn", ""},
		{http.MethodPost, "/api/v1/txn/sign", `{"message":"AQAB"}`},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := serve(router, jsonRequest(tt.method, tt.path, tt.body))
			if w.Code != http.StatusUnauthorized {
				t.Errorf("no token: status = %d, want %d", w.Code, http.StatusUnauthorized)
			}

			req := jsonRequest(tt.method, tt.path, tt.body)
			req.Header.Set("Authorization", "Bearer forged-token")
			if w := serve(router, req); w.Code != http.StatusUnauthorized {
				t.Errorf("bad token: status = %d, want %d", w.Code, http.StatusUnauthorized)
			}

			req = jsonRequest(tt.method, tt.path, tt.body)
			req.Header.Set("Authorization", "Bearer valid-token")
			if w := serve(router, req); w.Code != http.StatusOK {
				t.Errorf("valid token: status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
			}
		})
	}
}

func TestNewRouter_Sign_PassesAuthenticatedUsername(t *testing.T) {
	router, relaySvc := createTestRouter(t, middleware.DefaultRateLimiterConfig())

	var gotUser string
	relaySvc.signAndSendFn = func(ctx context.Context, username, encodedTx string, opts relay.SendOptions) (*relay.Result, error) {
		gotUser = username
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected request context to carry a deadline")
		}
		return &relay.Result{Signature: "sig"}, nil
	}

	req := jsonRequest(http.MethodPost, "/api/v1/txn/sign", `{"message":"AQAB"}`)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := serve(router, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUser != "alice" {
		t.Errorf("username = %q, want alice", gotUser)
	}
}

func TestNewRouter_SignRateLimit(t *testing.T) {
	cfg := middleware.DefaultRateLimiterConfig()
	cfg.SignRate = 0.01
	cfg.SignBurst = 1
	router, _ := createTestRouter(t, cfg)

	send := func() int {
		req := jsonRequest(http.MethodPost, "/api/v1/txn/sign", `{"message":"AQAB"}`)
		req.Header.Set("Authorization", "Bearer valid-token")
		return serve(router, req).Code
	}

	if got := send(); got != http.StatusOK {
		t.Fatalf("first sign: status = %d, want %d", got, http.StatusOK)
	}
	if got := send(); got != http.StatusTooManyRequests {
		t.Errorf("second sign: status = %d, want %d", got, http.StatusTooManyRequests)
	}

	// 署名の上限は残高照会に影響しない
	req := httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	if w := serve(router, req); w.Code != http.StatusOK {
		t.Errorf("balance: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_PublicRateLimit_IgnoresSpoofedForwardingHeaders(t *testing.T) {
	cfg := middleware.DefaultRateLimiterConfig()
	cfg.PublicRate = 0.01
	cfg.PublicBurst = 1
	router, _ := createTestRouter(t, cfg)

	headers := []string{"X-Forwarded-For", "X-Real-IP", "True-Client-IP"}
	allowed := 0
	for i := 0; i < 30; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/balance2?walletAddress=x", nil)
		req.RemoteAddr = "192.0.2.50:40000"
		req.Header.Set(headers[i%len(headers)], fmt.Sprintf("10.0.0.%d", i+1))
		if serve(router, req).Code == http.StatusOK {
			allowed++
		}
	}

	if allowed != 1 {
		t.Errorf("allowed = %d/30, want 1 (forwarding headers from an untrusted peer must not create new buckets)", allowed)
	}
}

func TestNewRouter_PublicRateLimit_UsesClientIPFromTrustedProxy(t *testing.T) {
	cfg := middleware.DefaultRateLimiterConfig()
	cfg.PublicRate = 0.01
	cfg.PublicBurst = 1

	rl := middleware.NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)
	deps := testRouterDeps(rl)
	deps.TrustedProxies = []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	router := NewRouter(deps)

	send := func(clientIP string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/balance2?walletAddress=x", nil)
		req.RemoteAddr = "10.0.0.2:5000"
		req.Header.Set("X-Real-IP", clientIP)
		return serve(router, req).Code
	}

	if got := send("203.0.113.10"); got != http.StatusOK {
		t.Fatalf("first: status = %d, want %d", got, http.StatusOK)
	}
	if got := send("203.0.113.10"); got != http.StatusTooManyRequests {
		t.Errorf("second: status = %d, want %d", got, http.StatusTooManyRequests)
	}
	if got := send("203.0.113.11"); got != http.StatusOK {
		t.Errorf("other client: status = %d, want %d", got, http.StatusOK)
	}
}

func TestNewRouter_CORSPreflight(t *testing.T) {
	router, _ := createTestRouter(t, middleware.DefaultRateLimiterConfig())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/txn/sign", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	w := serve(router, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestNewRouter_SecurityHeadersOnAPIResponses(t *testing.T) {
	router, _ := createTestRouter(t, middleware.DefaultRateLimiterConfig())

	w := serve(router, jsonRequest(http.MethodPost, "/api/v1/signin", `{"username":"bob","password":"pw"}`))

	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestNewRouter_UnknownRoute_Returns404(t *testing.T) {
	router, _ := createTestRouter(t, middleware.DefaultRateLimiterConfig())

	w := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/feeds", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestNewRouter_WrongMethod_Returns405(t *testing.T) {
	router, _ := createTestRouter(t, middleware.DefaultRateLimiterConfig())

	w := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/signup", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	router, _ := createTestRouter(t, middleware.DefaultRateLimiterConfig())

	w := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "# metrics") {
		t.Errorf("unexpected metrics body: %s", w.Body.String())
	}
}
