package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		SignRate:        1,
		SignBurst:       1,
		PublicRate:      1,
		PublicBurst:     2,
		CleanupInterval: 1 * time.Minute,
	}
}

func userRequest(username string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil)
	return req.WithContext(ContextWithUsername(req.Context(), username))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// --- GeneralMiddleware (API全般) のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.GeneralRate = 2
	cfg.GeneralBurst = 5

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handlerCallCount := 0
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, userRequest("alice"))

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// バースト分（2回）は通る
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, userRequest("bob"))

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	// 3回目はレート制限に引っかかる
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, userRequest("bob"))

	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfterHeader(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.GeneralBurst = 1

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), userRequest("carol"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, userRequest("carol"))

	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}

	retryAfter := w.Result().Header.Get("Retry-After")
	if retryAfter == "" {
		t.Fatal("expected Retry-After header to be present")
	}

	// Retry-Afterは数値（秒）であること
	retrySeconds, err := strconv.Atoi(retryAfter)
	if err != nil {
		t.Errorf("Retry-After header should be a number, got %q", retryAfter)
	}
	if retrySeconds < 1 {
		t.Errorf("Retry-After = %d, should be at least 1", retrySeconds)
	}
}

func TestRateLimitMiddleware_IsolatesUserRateLimits(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.GeneralBurst = 1

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	wA := httptest.NewRecorder()
	handler.ServeHTTP(wA, userRequest("user-a"))
	if wA.Result().StatusCode != http.StatusOK {
		t.Errorf("user-a first request: status = %d, want %d", wA.Result().StatusCode, http.StatusOK)
	}

	wA2 := httptest.NewRecorder()
	handler.ServeHTTP(wA2, userRequest("user-a"))
	if wA2.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("user-a second request: status = %d, want %d", wA2.Result().StatusCode, http.StatusTooManyRequests)
	}

	// user-bはuser-aのレートに影響されない
	wB := httptest.NewRecorder()
	handler.ServeHTTP(wB, userRequest("user-b"))
	if wB.Result().StatusCode != http.StatusOK {
		t.Errorf("user-b first request: status = %d, want %d", wB.Result().StatusCode, http.StatusOK)
	}
}

func TestRateLimitMiddleware_NoUsername_Returns401(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// --- SignMiddleware のテスト ---

func TestSignRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	signHandler := rl.SignMiddleware()(okHandler())
	generalHandler := rl.GeneralMiddleware()(okHandler())

	w := httptest.NewRecorder()
	signHandler.ServeHTTP(w, userRequest("dave"))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("first sign: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	w = httptest.NewRecorder()
	signHandler.ServeHTTP(w, userRequest("dave"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("second sign: status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}

	// 署名の上限に達していてもAPI全般は通る
	w = httptest.NewRecorder()
	generalHandler.ServeHTTP(w, userRequest("dave"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("general: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	if rl.SignLimiterCount() != 1 {
		t.Errorf("SignLimiterCount = %d, want 1", rl.SignLimiterCount())
	}
}

// --- PublicMiddleware のテスト ---

func TestPublicRateLimit_PerClientIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.PublicMiddleware()(okHandler())

	send := func(remoteAddr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/balance2", nil)
		req.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Result().StatusCode
	}

	// 同一IPはポートが異なっても同じリミッターを共有する
	if got := send("203.0.113.7:1111"); got != http.StatusOK {
		t.Errorf("request 1: status = %d, want %d", got, http.StatusOK)
	}
	if got := send("203.0.113.7:2222"); got != http.StatusOK {
		t.Errorf("request 2: status = %d, want %d", got, http.StatusOK)
	}
	if got := send("203.0.113.7:3333"); got != http.StatusTooManyRequests {
		t.Errorf("request 3: status = %d, want %d", got, http.StatusTooManyRequests)
	}

	if got := send("198.51.100.1:1111"); got != http.StatusOK {
		t.Errorf("other ip: status = %d, want %d", got, http.StatusOK)
	}

	if rl.PublicLimiterCount() != 2 {
		t.Errorf("PublicLimiterCount = %d, want 2", rl.PublicLimiterCount())
	}
}

// --- 429レスポンスフォーマットのテスト ---

func TestRateLimitMiddleware_429ResponseIsJSON(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.GeneralBurst = 1

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), userRequest("erin"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, userRequest("erin"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want %q", body.Code, "RATE_LIMIT_EXCEEDED")
	}
	if body.Message == "" {
		t.Error("expected 'message' field in error response")
	}
	if body.Category == "" {
		t.Error("expected 'category' field in error response")
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.CleanupInterval = 50 * time.Millisecond

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), userRequest("frank"))

	if rl.GeneralLimiterCount() == 0 {
		t.Fatal("expected at least one limiter entry")
	}

	// エントリのTTLはCleanupIntervalの2倍（100ms）
	time.Sleep(300 * time.Millisecond)

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("expected 0 limiter entries after cleanup, got %d", count)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

// --- ミドルウェアチェーンとの統合テスト ---

func TestRateLimitMiddleware_InChainWithAuthAndCORS(t *testing.T) {
	authn := &mockAuthenticator{
		authenticateFn: func(token string) (string, error) {
			return "grace", nil
		},
	}

	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	// CORS -> Auth -> RateLimit -> Handler
	handler := NewCORSMiddleware([]string{"http://localhost:5173"})(
		NewAuthMiddleware(authn)(
			rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				username, _ := UsernameFromContext(r.Context())
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]string{"username": username})
			})),
		),
	)

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/txn", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Authorization", "Bearer token")
		return req
	}

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newReq())

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newReq())

	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("request 3: status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}
	if got := w.Result().Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "http://localhost:5173")
	}
}

// --- 設定値のテスト ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60 = 2
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.SignRate == 0 {
		t.Error("SignRate should not be 0")
	}
	if cfg.SignBurst != 10 {
		t.Errorf("SignBurst = %d, want 10", cfg.SignBurst)
	}
	if cfg.PublicBurst != 30 {
		t.Errorf("PublicBurst = %d, want 30", cfg.PublicBurst)
	}
}

func TestRateLimiterConfigPerMinute_ClampsNonPositive(t *testing.T) {
	cfg := RateLimiterConfigPerMinute(0, -5, 60)

	if cfg.GeneralBurst != 1 {
		t.Errorf("GeneralBurst = %d, want 1", cfg.GeneralBurst)
	}
	if cfg.SignBurst != 1 {
		t.Errorf("SignBurst = %d, want 1", cfg.SignBurst)
	}
	if cfg.PublicRate != 1.0 {
		t.Errorf("PublicRate = %f, want 1.0", cfg.PublicRate)
	}
}
