package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/crmdesk/internal/token"
)

// requestAs はセッションゲート通過済みのリクエストを生成する。
func requestAs(method, path, userID string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	return req.WithContext(ContextWithPayload(req.Context(), token.Payload{ID: userID}))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func testLimiterConfig(generalBurst, mutationBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		MutationRate:    1,
		MutationBurst:   mutationBurst,
		CleanupInterval: 1 * time.Minute,
	}
}

// --- GeneralMiddleware (API全般) のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 10))
	defer rl.Stop()

	handlerCallCount := 0
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(http.MethodGet, "/clients", "user-1"))

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfterHeader(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(2, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// バースト分（2回）は通る
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(http.MethodGet, "/clients", "user-rate-limit"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(http.MethodGet, "/clients", "user-rate-limit"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	retrySeconds, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After header should be a number, got %q", resp.Header.Get("Retry-After"))
	}
	if retrySeconds < 1 {
		t.Errorf("Retry-After = %d, should be at least 1", retrySeconds)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != "RATE_LIMITED" {
		t.Errorf("code = %q, want %q", body.Code, "RATE_LIMITED")
	}
	if body.Category != "system" {
		t.Errorf("category = %q, want %q", body.Category, "system")
	}
}

func TestRateLimitMiddleware_IsolatesUserRateLimits(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// user-Aがバーストを使い切る
	handler.ServeHTTP(httptest.NewRecorder(), requestAs(http.MethodGet, "/clients", "user-A"))
	wA := httptest.NewRecorder()
	handler.ServeHTTP(wA, requestAs(http.MethodGet, "/clients", "user-A"))
	if wA.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("user-A: status = %d, want %d", wA.Result().StatusCode, http.StatusTooManyRequests)
	}

	// user-Bは影響を受けない
	wB := httptest.NewRecorder()
	handler.ServeHTTP(wB, requestAs(http.MethodGet, "/clients", "user-B"))
	if wB.Result().StatusCode != http.StatusOK {
		t.Errorf("user-B: status = %d, want %d", wB.Result().StatusCode, http.StatusOK)
	}
}

func TestRateLimitMiddleware_NoUserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/clients", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// --- MutationMiddleware (顧客変更) のテスト ---

func TestMutationRateLimit_LimitsWritesOnly(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(100, 1))
	defer rl.Stop()

	handler := rl.MutationMiddleware()(okHandler())

	// 1回目の作成は通る
	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, requestAs(http.MethodPost, "/clients", "user-writer"))
	if w1.Result().StatusCode != http.StatusOK {
		t.Fatalf("first POST: status = %d, want %d", w1.Result().StatusCode, http.StatusOK)
	}

	// 2回目の変更は429
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(method, "/clients/1", "user-writer"))
		if w.Result().StatusCode != http.StatusTooManyRequests {
			t.Errorf("%s: status = %d, want %d", method, w.Result().StatusCode, http.StatusTooManyRequests)
		}
	}

	// 参照系は制限されない
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(http.MethodGet, "/clients", "user-writer"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("GET %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}
}

func TestMutationRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 10))
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	mutation := rl.MutationMiddleware()(okHandler())

	// API全般のバーストを使い切る
	general.ServeHTTP(httptest.NewRecorder(), requestAs(http.MethodGet, "/clients", "user-indep"))

	// 顧客変更のリミッターには影響しない
	w := httptest.NewRecorder()
	mutation.ServeHTTP(w, requestAs(http.MethodPost, "/clients", "user-indep"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if rl.GeneralLimiterCount() != 1 || rl.MutationLimiterCount() != 1 {
		t.Errorf("limiter counts = (%d, %d), want (1, 1)", rl.GeneralLimiterCount(), rl.MutationLimiterCount())
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(5, 5))
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAs(http.MethodGet, "/clients", "user-cleanup"))
	rl.MutationMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAs(http.MethodPost, "/clients", "user-cleanup"))

	if rl.GeneralLimiterCount() != 1 || rl.MutationLimiterCount() != 1 {
		t.Fatal("expected one limiter entry per set")
	}

	// 直近のアクセスはTTL内なので残る
	rl.cleanup()
	if rl.GeneralLimiterCount() != 1 {
		t.Errorf("recent entry should survive cleanup")
	}

	// TTL（CleanupIntervalの2倍）を超えたとみなして削除する
	future := time.Now().Add(3 * rl.config.CleanupInterval)
	rl.general.evict(future, 2*rl.config.CleanupInterval)
	rl.mutation.evict(future, 2*rl.config.CleanupInterval)

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("expected 0 general entries after cleanup, got %d", count)
	}
	if count := rl.MutationLimiterCount(); count != 0 {
		t.Errorf("expected 0 mutation entries after cleanup, got %d", count)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(1, 1))
	rl.Stop()
	rl.Stop()
}

// --- ミドルウェアチェーンとの統合テスト ---

func TestRateLimitMiddleware_InChainWithSessionAndCORS(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig(2, 10))
	defer rl.Stop()

	gate := NewSessionGate(validVerifier(token.Payload{ID: "user-rate-chain"}), nil)
	corsMW := NewCORSMiddleware("http://localhost:3000")

	// CORS -> SessionGate -> RateLimit -> Handler
	handler := corsMW(gate(rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
	}))))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/clients", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-token"})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	req3 := httptest.NewRequest(http.MethodGet, "/clients", nil)
	req3.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-token"})
	w3 := httptest.NewRecorder()

	handler.ServeHTTP(w3, req3)

	if w3.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("request 3: status = %d, want %d", w3.Result().StatusCode, http.StatusTooManyRequests)
	}
}

// --- デフォルト設定値のテスト ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60 = 2
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.MutationRate != 0.5 { // 30/60
		t.Errorf("MutationRate = %f, want 0.5", cfg.MutationRate)
	}
	if cfg.MutationBurst != 30 {
		t.Errorf("MutationBurst = %d, want 30", cfg.MutationBurst)
	}
	if cfg.CleanupInterval <= 0 {
		t.Error("CleanupInterval should be positive")
	}
}

func TestNewRateLimiterConfig_NonPositiveFallsBackToDefault(t *testing.T) {
	cfg := NewRateLimiterConfig(0, -3)
	if cfg != DefaultRateLimiterConfig() {
		t.Errorf("NewRateLimiterConfig(0, -3) = %+v, want defaults %+v", cfg, DefaultRateLimiterConfig())
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	w := httptest.NewRecorder()
	general.ServeHTTP(w, requestAs(http.MethodGet, "/clients", "user-zero"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("general: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	mutation := rl.MutationMiddleware()(okHandler())
	w = httptest.NewRecorder()
	mutation.ServeHTTP(w, requestAs(http.MethodPost, "/clients", "user-zero"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("mutation: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}
