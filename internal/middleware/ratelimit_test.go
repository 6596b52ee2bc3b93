package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// newLimitedRequest は指定したリモートアドレスのリクエストを生成する。
func newLimitedRequest(path, remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	return req
}

// --- GeneralMiddleware (API全般) のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     2, // 2 req/sec
		GeneralBurst:    5, // バースト5
		AnalysisRate:    1, // 未使用
		AnalysisBurst:   10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()

	handlerCallCount := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newLimitedRequest("/api/test", "10.0.0.1:1234"))

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1, // 1 req/sec
		GeneralBurst:    2, // バースト2
		AnalysisRate:    1,
		AnalysisBurst:   10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// バースト分は通る
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newLimitedRequest("/api/test", "10.0.0.2:1234"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	// バースト超過で429
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newLimitedRequest("/api/test", "10.0.0.2:1234"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfterHeader(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     0.5, // 2秒に1リクエスト
		GeneralBurst:    1,
		AnalysisRate:    1,
		AnalysisBurst:   10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// 1回目は通る
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newLimitedRequest("/api/test", "10.0.0.3:1234"))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	// 2回目は429でRetry-Afterヘッダー付き
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, newLimitedRequest("/api/test", "10.0.0.3:1234"))
	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		t.Fatal("expected Retry-After header")
	}
	sec, err := strconv.Atoi(retryAfter)
	if err != nil {
		t.Fatalf("Retry-After is not an integer: %q", retryAfter)
	}
	// 0.5 req/secなら1トークン補充まで2秒
	if sec != 2 {
		t.Errorf("Retry-After = %d, want 2", sec)
	}
}

func TestRateLimitMiddleware_IsolatesClientRateLimits(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		AnalysisRate:    1,
		AnalysisBurst:   10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// クライアントAがバーストを使い切る
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newLimitedRequest("/api/test", "10.0.0.4:1234"))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("client A first request: status = %d", w.Result().StatusCode)
	}
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, newLimitedRequest("/api/test", "10.0.0.4:5678"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("client A second request: status = %d, want 429", w.Result().StatusCode)
	}

	// クライアントBは影響を受けない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, newLimitedRequest("/api/test", "10.0.0.5:1234"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("client B request: status = %d, want 200", w.Result().StatusCode)
	}
}

// --- AnalysisRunMiddleware (分析実行) のテスト ---

func TestAnalysisRunRateLimit_Returns429WhenLimitExceeded(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		AnalysisRate:    1,
		AnalysisBurst:   2,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.AnalysisRunMiddleware()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newLimitedRequest("/api/analysis/run", "10.0.1.1:1234"))
		if w.Result().StatusCode != http.StatusAccepted {
			t.Fatalf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusAccepted)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newLimitedRequest("/api/analysis/run", "10.0.1.1:1234"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}
}

func TestAnalysisRunRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		AnalysisRate:    1,
		AnalysisBurst:   1,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	generalHandler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	analysisHandler := rl.AnalysisRunMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	// 分析実行のバーストを使い切る
	w := httptest.NewRecorder()
	analysisHandler.ServeHTTP(w, newLimitedRequest("/api/analysis/run", "10.0.1.2:1234"))
	if w.Result().StatusCode != http.StatusAccepted {
		t.Fatalf("analysis request: status = %d", w.Result().StatusCode)
	}
	w = httptest.NewRecorder()
	analysisHandler.ServeHTTP(w, newLimitedRequest("/api/analysis/run", "10.0.1.2:1234"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Fatalf("analysis request over burst: status = %d, want 429", w.Result().StatusCode)
	}

	// API全般のリミットは独立しているため影響を受けない
	w = httptest.NewRecorder()
	generalHandler.ServeHTTP(w, newLimitedRequest("/api/flagged", "10.0.1.2:1234"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("general request: status = %d, want 200", w.Result().StatusCode)
	}
}

func TestRateLimitMiddleware_429ResponseIsJSON(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		AnalysisRate:    1,
		AnalysisBurst:   10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newLimitedRequest("/api/test", "10.0.2.1:1234"))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, newLimitedRequest("/api/test", "10.0.2.1:1234"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode 429 body: %v", err)
	}
	if body["code"] != "rate_limit_exceeded" {
		t.Errorf("code = %q, want rate_limit_exceeded", body["code"])
	}
	if body["category"] != "system" {
		t.Errorf("category = %q, want system", body["category"])
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     2,
		GeneralBurst:    5,
		AnalysisRate:    1,
		AnalysisBurst:   10,
		CleanupInterval: 50 * time.Millisecond, // テスト用に短く
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// クライアントのリクエストを発行してエントリを作成
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newLimitedRequest("/api/test", "10.0.3.1:1234"))

	// エントリが存在することを確認
	if rl.GeneralLimiterCount() == 0 {
		t.Fatal("expected at least one limiter entry")
	}

	// エントリのTTLはCleanupIntervalの2倍（50ms * 2 = 100ms）
	// 200ms待てばクリーンアップで削除されるはず
	time.Sleep(200 * time.Millisecond)

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("expected 0 limiter entries after cleanup, got %d", count)
	}
}

func TestClientKey_StripsPort(t *testing.T) {
	req := newLimitedRequest("/api/test", "192.0.2.1:34567")
	if key := clientKey(req); key != "192.0.2.1" {
		t.Errorf("clientKey = %q, want 192.0.2.1", key)
	}

	// ポートなしのアドレスはそのまま使用する
	req = newLimitedRequest("/api/test", "192.0.2.2")
	if key := clientKey(req); key != "192.0.2.2" {
		t.Errorf("clientKey = %q, want 192.0.2.2", key)
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.AnalysisBurst != 6 {
		t.Errorf("AnalysisBurst = %d, want 6", cfg.AnalysisBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}
