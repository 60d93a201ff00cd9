package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testRateLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	rl := NewRateLimiter(cfg, nil)
	t.Cleanup(rl.Stop)
	return rl
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = addr
	return req
}

func TestRateLimiter_AuthLimitPerClient(t *testing.T) {
	rl := testRateLimiter(t, RateLimiterConfig{
		GeneralRate: rate.Inf, GeneralBurst: 1,
		AuthRate: rate.Limit(1.0 / 60.0), AuthBurst: 2,
	})
	handler := rl.AuthMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("10.0.0.1:5000"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:6000"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", w.Header().Get("Retry-After"))
	}

	// 別のクライアントは独立して制限される
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.2:5000"))
	if w.Code != http.StatusOK {
		t.Errorf("別クライアントの status = %d, want 200", w.Code)
	}
	if got := rl.AuthLimiterCount(); got != 2 {
		t.Errorf("AuthLimiterCount = %d, want 2", got)
	}
}

func TestRateLimiter_KeysBySignedInUser(t *testing.T) {
	rl := testRateLimiter(t, RateLimiterConfig{GeneralRate: rate.Limit(0.001), GeneralBurst: 1, AuthRate: rate.Inf, AuthBurst: 1})
	handler := NewSessionMiddleware(signedIn("u1"))(rl.GeneralMiddleware()(okHandler()))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:1"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	// 接続元が変わっても同じユーザーなら同じリミッター
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.9:1"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
}

func TestRateLimiter_GeneralAndAuthAreIndependent(t *testing.T) {
	rl := testRateLimiter(t, RateLimiterConfig{GeneralRate: rate.Limit(0.001), GeneralBurst: 1, AuthRate: rate.Limit(0.001), AuthBurst: 1})
	general := rl.GeneralMiddleware()(okHandler())
	auth := rl.AuthMiddleware()(okHandler())

	for name, h := range map[string]http.Handler{"general": general, "auth": auth} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, requestFrom("10.0.0.1:1"))
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", name, w.Code)
		}
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := testRateLimiter(t, RateLimiterConfig{GeneralRate: rate.Inf, GeneralBurst: 1, AuthRate: rate.Inf, AuthBurst: 1, CleanupInterval: time.Minute})
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:1"))

	rl.cleanup(time.Now())
	if got := rl.GeneralLimiterCount(); got != 1 {
		t.Fatalf("直近のエントリは残すべき: %d", got)
	}
	rl.cleanup(time.Now().Add(3 * time.Minute))
	if got := rl.GeneralLimiterCount(); got != 0 {
		t.Errorf("期限切れエントリは削除すべき: %d", got)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig(), nil)
	rl.Stop()
	rl.Stop()
}
