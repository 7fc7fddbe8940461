package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"lendledger/crypto"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"lending": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("lending")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/lending/market", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesKeys(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"lending": {RatePerSecond: 1, Burst: 1},
		"admin":   {RatePerSecond: 1, Burst: 1},
	}, nil)
	lendingHandler := limiter.Middleware("lending")(okHandler())
	adminHandler := limiter.Middleware("admin")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/lending/market", nil)
	req.Header.Set("X-API-Key", "tenant-A")
	res := httptest.NewRecorder()
	lendingHandler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected lending request to succeed, got %d", res.Code)
	}

	adminReq := httptest.NewRequest(http.MethodPost, "/v1/chain/advance", nil)
	adminReq.Header.Set("X-API-Key", "tenant-A")
	adminRes := httptest.NewRecorder()
	adminHandler.ServeHTTP(adminRes, adminReq)
	if adminRes.Code != http.StatusOK {
		t.Fatalf("expected first admin request to succeed, got %d", adminRes.Code)
	}
}

func TestRateLimiterAppliesRouteTokens(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"lending": {
			RatePerSecond: 0.001,
			Burst:         5,
			DefaultTokens: 1,
			Tokens: map[string]int{
				"POST /v1/lending/borrow": 3,
			},
		},
	}, nil)
	handler := limiter.Middleware("lending")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/lending/borrow", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first borrow request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second borrow request to exceed burst, got %d", res.Code)
	}

	// The two remaining tokens still cover a default-cost route.
	statusReq := httptest.NewRequest(http.MethodGet, "/v1/lending/market", nil)
	statusRes := httptest.NewRecorder()
	handler.ServeHTTP(statusRes, statusReq)
	if statusRes.Code != http.StatusOK {
		t.Fatalf("expected market route to succeed with default token cost, got %d", statusRes.Code)
	}
}

func TestRateLimiterKeysByCaller(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"lending": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("lending")(okHandler())

	for _, b := range []byte{1, 2} {
		var caller crypto.Address
		caller[19] = b
		req := httptest.NewRequest(http.MethodGet, "/v1/lending/market", nil)
		req = req.WithContext(WithCaller(req.Context(), caller, nil))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected caller %d to have its own bucket, got %d", b, res.Code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example"}})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/v1/lending/borrow", nil)
	req.Header.Set("Origin", "https://app.example")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected preflight to short-circuit, got %d", res.Code)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/lending/market", nil)
	req.Header.Set("Origin", "https://evil.example")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected unknown origin to be ignored")
	}
}
