package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"lendledger/crypto"
)

const testSecret = "unit-test-secret"

func testCaller() crypto.Address {
	var addr crypto.Address
	addr[0] = 0x42
	addr[19] = 0x24
	return addr
}

func captureCaller(t *testing.T, got *crypto.Address) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			t.Fatalf("expected caller in context")
		}
		*got = caller
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticatorAcceptsSignedToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	var got crypto.Address
	handler := auth.Middleware(ScopeWrite)(captureCaller(t, &got))

	token, err := IssueToken(testSecret, testCaller(), []string{ScopeWrite}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/lending/borrow", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if got != testCaller() {
		t.Fatalf("unexpected caller %s", got)
	}
}

func TestAuthenticatorRejections(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "ledger"}, nil)
	handler := auth.Middleware(ScopeAdmin)(okHandler())

	sign := func(claims jwt.MapClaims, secret string) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return token
	}
	valid := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub":   testCaller().String(),
			"iss":   "ledger",
			"scope": ScopeAdmin,
			"exp":   time.Now().Add(time.Minute).Unix(),
		}
	}

	cases := map[string]struct {
		header string
		status int
	}{
		"missing":       {"", http.StatusUnauthorized},
		"wrong secret":  {"Bearer " + sign(valid(), "other"), http.StatusUnauthorized},
		"wrong scheme":  {"Basic " + sign(valid(), testSecret), http.StatusUnauthorized},
		"expired":       {"Bearer " + sign(jwt.MapClaims{"sub": testCaller().String(), "iss": "ledger", "scope": ScopeAdmin, "exp": time.Now().Add(-time.Hour).Unix()}, testSecret), http.StatusUnauthorized},
		"wrong issuer":  {"Bearer " + sign(jwt.MapClaims{"sub": testCaller().String(), "iss": "other", "scope": ScopeAdmin}, testSecret), http.StatusUnauthorized},
		"bad subject":   {"Bearer " + sign(jwt.MapClaims{"sub": "nobody", "iss": "ledger", "scope": ScopeAdmin}, testSecret), http.StatusUnauthorized},
		"missing scope": {"Bearer " + sign(jwt.MapClaims{"sub": testCaller().String(), "iss": "ledger", "scope": ScopeWrite}, testSecret), http.StatusForbidden},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/chain/advance", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, res.Code)
			}
		})
	}
}

func TestAuthenticatorDisabledUsesCallerHeader(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	var got crypto.Address
	handler := auth.Middleware(ScopeWrite)(captureCaller(t, &got))

	req := httptest.NewRequest(http.MethodPost, "/v1/lending/deposit", nil)
	req.Header.Set(CallerHeader, testCaller().String())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK || got != testCaller() {
		t.Fatalf("unexpected result %d caller=%s", res.Code, got)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/lending/deposit", nil)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected missing caller header to be rejected, got %d", res.Code)
	}
}
