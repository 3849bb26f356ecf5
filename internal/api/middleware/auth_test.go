package middleware

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func jweToken(header string) string {
	h := base64.RawURLEncoding.EncodeToString([]byte(header))
	return h + ".ZW5jcnlwdGVkLWtleQ.aXY.Y2lwaGVydGV4dA.dGFn"
}

func signedToken(t *testing.T, secret []byte, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "svc", "exp": exp.Unix()})
	s, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestIsJWE(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"valid", jweToken(`{"alg":"dir","enc":"A256GCM"}`), true},
		{"padded header", base64.URLEncoding.EncodeToString([]byte(`{"alg":"dir","enc":"A256GCM"}`)) + ".a.b.c.d", true},
		{"missing enc", jweToken(`{"alg":"dir"}`), false},
		{"numeric alg", jweToken(`{"alg":1,"enc":"A256GCM"}`), false},
		{"three parts", "a.b.c", false},
		{"garbage header", "!!!.a.b.c.d", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		if got := IsJWE(tt.token); got != tt.want {
			t.Errorf("%s: IsJWE = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestValidator(t *testing.T) {
	secret := []byte("test-secret")
	v := Validator{Secret: secret}

	tests := []struct {
		name  string
		v     Validator
		token string
		want  bool
	}{
		{"jwe", v, jweToken(`{"alg":"dir","enc":"A256GCM"}`), true},
		{"signed jwt", v, signedToken(t, secret, time.Now().Add(time.Hour)), true},
		{"expired jwt", v, signedToken(t, secret, time.Now().Add(-time.Hour)), false},
		{"wrong secret", v, signedToken(t, []byte("other"), time.Now().Add(time.Hour)), false},
		{"jwt without secret", Validator{}, signedToken(t, secret, time.Now().Add(time.Hour)), false},
		{"empty", v, "", false},
	}
	for _, tt := range tests {
		if got := tt.v.Valid(tt.token); got != tt.want {
			t.Errorf("%s: Valid = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Gate(Validator{}))
	ok := func(c *gin.Context) { c.String(http.StatusOK, TokenFrom(c)) }
	for _, p := range []string{"/home", "/login", "/dashboard", "/tasks/ep-1", "/tasksx", "/server_info"} {
		r.GET(p, ok)
	}

	valid := jweToken(`{"alg":"dir","enc":"A256GCM"}`)
	tests := []struct {
		name     string
		path     string
		cookie   string
		status   int
		location string
	}{
		{"root goes home", "/", "", http.StatusFound, "/home"},
		{"public page", "/home", "", http.StatusOK, ""},
		{"login when signed out", "/login", "", http.StatusOK, ""},
		{"login when signed in", "/login", valid, http.StatusFound, "/dashboard"},
		{"protected signed out", "/dashboard", "", http.StatusFound, "/login"},
		{"protected child signed out", "/tasks/ep-1", "", http.StatusFound, "/login"},
		{"prefix lookalike", "/tasksx", "", http.StatusOK, ""},
		{"protected signed in", "/server_info", valid, http.StatusOK, ""},
		{"protected bad token", "/dashboard", "nope", http.StatusFound, "/login"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if tt.cookie != "" {
			req.AddCookie(&http.Cookie{Name: TokenCookie, Value: tt.cookie})
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != tt.status {
			t.Errorf("%s: status %d, want %d", tt.name, w.Code, tt.status)
			continue
		}
		if tt.location != "" && w.Header().Get("Location") != tt.location {
			t.Errorf("%s: redirected to %q, want %q", tt.name, w.Header().Get("Location"), tt.location)
		}
		t.Logf("✅ %s -> %d %s", tt.path, w.Code, w.Header().Get("Location"))
	}
}

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api", RequireAuth(Validator{}), func(c *gin.Context) {
		c.String(http.StatusOK, TokenFrom(c))
	})

	valid := jweToken(`{"alg":"dir","enc":"A256GCM"}`)
	tests := []struct {
		name   string
		setup  func(*http.Request)
		status int
	}{
		{"missing", func(*http.Request) {}, http.StatusUnauthorized},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) }, http.StatusOK},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: TokenCookie, Value: valid}) }, http.StatusOK},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=" + valid }, http.StatusOK},
		{"invalid", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api", nil)
		tt.setup(req)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tt.status {
			t.Errorf("%s: status %d, want %d", tt.name, w.Code, tt.status)
			continue
		}
		if tt.status == http.StatusOK && w.Body.String() != valid {
			t.Errorf("%s: handler saw token %q", tt.name, w.Body.String())
		}
	}
}
