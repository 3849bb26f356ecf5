package middleware

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// TokenCookie carries the Marai session token set by the dashboard.
const TokenCookie = "MAIAT"

const tokenKey = "marai_token"

// ProtectedPaths need a valid token. A path matches itself and everything below it.
var ProtectedPaths = []string{"/dashboard", "/tasks", "/server_info"}

// TokenFrom returns the caller's token from the MAIAT cookie, the
// Authorization header or the "?token=" query parameter, in that order.
// The query parameter lets browsers authenticate websocket upgrades.
func TokenFrom(c *gin.Context) string {
	if v, ok := c.Get(tokenKey); ok {
		if s, _ := v.(string); s != "" {
			return s
		}
	}
	if cookie, err := c.Cookie(TokenCookie); err == nil && cookie != "" {
		return cookie
	}
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

// IsJWE reports whether token has the shape of a compact JWE: five parts
// and a base64url JSON header naming both "alg" and "enc".
// Nothing is decrypted.
func IsJWE(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 5 {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[0], "="))
	if err != nil {
		return false
	}
	var header map[string]any
	if err := json.Unmarshal(raw, &header); err != nil {
		return false
	}
	_, alg := header["alg"].(string)
	_, enc := header["enc"].(string)
	return alg && enc
}

// Validator accepts Marai JWE tokens and, when a secret is set, HMAC
// signed JWTs minted for service accounts.
type Validator struct {
	Secret []byte
}

func (v Validator) Valid(token string) bool {
	if token == "" {
		return false
	}
	if IsJWE(token) {
		return true
	}
	if len(v.Secret) == 0 {
		return false
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.Secret, nil
	})
	return err == nil && parsed.Valid
}

func isProtected(path string) bool {
	for _, p := range ProtectedPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Gate applies the dashboard routing rules: "/" goes to /home, a signed-in
// user skips /login, and protected pages send everyone else to /login.
func Gate(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/" {
			c.Redirect(http.StatusFound, "/home")
			c.Abort()
			return
		}

		token := TokenFrom(c)
		valid := v.Valid(token)
		switch {
		case valid && path == "/login":
			c.Redirect(http.StatusFound, "/dashboard")
			c.Abort()
			return
		case !valid && isProtected(path):
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		if valid {
			c.Set(tokenKey, token)
		}
		c.Next()
	}
}

// RequireAuth rejects API calls without a valid token.
func RequireAuth(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFrom(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid token"})
			return
		}
		if !v.Valid(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.Set(tokenKey, token)
		c.Next()
	}
}
