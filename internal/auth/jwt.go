// Package auth provides JWT bearer-token middleware for the volume API.
// Token issuance lives outside this service; only verification happens here.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userContextKey contextKey = "user"

// Claims holds the verified token claims.
type Claims struct {
	Subject string   `json:"sub"`
	Volumes []string `json:"volumes,omitempty"` // empty means all volumes
	jwt.RegisteredClaims
}

// Auth verifies HMAC-signed bearer tokens. A zero secret disables
// verification entirely.
type Auth struct {
	secret []byte
}

// New creates an Auth verifier. An empty secret disables auth.
func New(jwtSecret string) *Auth {
	return &Auth{secret: []byte(jwtSecret)}
}

// Enabled reports whether requests must carry a token.
func (a *Auth) Enabled() bool {
	return len(a.secret) > 0
}

// Middleware returns HTTP middleware that validates bearer tokens. When auth
// is disabled it passes requests through untouched.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		claims, err := a.validateToken(tokenStr)
		if err != nil {
			sendAuthError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims extracts claims from the request context, or nil when auth is
// disabled.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(userContextKey).(*Claims)
	return claims
}

// AllowsVolume reports whether the claims grant access to volumeID. Nil
// claims (auth disabled) and an empty volume list both allow everything.
func (c *Claims) AllowsVolume(volumeID string) bool {
	if c == nil || len(c.Volumes) == 0 {
		return true
	}
	for _, v := range c.Volumes {
		if v == volumeID {
			return true
		}
	}
	return false
}

func (a *Auth) validateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	return claims, nil
}

// extractToken pulls the token from the Authorization header or, for
// WebSocket upgrades where custom headers are awkward, the token query
// parameter.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
	}
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
