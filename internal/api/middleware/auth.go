// Package middleware provides HTTP middleware for the relay API.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/veilchat/relay/internal/api/auth"
	"github.com/veilchat/relay/internal/logger"
	"github.com/veilchat/relay/pkg/relay/store"
)

// Context key type for storing claims
type contextKey string

const claimsContextKey contextKey = "claims"

// AuthFailedBody is the one and only body every authentication failure
// renders, regardless of cause. A missing header, a bad signature, an
// expired token, and a revoked device are indistinguishable to the
// caller.
const AuthFailedBody = `{"success":false,"error":"Authentication failed"}`

// WriteAuthFailed writes the generic 401 response.
func WriteAuthFailed(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(AuthFailedBody + "\n"))
}

// GetClaimsFromContext retrieves session claims from the request context.
// Returns nil if no claims are present, which only happens on routes
// that skipped the Auth middleware.
func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, ok := ctx.Value(claimsContextKey).(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}

// WithClaims stores claims in the context. Exported for handler tests.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// extractBearerToken extracts the token from a Bearer Authorization
// header. Any other header shape is treated identically to no header.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	return parts[1], true
}

// touchInterval throttles lastSeenAt refreshes so hot request paths
// don't turn every call into a write.
const touchInterval = time.Minute

// Auth validates Bearer tokens and re-checks that the token's device
// row still exists. The device re-check is what enforces remote logout:
// a token minted before a session takeover verifies cryptographically
// but its device row is gone.
//
// On success the claims are stored in the request context and the
// device's lastSeenAt is refreshed in the background.
func Auth(jwtService *auth.JWTService, devices store.DeviceStore) func(http.Handler) http.Handler {
	var lastTouch sync.Map // userID:deviceID -> time.Time

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractBearerToken(r)
			if !ok {
				WriteAuthFailed(w)
				return
			}

			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				WriteAuthFailed(w)
				return
			}

			if _, err := devices.GetDevice(r.Context(), claims.UserID, claims.DeviceID); err != nil {
				WriteAuthFailed(w)
				return
			}

			// Opportunistic lastSeenAt refresh, off the request path.
			key := claims.UserID + ":" + claims.DeviceID
			now := time.Now()
			if prev, ok := lastTouch.Load(key); !ok || now.Sub(prev.(time.Time)) > touchInterval {
				lastTouch.Store(key, now)
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := devices.TouchDevice(ctx, claims.UserID, claims.DeviceID, now); err != nil {
						logger.Debug("failed to refresh last seen", "user_id", claims.UserID, "error", err)
					}
				}()
			}

			ctx := WithClaims(r.Context(), claims)
			if lc := logger.FromContext(ctx); lc != nil {
				lc.UserID = claims.UserID
				lc.DeviceID = claims.DeviceID
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
