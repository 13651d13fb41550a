// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the requester identity for quota accounting and job
// ownership. Authenticated requests carry a bearer token resolved by an
// injected UserResolver; everything else becomes an anonymous identity derived
// from the client IP.
//
// Privacy invariant: the raw client address never reaches the ledger or the
// job store. The anonymous key is an HMAC-SHA256 of the IP under a
// server-side salt, prefixed "anon:", so entries from one client correlate
// without the address being recoverable.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-transcribe-backend/internal/domain"
)

// Context keys written by Identity and read by handlers.
const (
	ctxKeyUserID      = "userID"
	ctxKeyTier        = "tier"
	ctxKeyIdentityKey = "identityKey"
)

// UserResolver validates a bearer token and returns the user id and tier.
// Returning ("", …, nil) means the token did not resolve to a user; the
// request then proceeds anonymously.
type UserResolver func(ctx context.Context, token string) (userID string, tier domain.Tier, err error)

// AnonKey derives the anonymous ledger key for a client IP.
func AnonKey(salt, clientIP string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(clientIP))
	return "anon:" + hex.EncodeToString(mac.Sum(nil))
}

// Identity resolves the requester and stashes userID, tier, and the ledger
// identity key in the Gin context.
//
// Behavior:
//   - No Authorization header: anonymous; identityKey = AnonKey(salt, ip).
//   - Bearer token resolves: authenticated; identityKey = userID.
//   - Resolver error: 401 (the token was presented and could not be checked;
//     proceeding anonymously would silently drop the caller's tier).
func Identity(salt string, resolve UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token != "" && resolve != nil {
			uid, tier, err := resolve(c.Request.Context(), token)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"request_id": c.Writer.Header().Get("X-Request-ID"),
					"code":       "auth_required",
					"message":    "could not verify credentials",
				})
				return
			}
			if uid != "" {
				c.Set(ctxKeyUserID, uid)
				c.Set(ctxKeyTier, string(tier))
				c.Set(ctxKeyIdentityKey, uid)
				c.Next()
				return
			}
		}

		c.Set(ctxKeyIdentityKey, AnonKey(salt, c.ClientIP()))
		c.Next()
	}
}

// RequestIdentity assembles the resolved identity for the service layer.
func RequestIdentity(c *gin.Context) (userID string, tier domain.Tier, identityKey string) {
	userID = c.GetString(ctxKeyUserID)
	tier = domain.Tier(c.GetString(ctxKeyTier))
	identityKey = c.GetString(ctxKeyIdentityKey)
	if identityKey == "" {
		identityKey = AnonKey("", c.ClientIP())
	}
	return userID, tier, identityKey
}

// bearerToken extracts the credential from an "Authorization: Bearer x" value.
func bearerToken(h string) string {
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
