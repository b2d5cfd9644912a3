// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the tutor chat service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization header,
// validates it against the session store, and stores the resulting AuthInfo
// in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	SessionAuth
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► sessions.Validate(ctx, token, now)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo)
//
// Expired sessions are rejected with the same status as invalid ones; the
// client is expected to re-authenticate either way.
package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aeckhq/tutorchat/storage"
)

// authInfoKey is the context key for storing AuthInfo.
// Using a fixed key prevents collisions with other context values.
const authInfoKey = "tutorchat_auth_info"

// AuthInfo carries the identity of the authenticated user for the
// current request.
type AuthInfo struct {
	UserID string
	Token  string
}

// SetAuthInfo stores the authenticated user info in the Gin context.
func SetAuthInfo(c *gin.Context, info *AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated user info from the Gin context.
// Returns nil if the request was not authenticated.
func GetAuthInfo(c *gin.Context) *AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// SessionAuth creates a Gin middleware that authenticates requests against
// the session store.
//
// Tokens arrive in the Authorization header:
//
//	Authorization: Bearer <token>
//
// A missing or malformed header is rejected with 401 before touching the
// store. Validation failures (unknown or expired token) are also 401 with a
// distinct message so clients can tell "log in" from "log in again".
//
// On success the session's LastActivity is refreshed best-effort; a failed
// touch never fails the request.
func SessionAuth(sessions storage.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}

		session, err := sessions.Validate(c.Request.Context(), token, time.Now())
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrSessionExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "invalid or expired session",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		// Best effort; a stale LastActivity only delays TTL cleanup.
		_ = sessions.Touch(c.Request.Context(), token, time.Now())

		SetAuthInfo(c, &AuthInfo{UserID: session.UserID, Token: token})
		c.Next()
	}
}

// extractBearerToken parses the Authorization header expecting the format
// "Bearer <token>". Returns empty string if the header is missing or
// malformed. The "Bearer" prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
