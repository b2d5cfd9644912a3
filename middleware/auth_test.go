// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeckhq/tutorchat/datatypes"
	"github.com/aeckhq/tutorchat/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newSessionStore(t *testing.T) storage.SessionStore {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewSessionStore(db)
}

func seedSession(t *testing.T, sessions storage.SessionStore, token, userID string, expiresAt time.Time) {
	t.Helper()
	err := sessions.Put(context.Background(), &datatypes.Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: time.Now().Add(-time.Hour).UnixMilli(),
		ExpiresAt: expiresAt.UnixMilli(),
	})
	require.NoError(t, err)
}

// =============================================================================
// extractBearerToken Tests
// =============================================================================

func TestExtractBearerToken_ValidToken(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.Header.Set("Authorization", "Bearer abc123")

	assert.Equal(t, "abc123", extractBearerToken(c))
}

func TestExtractBearerToken_MissingHeader(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)

	assert.Empty(t, extractBearerToken(c))
}

func TestExtractBearerToken_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "abc123"},
		{"basic auth", "Basic abc123"},
		{"empty bearer", "Bearer "},
		{"only bearer", "Bearer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", "/", nil)
			c.Request.Header.Set("Authorization", tt.header)

			assert.Empty(t, extractBearerToken(c))
		})
	}
}

func TestExtractBearerToken_CaseInsensitive(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"lowercase", "bearer abc123"},
		{"uppercase", "BEARER abc123"},
		{"mixed case", "BeArEr abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", "/", nil)
			c.Request.Header.Set("Authorization", tt.header)

			assert.Equal(t, "abc123", extractBearerToken(c))
		})
	}
}

// =============================================================================
// SessionAuth Tests
// =============================================================================

func authRouter(sessions storage.SessionStore) *gin.Engine {
	router := gin.New()
	router.Use(SessionAuth(sessions))
	router.GET("/test", func(c *gin.Context) {
		info := GetAuthInfo(c)
		if info == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no auth info"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": info.UserID})
	})
	return router
}

func TestSessionAuth_ValidSession(t *testing.T) {
	sessions := newSessionStore(t)
	seedSession(t, sessions, "tok-1", "user-1", time.Now().Add(time.Hour))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	authRouter(sessions).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "user-1")
}

func TestSessionAuth_MissingToken(t *testing.T) {
	sessions := newSessionStore(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	authRouter(sessions).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized")
}

func TestSessionAuth_UnknownToken(t *testing.T) {
	sessions := newSessionStore(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer nope")
	authRouter(sessions).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid or expired session")
}

func TestSessionAuth_ExpiredSession(t *testing.T) {
	sessions := newSessionStore(t)
	seedSession(t, sessions, "tok-old", "user-1", time.Now().Add(-time.Minute))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer tok-old")
	authRouter(sessions).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid or expired session")
}

func TestSessionAuth_TouchRefreshesActivity(t *testing.T) {
	sessions := newSessionStore(t)
	seedSession(t, sessions, "tok-1", "user-1", time.Now().Add(time.Hour))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	authRouter(sessions).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	session, err := sessions.Validate(context.Background(), "tok-1", time.Now())
	require.NoError(t, err)
	assert.NotZero(t, session.LastActivity)
}

// =============================================================================
// Context Helper Tests
// =============================================================================

func TestSetAndGetAuthInfo(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	expected := &AuthInfo{UserID: "test-user", Token: "tok"}
	SetAuthInfo(c, expected)

	actual := GetAuthInfo(c)
	require.NotNil(t, actual)
	assert.Equal(t, expected.UserID, actual.UserID)
	assert.Equal(t, expected.Token, actual.Token)
}

func TestGetAuthInfo_NotSet(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetAuthInfo(c))
}

func TestGetAuthInfo_WrongType(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(authInfoKey, "not auth info")
	assert.Nil(t, GetAuthInfo(c))
}
