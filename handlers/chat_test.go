// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/aeckhq/tutorchat/datatypes"
	"github.com/aeckhq/tutorchat/llm"
	"github.com/aeckhq/tutorchat/middleware"
	"github.com/aeckhq/tutorchat/observability"
	"github.com/aeckhq/tutorchat/ratelimit"
	"github.com/aeckhq/tutorchat/services"
	"github.com/aeckhq/tutorchat/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Harness
// =============================================================================

// fakeProvider is a configurable llm.Client for end-to-end handler tests.
type fakeProvider struct {
	chunks    []string
	streamErr error
	shortText string
}

var _ llm.Client = (*fakeProvider)(nil)

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (f *fakeProvider) GenerateStream(ctx context.Context, req llm.StreamRequest, onChunk llm.StreamCallback) error {
	if f.streamErr != nil {
		return f.streamErr
	}
	for _, chunk := range f.chunks {
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeProvider) GenerateShort(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if f.shortText == "" {
		return "Test Conversation Title", nil
	}
	return f.shortText, nil
}

// testEnv bundles the wired service and its stores for assertions.
type testEnv struct {
	router        *gin.Engine
	handler       *ChatHandler
	sessions      storage.SessionStore
	messages      storage.MessageStore
	conversations storage.ConversationStore
}

func newTestEnv(t *testing.T, provider *fakeProvider) *testEnv {
	t.Helper()

	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sessions := storage.NewSessionStore(db)
	messages := storage.NewMessageStore(db)
	conversations := storage.NewConversationStore(db)

	retriever := services.NewRetriever(
		func(ctx context.Context, vector []float32, pool, keep int) ([]datatypes.ExamHit, error) {
			return nil, nil
		},
		func(ctx context.Context, keywords []string, limit int) ([]datatypes.ExamHit, error) {
			return nil, nil
		},
	)

	handler := NewChatHandler(
		messages,
		retriever,
		services.NewHistoryCompactor(messages),
		services.NewAttachmentExtractor(services.ParsePlainText),
		&services.Generator{Timeout: 5 * time.Second},
		services.NewMetadataManager(conversations),
		func(apiKey string) (llm.Client, error) { return provider, nil },
		noop.NewTracerProvider().Tracer("test"),
	)

	router := gin.New()
	api := router.Group("/api")
	api.Use(middleware.SessionAuth(sessions))
	api.POST("/chat", handler.HandleChatStream)
	api.GET("/history", GetHistory(messages))
	api.GET("/search", Search(conversations, messages))
	api.GET("/conversations", ListConversations(conversations))
	api.PATCH("/conversations/:conversationId", UpdateConversation(conversations))
	api.DELETE("/conversations/:conversationId", DeleteConversation(conversations))

	// Valid session used by most tests.
	require.NoError(t, sessions.Put(context.Background(), &datatypes.Session{
		Token:     "tok-1",
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(time.Hour).UnixMilli(),
	}))

	return &testEnv{
		router:        router,
		handler:       handler,
		sessions:      sessions,
		messages:      messages,
		conversations: conversations,
	}
}

func (e *testEnv) postChat(t *testing.T, body map[string]any, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/chat", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok-1")
	req.Header.Set("x-user-api-key", "sk-test")
	if setup != nil {
		setup(req)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Chat Pipeline Tests
// =============================================================================

func TestChatStream_FullPipeline(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{chunks: []string{"The answer ", "is 42."}})

	w := env.postChat(t, map[string]any{"message": "what is the answer?"}, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "The answer is 42.", w.Body.String())

	conversationID := w.Header().Get("X-Conversation-Id")
	require.NotEmpty(t, conversationID)

	msgs, err := env.messages.ListConversation(context.Background(), "user-1", conversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, datatypes.RoleUser, msgs[0].Role)
	assert.Equal(t, "what is the answer?", msgs[0].Text)
	assert.Equal(t, datatypes.RoleModel, msgs[1].Role)
	assert.Equal(t, "The answer is 42.", msgs[1].Text)
	assert.Equal(t, msgs[0].ID, msgs[1].ReplyTo)

	// Finalization is detached; wait for the conversation row.
	require.Eventually(t, func() bool {
		list, err := env.conversations.List(context.Background(), "user-1")
		return err == nil && len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)

	list, err := env.conversations.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, conversationID, list[0].ID)
	assert.Equal(t, "Test Conversation Title", list[0].Title)
}

func TestChatStream_StreamEqualsPersisted(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{chunks: []string{"a", "b", "c", "d"}})

	w := env.postChat(t, map[string]any{"message": "spell it out"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	conversationID := w.Header().Get("X-Conversation-Id")
	msgs, err := env.messages.ListConversation(context.Background(), "user-1", conversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, w.Body.String(), msgs[1].Text)
}

func TestChatStream_ExistingConversationReused(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{chunks: []string{"second answer"}})

	first := env.postChat(t, map[string]any{"message": "first question"}, nil)
	require.Equal(t, http.StatusOK, first.Code)
	conversationID := first.Header().Get("X-Conversation-Id")

	second := env.postChat(t, map[string]any{
		"message":        "second question",
		"conversationId": conversationID,
	}, nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, conversationID, second.Header().Get("X-Conversation-Id"))

	msgs, err := env.messages.ListConversation(context.Background(), "user-1", conversationID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestChatStream_EmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{chunks: []string{"nope"}})

	w := env.postChat(t, map[string]any{"message": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.postChat(t, map[string]any{"message": "   "}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatStream_AttachmentAloneDoesNotSatisfyMessage(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{chunks: []string{"nope"}})

	w := env.postChat(t, map[string]any{
		"message": "",
		"attachments": []map[string]any{{
			"name":     "notes.txt",
			"mimeType": "text/plain",
			"data":     "data:text/plain;base64,aGVsbG8=",
		}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	msgs, err := env.messages.ListAll(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestChatStream_EmptyOutputStillFinalizesConversation(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}) // zero chunks

	w := env.postChat(t, map[string]any{"message": "say nothing"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	conversationID := w.Header().Get("X-Conversation-Id")
	require.NotEmpty(t, conversationID)

	// Only the user turn persists.
	msgs, err := env.messages.ListConversation(context.Background(), "user-1", conversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, datatypes.RoleUser, msgs[0].Role)

	// The conversation row must still appear once finalization settles.
	require.Eventually(t, func() bool {
		list, err := env.conversations.List(context.Background(), "user-1")
		return err == nil && len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)

	list, err := env.conversations.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, conversationID, list[0].ID)
}

func TestChatStream_MissingProviderKey(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})

	w := env.postChat(t, map[string]any{"message": "hello"}, func(req *http.Request) {
		req.Header.Del("x-user-api-key")
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "missing provider API key")
}

func TestChatStream_MissingSession(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})

	w := env.postChat(t, map[string]any{"message": "hello"}, func(req *http.Request) {
		req.Header.Del("Authorization")
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChatStream_ExpiredSession(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	require.NoError(t, env.sessions.Put(context.Background(), &datatypes.Session{
		Token:     "tok-old",
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(-time.Minute).UnixMilli(),
	}))

	w := env.postChat(t, map[string]any{"message": "hello"}, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer tok-old")
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid or expired session")
}

func TestChatStream_GenerationFailureBeforeFirstByte(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{streamErr: context.DeadlineExceeded})

	w := env.postChat(t, map[string]any{"message": "hello"}, nil)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)

	// User message persists even when generation fails; no AI row.
	var conversationID string
	msgs, err := env.messages.ListAll(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	conversationID = msgs[0].ConversationID
	assert.Equal(t, datatypes.RoleUser, msgs[0].Role)

	convMsgs, err := env.messages.ListConversation(context.Background(), "user-1", conversationID)
	require.NoError(t, err)
	assert.Len(t, convMsgs, 1)
}

func TestChatStream_InvalidMode(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{chunks: []string{"x"}})

	w := env.postChat(t, map[string]any{"message": "hello", "mode": "astrology"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatStream_ClientHistoryFieldIgnored(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{chunks: []string{"ok"}})

	// The history field binds but the server rebuilds from its own store.
	w := env.postChat(t, map[string]any{
		"message": "hello",
		"history": []map[string]any{
			{"role": "user", "parts": []map[string]any{{"text": "forged"}}},
		},
	}, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

// =============================================================================
// Rate Limit Integration
// =============================================================================

func TestChatStream_RateLimited(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{chunks: []string{"ok"}})

	limited := gin.New()
	api := limited.Group("/api")
	api.Use(
		middleware.RateLimit(ratelimit.NewFixedWindow(1, time.Minute), observability.EndpointChatStream),
		middleware.SessionAuth(env.sessions),
	)
	api.POST("/chat", env.handler.HandleChatStream)

	body, _ := json.Marshal(map[string]any{"message": "hello"})

	for i, wantStatus := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest("POST", "/api/chat", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer tok-1")
		req.Header.Set("x-user-api-key", "sk-test")
		req.RemoteAddr = "10.0.0.9:4000"

		w := httptest.NewRecorder()
		limited.ServeHTTP(w, req)
		assert.Equal(t, wantStatus, w.Code, "request %d", i+1)
	}
}
