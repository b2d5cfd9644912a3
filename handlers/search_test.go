// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeckhq/tutorchat/datatypes"
)

type searchResponse struct {
	Results []searchResult `json:"results"`
}

func doSearch(t *testing.T, env *testEnv, q string) searchResponse {
	t.Helper()
	w := env.do(t, "GET", "/api/search?q="+q, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSearch_MatchesTitlesAndMessages(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	seedConversation(t, env, "conv-1", "Quadratic Equations Help", 2000)
	seedConversation(t, env, "conv-2", "Essay Review", 1000)
	require.NoError(t, env.messages.Append(context.Background(), &datatypes.Message{
		ID: "m-1", UserID: "user-1", ConversationID: "conv-2",
		Role: datatypes.RoleUser, Text: "can you factor this quadratic?", CreatedAt: 1500,
	}))

	resp := doSearch(t, env, "quadratic")
	require.Len(t, resp.Results, 2)

	assert.Equal(t, "conversation", resp.Results[0].Type)
	assert.Equal(t, "conv-1", resp.Results[0].ID)
	assert.Equal(t, "Quadratic Equations Help", resp.Results[0].Title)
	assert.Empty(t, resp.Results[0].Match)

	assert.Equal(t, "message", resp.Results[1].Type)
	assert.Equal(t, "conv-2", resp.Results[1].ID)
	assert.Equal(t, "Essay Review", resp.Results[1].Title)
	assert.Equal(t, "can you factor this quadratic?", resp.Results[1].Match)
}

func TestSearch_CaseInsensitive(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	seedConversation(t, env, "conv-1", "PHOTOSYNTHESIS basics", 1000)

	resp := doSearch(t, env, "photosynthesis")
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "conv-1", resp.Results[0].ID)
}

func TestSearch_QueryIsLiteralNotPattern(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	seedConversation(t, env, "conv-1", "Algebra", 1000)

	// A regex metacharacter query must not match everything.
	resp := doSearch(t, env, ".%2A")
	assert.Empty(t, resp.Results)
}

func TestSearch_Limits(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	for i := 0; i < 8; i++ {
		seedConversation(t, env, fmt.Sprintf("conv-%d", i), fmt.Sprintf("calculus topic %d", i), int64(1000+i))
	}
	for i := 0; i < 15; i++ {
		require.NoError(t, env.messages.Append(context.Background(), &datatypes.Message{
			ID: fmt.Sprintf("m-%d", i), UserID: "user-1", ConversationID: "conv-0",
			Role: datatypes.RoleUser, Text: fmt.Sprintf("calculus question %d", i),
			CreatedAt: int64(2000 + i),
		}))
	}

	resp := doSearch(t, env, "calculus")

	var convHits, msgHits int
	for _, r := range resp.Results {
		switch r.Type {
		case "conversation":
			convHits++
		case "message":
			msgHits++
		}
	}
	assert.Equal(t, maxTitleMatches, convHits)
	assert.Equal(t, maxMessageMatches, msgHits)

	// Title hits lead with the most recently updated conversation, and
	// message hits are newest first.
	assert.Equal(t, "conv-7", resp.Results[0].ID)
	assert.Equal(t, "calculus question 14", resp.Results[convHits].Match)
}

func TestSearch_SnippetTruncated(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	long := "integral " + strings.Repeat("x", 200)
	require.NoError(t, env.messages.Append(context.Background(), &datatypes.Message{
		ID: "m-1", UserID: "user-1", ConversationID: "conv-1",
		Role: datatypes.RoleUser, Text: long, CreatedAt: 1000,
	}))

	resp := doSearch(t, env, "integral")
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Unknown Conversation", resp.Results[0].Title)
	assert.Len(t, []rune(resp.Results[0].Match), searchSnippetRunes+3)
	assert.True(t, strings.HasSuffix(resp.Results[0].Match, "..."))
}

func TestSearch_MissingQuery(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})

	w := env.do(t, "GET", "/api/search", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "GET", "/api/search?q=%20%20", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearch_TenantIsolation(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	require.NoError(t, env.conversations.Put(context.Background(), &datatypes.Conversation{
		ID: "conv-other", UserID: "user-2", Title: "secret plans", UpdatedAt: 1000,
	}))
	require.NoError(t, env.messages.Append(context.Background(), &datatypes.Message{
		ID: "m-1", UserID: "user-2", ConversationID: "conv-other",
		Role: datatypes.RoleUser, Text: "secret notes", CreatedAt: 1000,
	}))

	resp := doSearch(t, env, "secret")
	assert.Empty(t, resp.Results)
}
