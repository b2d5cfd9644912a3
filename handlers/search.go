// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aeckhq/tutorchat/middleware"
	"github.com/aeckhq/tutorchat/observability"
	"github.com/aeckhq/tutorchat/storage"
)

const (
	// maxTitleMatches caps conversation-title hits per search.
	maxTitleMatches = 5

	// maxMessageMatches caps message-content hits per search.
	maxMessageMatches = 10

	// searchSnippetRunes bounds the excerpt returned for a message hit.
	searchSnippetRunes = 100
)

// searchResult is one search hit. Conversation hits carry no Match
// excerpt; message hits point at their conversation and carry one.
type searchResult struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Title string `json:"title"`
	Match string `json:"match,omitempty"`
	Date  int64  `json:"date"`
}

// Search handles GET /api/search?q=...
//
// Case-insensitive substring search over the user's conversation titles
// (most recently updated first, up to 5) and message contents (newest
// first, up to 10). The query is treated as literal text, never as a
// pattern. Message hits are joined with their conversation's title so the
// client can render them without a second request.
func Search(conversations storage.ConversationStore, messages storage.MessageStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo := middleware.GetAuthInfo(c)
		if authInfo == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		query := strings.TrimSpace(c.Query("q"))
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing query"})
			return
		}
		needle := strings.ToLower(query)

		convs, err := conversations.List(c.Request.Context(), authInfo.UserID)
		if err != nil {
			slog.Error("search failed listing conversations", "error", err)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointSearch, observability.ErrorCodeStorage)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
			return
		}

		// List is updatedAt-descending, so the first matches are the most
		// recently active conversations.
		titles := make(map[string]string, len(convs))
		results := []searchResult{}
		titleMatches := 0
		for _, conv := range convs {
			titles[conv.ID] = conv.Title
			if titleMatches < maxTitleMatches && strings.Contains(strings.ToLower(conv.Title), needle) {
				titleMatches++
				results = append(results, searchResult{
					Type:  "conversation",
					ID:    conv.ID,
					Title: conv.Title,
					Date:  conv.UpdatedAt,
				})
			}
		}

		msgs, err := messages.ListAll(c.Request.Context(), authInfo.UserID)
		if err != nil {
			slog.Error("search failed listing messages", "error", err)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointSearch, observability.ErrorCodeStorage)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
			return
		}

		// ListAll is ascending by creation time; walk backwards for
		// newest-first hits.
		messageMatches := 0
		for i := len(msgs) - 1; i >= 0 && messageMatches < maxMessageMatches; i-- {
			msg := msgs[i]
			if !strings.Contains(strings.ToLower(msg.Text), needle) {
				continue
			}
			messageMatches++
			title := titles[msg.ConversationID]
			if title == "" {
				title = "Unknown Conversation"
			}
			results = append(results, searchResult{
				Type:  "message",
				ID:    msg.ConversationID,
				Title: title,
				Match: searchSnippet(msg.Text),
				Date:  msg.CreatedAt,
			})
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(observability.EndpointSearch, true)
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}

// searchSnippet truncates a matched message for display, on rune
// boundaries so multibyte text is never cut mid-character.
func searchSnippet(text string) string {
	runes := []rune(text)
	if len(runes) <= searchSnippetRunes {
		return text
	}
	return string(runes[:searchSnippetRunes]) + "..."
}
