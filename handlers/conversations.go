// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aeckhq/tutorchat/middleware"
	"github.com/aeckhq/tutorchat/observability"
	"github.com/aeckhq/tutorchat/storage"
)

// conversationPatch is the PATCH body. All fields optional; absent fields
// are left untouched.
type conversationPatch struct {
	Title      *string `json:"title"`
	IsPinned   *bool   `json:"isPinned"`
	IsArchived *bool   `json:"isArchived"`
}

// ListConversations handles GET /api/conversations. Tenant-scoped, most
// recently updated first.
func ListConversations(conversations storage.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo := middleware.GetAuthInfo(c)
		if authInfo == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		list, err := conversations.List(c.Request.Context(), authInfo.UserID)
		if err != nil {
			slog.Error("failed to list conversations", "error", err)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointConversations, observability.ErrorCodeStorage)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(observability.EndpointConversations, true)
		}
		c.JSON(http.StatusOK, gin.H{"conversations": list})
	}
}

// UpdateConversation handles PATCH /api/conversations/:conversationId.
// Accepts title, isPinned, and isArchived; any change bumps updatedAt.
func UpdateConversation(conversations storage.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo := middleware.GetAuthInfo(c)
		if authInfo == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		conversationID := c.Param("conversationId")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
			return
		}

		var patch conversationPatch
		if err := c.BindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if patch.Title == nil && patch.IsPinned == nil && patch.IsArchived == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
			return
		}

		updated, err := conversations.Update(c.Request.Context(), authInfo.UserID, conversationID, storage.ConversationUpdate{
			Title:      patch.Title,
			IsPinned:   patch.IsPinned,
			IsArchived: patch.IsArchived,
			UpdatedAt:  time.Now().UnixMilli(),
		})
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		if err != nil {
			slog.Error("failed to update conversation",
				"conversationId", conversationID,
				"error", err,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointConversations, observability.ErrorCodeStorage)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update conversation"})
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(observability.EndpointConversations, true)
		}
		c.JSON(http.StatusOK, updated)
	}
}

// DeleteConversation handles DELETE /api/conversations/:conversationId.
// Removes the conversation row and all its messages atomically; deleting a
// conversation that does not exist is a no-op success.
func DeleteConversation(conversations storage.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo := middleware.GetAuthInfo(c)
		if authInfo == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		conversationID := c.Param("conversationId")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
			return
		}

		if err := conversations.DeleteCascade(c.Request.Context(), authInfo.UserID, conversationID); err != nil {
			slog.Error("failed to delete conversation",
				"conversationId", conversationID,
				"error", err,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointConversations, observability.ErrorCodeStorage)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversation"})
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(observability.EndpointConversations, true)
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "conversationId": conversationID})
	}
}
