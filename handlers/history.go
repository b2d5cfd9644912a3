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

	"github.com/gin-gonic/gin"

	"github.com/aeckhq/tutorchat/datatypes"
	"github.com/aeckhq/tutorchat/middleware"
	"github.com/aeckhq/tutorchat/observability"
	"github.com/aeckhq/tutorchat/storage"
)

// GetHistory handles GET /api/history?conversationId=...
//
// Returns the full message history of one conversation, oldest first. The
// conversationId filter is optional; without it the response covers every
// conversation the user has, ascending by creation time. An unknown
// conversation yields an empty list, not 404; clients cannot tell an empty
// conversation from a missing one and do not need to.
func GetHistory(messages storage.MessageStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo := middleware.GetAuthInfo(c)
		if authInfo == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		conversationID := c.Query("conversationId")

		var list []datatypes.Message
		var err error
		if conversationID == "" {
			list, err = messages.ListAll(c.Request.Context(), authInfo.UserID)
		} else {
			list, err = messages.ListConversation(c.Request.Context(), authInfo.UserID, conversationID)
		}
		if err != nil {
			slog.Error("failed to load history",
				"conversationId", conversationID,
				"error", err,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(observability.EndpointHistory, observability.ErrorCodeStorage)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(observability.EndpointHistory, true)
		}
		c.JSON(http.StatusOK, gin.H{"messages": list})
	}
}
