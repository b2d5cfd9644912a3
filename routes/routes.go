// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aeckhq/tutorchat/handlers"
	"github.com/aeckhq/tutorchat/middleware"
	"github.com/aeckhq/tutorchat/observability"
	"github.com/aeckhq/tutorchat/ratelimit"
	"github.com/aeckhq/tutorchat/storage"
)

// Deps carries everything route registration needs. All fields are
// required except Limiter; a nil Limiter disables rate limiting (tests).
type Deps struct {
	Sessions      storage.SessionStore
	Messages      storage.MessageStore
	Conversations storage.ConversationStore
	Chat          *handlers.ChatHandler
	Limiter       ratelimit.Limiter
}

// SetupRoutes registers every endpoint of the service.
//
// /health and /metrics are open; everything under /api requires a valid
// session. The chat endpoint additionally sits behind the fixed-window
// rate limiter, keyed by client IP, so the limit applies before auth work.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The limiter must reject before session validation runs, so the chat
	// route lives in its own group with the limiter stacked first.
	chat := router.Group("/api")
	if deps.Limiter != nil {
		chat.Use(middleware.RateLimit(deps.Limiter, observability.EndpointChatStream))
	}
	chat.Use(middleware.SessionAuth(deps.Sessions))
	chat.POST("/chat", deps.Chat.HandleChatStream)

	api := router.Group("/api")
	api.Use(middleware.SessionAuth(deps.Sessions))
	{
		api.GET("/history", handlers.GetHistory(deps.Messages))
		api.GET("/search", handlers.Search(deps.Conversations, deps.Messages))

		conversations := api.Group("/conversations")
		{
			conversations.GET("", handlers.ListConversations(deps.Conversations))
			conversations.PATCH("/:conversationId", handlers.UpdateConversation(deps.Conversations))
			conversations.DELETE("/:conversationId", handlers.DeleteConversation(deps.Conversations))
		}
	}
}
