// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP endpoints of the tutor chat service.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aeckhq/tutorchat/datatypes"
	"github.com/aeckhq/tutorchat/llm"
	"github.com/aeckhq/tutorchat/middleware"
	"github.com/aeckhq/tutorchat/observability"
	"github.com/aeckhq/tutorchat/services"
	"github.com/aeckhq/tutorchat/storage"
)

// apiKeyHeader carries the caller's provider API key. The service never
// stores provider keys; each request brings its own.
const apiKeyHeader = "x-user-api-key"

// persistTimeout bounds the post-stream AI message write. It runs on a
// detached context because the request context is canceled once the
// response body closes.
const persistTimeout = 30 * time.Second

// ChatHandler runs the streaming chat pipeline.
//
// # Description
//
// One POST /api/chat request flows through:
//
//	validate body → check provider key → resolve conversation →
//	extract attachments → build smart history → persist user message →
//	retrieve exam context → stream generation → persist AI message →
//	finalize conversation metadata (detached)
//
// History is built before the user message is appended so the current turn
// appears exactly once in the provider request. The user message is still
// durable before generation starts.
//
// # Error Handling
//
// Failures before the first streamed byte produce structured JSON with an
// appropriate status. Once bytes have been forwarded the status line is
// gone; the handler logs, terminates the body, and writes no AI row.
type ChatHandler struct {
	messages  storage.MessageStore
	retriever *services.Retriever
	compactor *services.HistoryCompactor
	extractor *services.AttachmentExtractor
	generator *services.Generator
	metadata  *services.MetadataManager
	newClient llm.Factory
	tracer    trace.Tracer
}

// NewChatHandler wires the pipeline stages together.
func NewChatHandler(
	messages storage.MessageStore,
	retriever *services.Retriever,
	compactor *services.HistoryCompactor,
	extractor *services.AttachmentExtractor,
	generator *services.Generator,
	metadata *services.MetadataManager,
	newClient llm.Factory,
	tracer trace.Tracer,
) *ChatHandler {
	return &ChatHandler{
		messages:  messages,
		retriever: retriever,
		compactor: compactor,
		extractor: extractor,
		generator: generator,
		metadata:  metadata,
		newClient: newClient,
		tracer:    tracer,
	}
}

// HandleChatStream handles POST /api/chat.
func (h *ChatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
		}
	}()

	authInfo := middleware.GetAuthInfo(c)
	if authInfo == nil {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeUnauthorized)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID := authInfo.UserID
	span.SetAttributes(attribute.String("user.id", userID))

	apiKey := c.GetHeader(apiKeyHeader)
	if apiKey == "" {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeUnauthorized)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing provider API key"})
		return
	}

	var req datatypes.ChatRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	client, err := h.newClient(apiKey)
	if err != nil {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeUnauthorized)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid provider API key"})
		return
	}

	conversationID := req.ConversationID
	isNew := conversationID == ""
	if isNew {
		conversationID = uuid.NewString()
	}
	span.SetAttributes(
		attribute.String("chat.conversation_id", conversationID),
		attribute.String("chat.mode", req.Mode),
		attribute.Bool("chat.new_conversation", isNew),
	)

	extracted := h.extractor.Extract(ctx, req.Attachments)
	images := imageURIs(req.Attachments)

	// Before Append, so the window excludes the current turn.
	history, err := h.compactor.BuildHistory(ctx, userID, conversationID, client)
	if err != nil {
		slog.Warn("failed to build history, continuing without it",
			"conversationId", conversationID,
			"error", err,
		)
		history = nil
	}

	userMsg := &datatypes.Message{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Role:           datatypes.RoleUser,
		Text:           req.Message,
		Images:         images,
	}
	if err := h.messages.Append(ctx, userMsg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user message persist failed")
		slog.Error("failed to persist user message",
			"conversationId", conversationID,
			"error", err,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeStorage)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save message"})
		return
	}

	contextItems := h.retriever.Retrieve(ctx, req.Message, client)
	span.SetAttributes(attribute.Int("rag.context_items", len(contextItems)))

	writer, err := newStreamWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted()
		defer m.StreamEnded()
	}

	firstToken := time.Time{}
	input := services.GenerationInput{
		Mode:    req.Mode,
		Message: req.Message + extracted,
		Images:  images,
		Context: contextItems,
		History: history,
	}

	streamErr := h.generator.Stream(ctx, client, input, func(chunk string) error {
		// Headers go out with the first byte, so pre-stream failures can
		// still produce a structured JSON error.
		if firstToken.IsZero() {
			firstToken = time.Now()
			setStreamHeaders(c, conversationID)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordTimeToFirstToken(firstToken.Sub(startTime).Seconds())
			}
		}
		return writer.WriteChunk(chunk)
	})

	if m := observability.DefaultMetrics; m != nil {
		m.RecordStreamDuration(time.Since(startTime).Seconds(), streamErr == nil)
	}

	if streamErr != nil {
		h.handleStreamError(c, span, writer, streamErr, conversationID)
		return
	}

	if writer.Accumulated() == "" {
		// Provider completed without output. No AI row to persist, but the
		// conversation row still has to exist for the id the client was
		// handed, so finalization runs regardless.
		setStreamHeaders(c, conversationID)
		slog.Warn("generation produced no output", "conversationId", conversationID)
		go h.metadata.Finalize(conversationID, userID, req.Message, isNew, client)
		success = true
		return
	}

	h.persistModelMessage(conversationID, userID, userMsg.ID, writer.Accumulated())
	go h.metadata.Finalize(conversationID, userID, req.Message, isNew, client)

	success = true
}

// handleStreamError maps a generation failure onto the right client shape:
// structured JSON while the status line is still ours, bare termination once
// bytes have been streamed. No AI row is written either way.
func (h *ChatHandler) handleStreamError(c *gin.Context, span trace.Span, writer *streamWriter, streamErr error, conversationID string) {
	span.RecordError(streamErr)
	span.SetStatus(codes.Error, "generation failed")

	clientGone := c.Request.Context().Err() != nil
	code := observability.ErrorCodeLLMError
	switch {
	case clientGone:
		code = observability.ErrorCodeInternal
		if m := observability.DefaultMetrics; m != nil {
			m.RecordClientDisconnect()
		}
	case errors.Is(streamErr, context.DeadlineExceeded):
		code = observability.ErrorCodeTimeout
	}
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(observability.EndpointChatStream, code)
	}

	slog.Error("generation stream failed",
		"conversationId", conversationID,
		"clientGone", clientGone,
		"bytesStreamed", len(writer.Accumulated()),
		"error", streamErr,
	)

	if writer.WroteAny() || clientGone {
		return
	}
	if errors.Is(streamErr, context.DeadlineExceeded) {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "generation timed out"})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": sanitizeErrorForClient(streamErr.Error())})
}

// persistModelMessage writes the accumulated answer under a detached
// context. The client already has the text; a failure here only loses
// server-side history, so it logs and drops.
func (h *ChatHandler) persistModelMessage(conversationID, userID, replyTo, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	err := h.messages.Append(ctx, &datatypes.Message{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Role:           datatypes.RoleModel,
		Text:           text,
		ReplyTo:        replyTo,
	})
	if err != nil {
		slog.Error("failed to persist model message",
			"conversationId", conversationID,
			"error", err,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(observability.EndpointChatStream, observability.ErrorCodeStorage)
		}
	}
}

// imageURIs collects the data URIs of image attachments in input order.
func imageURIs(attachments []datatypes.Attachment) []string {
	var uris []string
	for i := range attachments {
		if attachments[i].IsImage() {
			uris = append(uris, attachments[i].Data)
		}
	}
	return uris
}

// sanitizeErrorForClient removes internal details from error messages.
// Provider errors can carry URLs, key fragments, and internal hostnames;
// clients get a generic message while the full error stays in the logs.
func sanitizeErrorForClient(errMsg string) string {
	slog.Debug("sanitizing error for client", "original_error", errMsg)
	return "an error occurred while generating the response"
}
