// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aeckhq/tutorchat/datatypes"
	"github.com/aeckhq/tutorchat/llm"
	"github.com/aeckhq/tutorchat/storage"
)

const (
	// titleMaxTokens caps the title generation call.
	titleMaxTokens = 20

	// finalizeTimeout bounds the detached finalization work. It runs on
	// context.Background() because the request context is done by the
	// time it starts.
	finalizeTimeout = 30 * time.Second
)

// MetadataManager maintains conversation rows after a chat turn completes.
//
// Finalization is fire-and-forget: it runs after the streamed response has
// closed, so there is no client left to report errors to. Failures log and
// drop; the next turn repairs what it can.
type MetadataManager struct {
	conversations storage.ConversationStore

	// now is injectable for tests.
	now func() time.Time
}

// NewMetadataManager creates a manager over the conversation store.
func NewMetadataManager(conversations storage.ConversationStore) *MetadataManager {
	return &MetadataManager{conversations: conversations, now: time.Now}
}

// Finalize updates conversation metadata for a completed turn. For a new
// conversation it generates a title from the first message and inserts the
// row; for an existing one it bumps UpdatedAt. Call in a goroutine after
// the response closes.
func (m *MetadataManager) Finalize(conversationID, userID, firstMessage string, isNew bool, client llm.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if isNew {
		m.createWithTitle(ctx, conversationID, userID, firstMessage, client)
		return
	}
	m.bumpUpdatedAt(ctx, conversationID, userID)
}

func (m *MetadataManager) createWithTitle(ctx context.Context, conversationID, userID, firstMessage string, client llm.Client) {
	title := m.generateTitle(ctx, firstMessage, client)
	nowMs := m.now().UnixMilli()

	err := m.conversations.Put(ctx, &datatypes.Conversation{
		ID:        conversationID,
		UserID:    userID,
		Title:     title,
		CreatedAt: nowMs,
		UpdatedAt: nowMs,
	})
	if err != nil {
		slog.Error("failed to create conversation metadata",
			"conversationId", conversationID,
			"error", err,
		)
	}
}

func (m *MetadataManager) bumpUpdatedAt(ctx context.Context, conversationID, userID string) {
	nowMs := m.now().UnixMilli()

	_, err := m.conversations.Update(ctx, userID, conversationID, storage.ConversationUpdate{
		UpdatedAt: nowMs,
	})
	if errors.Is(err, storage.ErrNotFound) {
		// The row can be missing if an earlier finalization failed after
		// messages were already persisted. Repair it with the default
		// title instead of leaving an orphaned conversation.
		slog.Warn("conversation row missing on update, repairing",
			"conversationId", conversationID,
		)
		err = m.conversations.Put(ctx, &datatypes.Conversation{
			ID:        conversationID,
			UserID:    userID,
			Title:     datatypes.DefaultConversationTitle,
			CreatedAt: nowMs,
			UpdatedAt: nowMs,
		})
	}
	if err != nil {
		slog.Error("failed to update conversation metadata",
			"conversationId", conversationID,
			"error", err,
		)
	}
}

// generateTitle asks the model for a 3-7 word title. Any failure falls
// back to the default title.
func (m *MetadataManager) generateTitle(ctx context.Context, firstMessage string, client llm.Client) string {
	title, err := client.GenerateShort(ctx, llm.TitlePrompt(firstMessage), titleMaxTokens)
	if err != nil {
		slog.Warn("title generation failed, using default", "error", err)
		return datatypes.DefaultConversationTitle
	}

	title = strings.TrimSpace(strings.Trim(strings.TrimSpace(title), `"'`))
	if title == "" {
		return datatypes.DefaultConversationTitle
	}
	return title
}
