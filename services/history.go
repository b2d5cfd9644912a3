// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aeckhq/tutorchat/datatypes"
	"github.com/aeckhq/tutorchat/llm"
	"github.com/aeckhq/tutorchat/storage"
)

const (
	// historyWindow is how many stored messages the compactor considers.
	historyWindow = 20

	// verbatimTail is how many recent messages survive compaction
	// unchanged. Anything older gets summarized.
	verbatimTail = 10

	// summaryMaxTokens caps the summarization call.
	summaryMaxTokens = 500

	// summaryUnavailable stands in when summarization fails. The model
	// still sees that older context existed.
	summaryUnavailable = "Content unavailable."
)

// HistoryCompactor rebuilds the model-facing conversation history from
// stored messages.
//
// # Description
//
// History always comes from the store, never from the client: a tampered
// request body cannot inject turns the user never sent. The last
// historyWindow messages are loaded oldest-first. A short conversation maps
// directly to turns; a longer one gets its older prefix condensed into a
// summary exchange, followed by the last verbatimTail messages unchanged.
type HistoryCompactor struct {
	messages storage.MessageStore
}

// NewHistoryCompactor creates a compactor over the message store.
func NewHistoryCompactor(messages storage.MessageStore) *HistoryCompactor {
	return &HistoryCompactor{messages: messages}
}

// BuildHistory returns the provider-ready turn sequence for a conversation.
// The llm client is used only for summarization and only when the window
// overflows.
func (h *HistoryCompactor) BuildHistory(ctx context.Context, userID, conversationID string, client llm.Client) ([]datatypes.ModelTurn, error) {
	msgs, err := h.messages.ListRecent(ctx, userID, conversationID, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	if len(msgs) <= verbatimTail {
		return messagesToTurns(msgs), nil
	}

	older := msgs[:len(msgs)-verbatimTail]
	tail := msgs[len(msgs)-verbatimTail:]

	summary := h.summarize(ctx, older, client)

	turns := make([]datatypes.ModelTurn, 0, len(tail)+2)
	turns = append(turns,
		datatypes.TextTurn(datatypes.RoleUser, "Previous conversation summary: "+summary),
		datatypes.TextTurn(datatypes.RoleModel, "Understood. I have the context from our earlier discussion. Let's continue."),
	)
	turns = append(turns, messagesToTurns(tail)...)
	return turns, nil
}

// summarize condenses older messages into a short summary. Failure yields
// the placeholder rather than an error; a degraded history beats a failed
// request.
func (h *HistoryCompactor) summarize(ctx context.Context, older []datatypes.Message, client llm.Client) string {
	var sb strings.Builder
	for _, msg := range older {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Text)
		sb.WriteString("\n")
	}

	summary, err := client.GenerateShort(ctx, llm.SummaryPrompt(sb.String()), summaryMaxTokens)
	if err != nil {
		slog.Warn("history summarization failed, using placeholder", "error", err)
		return summaryUnavailable
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return summaryUnavailable
	}
	return summary
}

// messagesToTurns maps stored messages onto provider turns. Images on a
// user message become inline parts after the text.
func messagesToTurns(msgs []datatypes.Message) []datatypes.ModelTurn {
	turns := make([]datatypes.ModelTurn, 0, len(msgs))
	for _, msg := range msgs {
		parts := []datatypes.TurnPart{{Text: msg.Text}}
		for _, img := range msg.Images {
			parts = append(parts, datatypes.TurnPart{ImageURI: img})
		}
		turns = append(turns, datatypes.ModelTurn{Role: msg.Role, Parts: parts})
	}
	return turns
}
