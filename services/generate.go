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
	"strings"
	"time"

	"github.com/aeckhq/tutorchat/datatypes"
	"github.com/aeckhq/tutorchat/llm"
)

const (
	// generationMaxTokens caps one streamed answer.
	generationMaxTokens = 2000

	// DefaultGenerationTimeout bounds a single generation call. Upstream
	// hangs must not pin a connection open indefinitely.
	DefaultGenerationTimeout = 120 * time.Second
)

// GenerationInput is everything one streamed answer is built from.
type GenerationInput struct {
	// Mode selects the system persona.
	Mode string

	// Message is the user's text plus any extracted attachment blocks.
	Message string

	// Images are data URIs riding on the current turn.
	Images []string

	// Context is the refined retrieval output. May be empty.
	Context []datatypes.ContextItem

	// History is the compacted prior conversation. May be empty.
	History []datatypes.ModelTurn
}

// Generator runs streamed generation with a deadline. Zero Timeout means
// DefaultGenerationTimeout.
type Generator struct {
	Timeout time.Duration
}

// Stream builds the provider request and streams the answer through
// onChunk. The context handed to the provider carries the generation
// deadline, so client cancellation and upstream hangs both release the
// call.
func (g *Generator) Stream(ctx context.Context, client llm.Client, in GenerationInput, onChunk llm.StreamCallback) error {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return client.GenerateStream(ctx, BuildStreamRequest(in), onChunk)
}

// BuildStreamRequest assembles the system prompt, history, and the current
// turn (context block + message text + inline images) into one provider
// request.
func BuildStreamRequest(in GenerationInput) llm.StreamRequest {
	text := in.Message
	if block := FormatContextBlock(in.Context); block != "" {
		text = block + "\n\n" + text
	}

	parts := []datatypes.TurnPart{{Text: text}}
	for _, img := range in.Images {
		parts = append(parts, datatypes.TurnPart{ImageURI: img})
	}

	turns := make([]datatypes.ModelTurn, 0, len(in.History)+1)
	turns = append(turns, in.History...)
	turns = append(turns, datatypes.ModelTurn{Role: datatypes.RoleUser, Parts: parts})

	maxTokens := generationMaxTokens
	return llm.StreamRequest{
		SystemPrompt: llm.SystemPromptForMode(in.Mode),
		Turns:        turns,
		Params:       llm.GenerationParams{MaxTokens: &maxTokens},
	}
}

// FormatContextBlock serializes retrieved context into a reference block.
// Each item carries a source tag the personas instruct the model to cite.
// Empty input yields an empty string.
func FormatContextBlock(items []datatypes.ContextItem) string {
	if len(items) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Reference questions from the exam archive:\n")
	for _, item := range items {
		sb.WriteString(fmt.Sprintf("\n[Source: ExamID=%s, QuestionID=%s] %s\n%s",
			item.ExamID, item.QuestionID, item.ExamTitle, item.Text))
		if item.Answer != "" {
			sb.WriteString("\nAnswer: " + item.Answer)
		}
		if item.Explanation != "" {
			sb.WriteString("\nExplanation: " + item.Explanation)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
