// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm abstracts the model provider behind a small interface so
// handlers and services never touch provider SDK types directly.
package llm

import (
	"context"

	"github.com/aeckhq/tutorchat/datatypes"
)

// GenerationParams tunes a generation call. Nil fields use provider defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamCallback receives one chunk of streamed output. Returning an error
// aborts the stream and surfaces from GenerateStream.
type StreamCallback func(chunk string) error

// StreamRequest is one streaming generation call: a system instruction plus
// the full turn sequence ending with the current user turn.
type StreamRequest struct {
	SystemPrompt string
	Turns        []datatypes.ModelTurn
	Params       GenerationParams
}

// Client is the provider interface for chat generation and embeddings.
//
// Implementations are constructed per request because the API key arrives
// with the request (x-user-api-key), not from service configuration.
type Client interface {
	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// GenerateStream streams a completion, invoking onChunk for every
	// piece of output in order. It returns once the stream is drained or
	// the context/callback aborts it.
	GenerateStream(ctx context.Context, req StreamRequest, onChunk StreamCallback) error

	// GenerateShort runs a small non-streamed completion, for titles and
	// history summaries.
	GenerateShort(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Factory builds a Client from a caller-supplied API key. The chat handler
// holds a Factory so tests can substitute a fake provider.
type Factory func(apiKey string) (Client, error)
