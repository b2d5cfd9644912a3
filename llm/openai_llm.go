// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/aeckhq/tutorchat/datatypes"
)

// OpenAIClient implements Client against an OpenAI-compatible API.
type OpenAIClient struct {
	client     *openai.Client
	genModel   string
	embedModel string
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client bound to the given API key. The key comes
// from the request, so a client is cheap to construct and never cached.
func NewOpenAIClient(apiKey, genModel, embedModel string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("API key must not be empty")
	}
	if genModel == "" {
		genModel = openai.GPT4oMini
		slog.Warn("generation model not set, defaulting", "model", genModel)
	}
	if embedModel == "" {
		embedModel = string(openai.SmallEmbedding3)
	}
	return &OpenAIClient{
		client:     openai.NewClient(apiKey),
		genModel:   genModel,
		embedModel: embedModel,
	}, nil
}

// NewFactory returns a Factory producing OpenAI clients with the given
// models.
func NewFactory(genModel, embedModel string) Factory {
	return func(apiKey string) (Client, error) {
		return NewOpenAIClient(apiKey, genModel, embedModel)
	}
}

func (o *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response contained no data")
	}
	return resp.Data[0].Embedding, nil
}

func (o *OpenAIClient) GenerateStream(ctx context.Context, req StreamRequest, onChunk StreamCallback) error {
	apiReq := openai.ChatCompletionRequest{
		Model:    o.genModel,
		Messages: toChatMessages(req.SystemPrompt, req.Turns),
		Stream:   true,
	}
	applyParams(&apiReq, req.Params)

	stream, err := o.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return fmt.Errorf("failed to open completion stream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream receive failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := onChunk(delta); err != nil {
			return err
		}
	}
}

func (o *OpenAIClient) GenerateShort(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.genModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if maxTokens > 0 {
		req.MaxCompletionTokens = maxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// applyParams maps optional generation parameters onto the API request.
func applyParams(req *openai.ChatCompletionRequest, params GenerationParams) {
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
}

// toChatMessages converts provider-neutral turns to the wire format. Turns
// that are pure text use the plain Content field; turns carrying images use
// multi-part content with data-URI image parts.
func toChatMessages(systemPrompt string, turns []datatypes.ModelTurn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, turn := range turns {
		role := openai.ChatMessageRoleUser
		if turn.Role == datatypes.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}

		if hasImageParts(turn) {
			parts := make([]openai.ChatMessagePart, 0, len(turn.Parts))
			for _, p := range turn.Parts {
				if p.ImageURI != "" {
					parts = append(parts, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURI},
					})
				} else if p.Text != "" {
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: p.Text,
					})
				}
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:         role,
				MultiContent: parts,
			})
			continue
		}

		var text string
		for _, p := range turn.Parts {
			text += p.Text
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: text,
		})
	}
	return messages
}

func hasImageParts(turn datatypes.ModelTurn) bool {
	for _, p := range turn.Parts {
		if p.ImageURI != "" {
			return true
		}
	}
	return false
}
