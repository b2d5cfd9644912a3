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

	"github.com/aeckhq/tutorchat/llm"
)

// fakeLLM is a configurable llm.Client for pipeline tests.
type fakeLLM struct {
	embedVec  []float32
	embedErr  error
	shortText string
	shortErr  error
	chunks    []string
	streamErr error

	shortPrompts []string
}

var _ llm.Client = (*fakeLLM)(nil)

func (f *fakeLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	if f.embedVec == nil {
		return []float32{0.1, 0.2, 0.3}, nil
	}
	return f.embedVec, nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, req llm.StreamRequest, onChunk llm.StreamCallback) error {
	if f.streamErr != nil {
		return f.streamErr
	}
	for _, chunk := range f.chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeLLM) GenerateShort(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.shortPrompts = append(f.shortPrompts, prompt)
	if f.shortErr != nil {
		return "", f.shortErr
	}
	return f.shortText, nil
}

var errFakeUpstream = errors.New("upstream unavailable")
