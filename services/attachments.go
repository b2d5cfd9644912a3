// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/aeckhq/tutorchat/datatypes"
)

// FileParser extracts plain text from a decoded attachment. PDF and DOCX
// parsing is an external collaborator; the default handles text-like MIME
// types only.
type FileParser func(data []byte, mimeType, name string) (string, error)

// AttachmentExtractor turns non-image attachments into delimited text
// blocks appended to the user message.
//
// Extraction is best-effort: a failing attachment is logged and skipped,
// never failing the chat request. Images are skipped here entirely; they
// ride to the model as inline parts instead.
type AttachmentExtractor struct {
	parse FileParser
}

// NewAttachmentExtractor creates an extractor. A nil parser gets the
// built-in plain-text parser.
func NewAttachmentExtractor(parse FileParser) *AttachmentExtractor {
	if parse == nil {
		parse = ParsePlainText
	}
	return &AttachmentExtractor{parse: parse}
}

// Extract parses all non-image attachments concurrently and returns their
// text blocks joined in input order. An empty string means nothing was
// extracted.
func (e *AttachmentExtractor) Extract(ctx context.Context, attachments []datatypes.Attachment) string {
	if len(attachments) == 0 {
		return ""
	}

	blocks := make([]string, len(attachments))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, att := range attachments {
		if att.IsImage() {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return nil
			}
			text, err := e.extractOne(att)
			if err != nil {
				slog.Warn("skipping unparseable attachment",
					"name", att.Name,
					"mimeType", att.MimeType,
					"error", err,
				)
				return nil
			}
			blocks[i] = text
			return nil
		})
	}
	// Goroutines only log failures, the group never errors.
	_ = g.Wait()

	var sb strings.Builder
	for _, block := range blocks {
		if block == "" {
			continue
		}
		sb.WriteString(block)
	}
	return sb.String()
}

func (e *AttachmentExtractor) extractOne(att datatypes.Attachment) (string, error) {
	data, err := decodeDataURI(att.Data)
	if err != nil {
		return "", err
	}
	if len(data) > datatypes.MaxAttachmentBytes {
		return "", fmt.Errorf("attachment exceeds %d bytes", datatypes.MaxAttachmentBytes)
	}

	text, err := e.parse(data, att.MimeType, att.Name)
	if err != nil {
		return "", err
	}
	text = normalizeNewlines(strings.TrimSpace(text))
	if text == "" {
		return "", fmt.Errorf("no text content extracted")
	}

	return fmt.Sprintf("\n\n[System: user attached file %q]\n--- BEGIN FILE CONTENT ---\n%s\n--- END FILE CONTENT ---", att.Name, text), nil
}

// decodeDataURI strips the "data:<mime>;base64," prefix and decodes the
// payload.
func decodeDataURI(uri string) ([]byte, error) {
	comma := strings.IndexByte(uri, ',')
	if !strings.HasPrefix(uri, "data:") || comma < 0 {
		return nil, fmt.Errorf("malformed data URI")
	}
	data, err := base64.StdEncoding.DecodeString(uri[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("decode base64 payload: %w", err)
	}
	return data, nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// ParsePlainText is the default FileParser. It accepts text-like MIME
// types and rejects everything else.
func ParsePlainText(data []byte, mimeType, name string) (string, error) {
	switch {
	case strings.HasPrefix(mimeType, "text/"),
		mimeType == "application/json",
		mimeType == "application/xml",
		mimeType == "application/x-yaml":
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported MIME type %q", mimeType)
	}
}
