// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the tutorchat service.
//
// This file contains the request and response types for the streaming chat
// endpoint. Conversation and message storage models live in models.go, and
// retrieval types in rag.go.
package datatypes

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single chat message.
	// Byte length, not rune count, so oversized multi-byte payloads are
	// rejected too.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxAttachmentsPerRequest bounds the attachment list on one request.
	MaxAttachmentsPerRequest = 8

	// MaxAttachmentBytes is the maximum decoded size of a single attachment.
	MaxAttachmentBytes = 8 * 1024 * 1024 // 8MB
)

// Tutoring modes accepted by the chat endpoint. Each maps to its own
// system persona, see llm/prompts.go.
const (
	ModeGeneral = "general"
	ModeMath    = "math"
	ModeReading = "reading"
	ModeScience = "science"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = chatValidate.RegisterValidation("datauri", validateDataURI)
	_ = chatValidate.RegisterValidation("convid", validateConversationID)
}

// conversationIDPattern bounds client-supplied conversation ids. Ids are
// opaque strings (server-minted UUIDs, or whatever an older client carried
// over, hex object ids included), but they embed into storage keys, so the
// separator characters and unbounded lengths are rejected.
var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func validateConversationID(fl validator.FieldLevel) bool {
	return conversationIDPattern.MatchString(fl.Field().String())
}

// validateMaxBytes checks that a string field does not exceed
// MaxMessageContentBytes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// validateDataURI checks that a string field looks like a base64 data URI
// ("data:<mime>;base64,<payload>"). Payload decoding is deferred to the
// attachment extractor; this only rejects obviously malformed values early.
func validateDataURI(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if !strings.HasPrefix(s, "data:") {
		return false
	}
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return false
	}
	return strings.HasSuffix(s[:comma], ";base64")
}

// =============================================================================
// Chat Request Types
// =============================================================================

// Attachment is a client-supplied file or image riding on a chat request.
//
// # Fields
//
//   - Name: Original filename, display only.
//   - MimeType: Declared MIME type (e.g. "application/pdf", "image/png").
//     The data URI prefix is authoritative if the two disagree.
//   - Data: Base64 data URI carrying the raw bytes.
type Attachment struct {
	Name     string `json:"name" validate:"required,max=255"`
	MimeType string `json:"mimeType" validate:"required,max=128"`
	Data     string `json:"data" validate:"required,datauri"`
}

// IsImage reports whether the attachment should be sent to the model as an
// inline image rather than extracted as text.
func (a *Attachment) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

// ChatRequest is the body of POST /api/chat.
//
// # Description
//
// Carries one user turn: the message text, an optional conversation to
// continue, the tutoring mode, and any attachments. History is NOT taken
// from the client; the server rebuilds it from stored messages so a
// tampered client cannot inject fake turns.
//
// # Fields
//
//   - Message: Required, non-blank after trimming, max 32KB. Attachments
//     alone do not satisfy the requirement.
//   - ConversationID: Optional. Empty means "start a new conversation";
//     the server generates the ID and returns it in X-Conversation-Id.
//     Non-empty ids are opaque: any id of up to 64 url-safe characters is
//     accepted, so older clients with non-UUID ids keep working.
//   - Mode: Tutoring persona. Defaults to "general".
//   - Attachments: Optional files/images, each a base64 data URI.
//   - Images: Legacy field, bare data URIs. Folded into Attachments by
//     EnsureDefaults; kept for older clients.
//   - History: Accepted for wire compatibility and ignored. See above.
type ChatRequest struct {
	Message        string       `json:"message" validate:"required,maxbytes"`
	ConversationID string       `json:"conversationId" validate:"omitempty,convid"`
	Mode           string       `json:"mode" validate:"omitempty,oneof=general math reading science"`
	Attachments    []Attachment `json:"attachments" validate:"omitempty,max=8,dive"`
	Images         []string     `json:"images" validate:"omitempty,max=8,dive,datauri"`
	History        []ModelTurn  `json:"history,omitempty"`
}

// Validate validates the ChatRequest after binding.
//
// Blank-after-trim messages are rejected here rather than with a validator
// tag because "required" alone admits all-whitespace strings.
func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("message must not be empty")
	}
	return chatValidate.Struct(r)
}

// EnsureDefaults fills the mode default and folds legacy bare-image data
// URIs into the attachment list. Call after binding, before Validate.
func (r *ChatRequest) EnsureDefaults() {
	if r.Mode == "" {
		r.Mode = ModeGeneral
	}
	for i, uri := range r.Images {
		r.Attachments = append(r.Attachments, Attachment{
			Name:     fmt.Sprintf("image-%d", i+1),
			MimeType: mimeFromDataURI(uri),
			Data:     uri,
		})
	}
	r.Images = nil
}

// mimeFromDataURI pulls the MIME type out of "data:<mime>;base64,...".
// Returns application/octet-stream for anything it cannot parse.
func mimeFromDataURI(uri string) string {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "application/octet-stream"
	}
	semi := strings.IndexByte(rest, ';')
	if semi <= 0 {
		return "application/octet-stream"
	}
	return rest[:semi]
}

// ErrorResponse is the JSON error body used before streaming starts.
type ErrorResponse struct {
	Error string `json:"error"`
}
