// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Storage models. These are what the badger stores persist; JSON tags match
// what the HTTP API returns so handlers can serialize them directly.

// Message roles. The assistant role is "model", matching the turn shape the
// provider layer expects.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one stored chat message.
//
// # Fields
//
//   - ID: UUID v4.
//   - Seq: Monotonic per-conversation sequence number. Storage keys embed it
//     so iteration order is chronological; it never goes over the wire as an
//     ordering contract, CreatedAt does.
//   - ReplyTo: For model messages, the ID of the user message this answers.
//   - Images: Data URIs of inline images on a user message.
type Message struct {
	ID             string   `json:"id"`
	UserID         string   `json:"userId"`
	ConversationID string   `json:"conversationId"`
	Seq            uint64   `json:"-"`
	Role           string   `json:"role"`
	Text           string   `json:"text"`
	Images         []string `json:"images,omitempty"`
	ReplyTo        string   `json:"replyTo,omitempty"`
	CreatedAt      int64    `json:"createdAt"`
}

// Conversation is the per-conversation metadata row.
type Conversation struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	Title      string `json:"title"`
	IsPinned   bool   `json:"isPinned"`
	IsArchived bool   `json:"isArchived"`
	CreatedAt  int64  `json:"createdAt"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// DefaultConversationTitle is used when title generation fails or returns
// nothing usable.
const DefaultConversationTitle = "New conversation"

// Session is an authenticated user session. Sessions are created by the
// external login service; this service only validates and expires them.
// The identity fields (Username through IPAddress) are written by that
// service and carried untouched so the row round-trips losslessly.
type Session struct {
	Token        string `json:"token"`
	UserID       string `json:"userId"`
	Username     string `json:"username,omitempty"`
	FullName     string `json:"fullName,omitempty"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role,omitempty"`
	IPAddress    string `json:"ipAddress,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
	ExpiresAt    int64  `json:"expiresAt"`
	LastActivity int64  `json:"lastActivity"`
}

// ModelTurn is one turn in provider wire shape: a role plus ordered parts.
// The compactor emits these and the provider layer maps them onto the
// multi-part chat message format.
type ModelTurn struct {
	Role  string     `json:"role"`
	Parts []TurnPart `json:"parts"`
}

// TurnPart is either a text fragment or an inline image (data URI).
// Exactly one field is set.
type TurnPart struct {
	Text     string `json:"text,omitempty"`
	ImageURI string `json:"imageUri,omitempty"`
}

// TextTurn builds a single-part text turn.
func TextTurn(role, text string) ModelTurn {
	return ModelTurn{Role: role, Parts: []TurnPart{{Text: text}}}
}
