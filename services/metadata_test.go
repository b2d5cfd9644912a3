// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"testing"
	"time"

	"github.com/aeckhq/tutorchat/datatypes"
	"github.com/aeckhq/tutorchat/storage"
)

func newMetadataManager(t *testing.T) (*MetadataManager, storage.ConversationStore) {
	t.Helper()
	db, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := storage.NewConversationStore(db)
	m := NewMetadataManager(store)
	m.now = func() time.Time { return time.UnixMilli(5000) }
	return m, store
}

func TestFinalize_NewConversationGetsGeneratedTitle(t *testing.T) {
	m, store := newMetadataManager(t)

	m.Finalize("conv-1", "user-1", "help me with quadratic equations", true,
		&fakeLLM{shortText: "Quadratic Equation Help"})

	conv, err := store.Get(context.Background(), "user-1", "conv-1")
	if err != nil {
		t.Fatalf("expected conversation row, got %v", err)
	}
	if conv.Title != "Quadratic Equation Help" {
		t.Errorf("expected generated title, got %q", conv.Title)
	}
	if conv.CreatedAt != 5000 || conv.UpdatedAt != 5000 {
		t.Errorf("expected timestamps stamped from clock, got created=%d updated=%d", conv.CreatedAt, conv.UpdatedAt)
	}
}

func TestFinalize_TitleFailureFallsBackToDefault(t *testing.T) {
	m, store := newMetadataManager(t)

	m.Finalize("conv-1", "user-1", "hello", true, &fakeLLM{shortErr: errFakeUpstream})

	conv, err := store.Get(context.Background(), "user-1", "conv-1")
	if err != nil {
		t.Fatalf("expected conversation row, got %v", err)
	}
	if conv.Title != datatypes.DefaultConversationTitle {
		t.Errorf("expected default title, got %q", conv.Title)
	}
}

func TestFinalize_ExistingConversationBumpsUpdatedAt(t *testing.T) {
	m, store := newMetadataManager(t)
	err := store.Put(context.Background(), &datatypes.Conversation{
		ID: "conv-1", UserID: "user-1", Title: "Old Title",
		CreatedAt: 1000, UpdatedAt: 1000,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	m.Finalize("conv-1", "user-1", "follow-up message", false, &fakeLLM{})

	conv, err := store.Get(context.Background(), "user-1", "conv-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if conv.Title != "Old Title" {
		t.Errorf("existing title must not change, got %q", conv.Title)
	}
	if conv.UpdatedAt != 5000 {
		t.Errorf("expected UpdatedAt bumped to 5000, got %d", conv.UpdatedAt)
	}
	if conv.CreatedAt != 1000 {
		t.Errorf("CreatedAt must not change, got %d", conv.CreatedAt)
	}
}

func TestFinalize_MissingRowIsRepaired(t *testing.T) {
	m, store := newMetadataManager(t)

	m.Finalize("conv-1", "user-1", "orphaned turn", false, &fakeLLM{})

	conv, err := store.Get(context.Background(), "user-1", "conv-1")
	if err != nil {
		t.Fatalf("expected repaired row, got %v", err)
	}
	if conv.Title != datatypes.DefaultConversationTitle {
		t.Errorf("repaired row should carry the default title, got %q", conv.Title)
	}
}

func TestGenerateTitle_TrimsQuotes(t *testing.T) {
	m, _ := newMetadataManager(t)

	got := m.generateTitle(context.Background(), "hi", &fakeLLM{shortText: `"Algebra Basics"`})
	if got != "Algebra Basics" {
		t.Errorf("expected quotes stripped, got %q", got)
	}

	got = m.generateTitle(context.Background(), "hi", &fakeLLM{shortText: "   "})
	if got != datatypes.DefaultConversationTitle {
		t.Errorf("blank title should fall back to default, got %q", got)
	}
}
