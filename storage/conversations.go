// Copyright (C) 2026 Aeck HQ
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/aeckhq/tutorchat/datatypes"
)

// ConversationUpdate carries the PATCHable conversation fields. Nil means
// "leave unchanged".
type ConversationUpdate struct {
	Title      *string
	IsPinned   *bool
	IsArchived *bool
	UpdatedAt  int64
}

// ConversationStore persists per-conversation metadata.
type ConversationStore interface {
	// Get returns the conversation or ErrNotFound.
	Get(ctx context.Context, userID, convID string) (*datatypes.Conversation, error)

	// Put inserts or replaces a conversation row.
	Put(ctx context.Context, conv *datatypes.Conversation) error

	// List returns the user's conversations, most recently updated first.
	List(ctx context.Context, userID string) ([]datatypes.Conversation, error)

	// Update applies the non-nil fields and stamps UpdatedAt.
	// Returns ErrNotFound for a missing row.
	Update(ctx context.Context, userID, convID string, upd ConversationUpdate) (*datatypes.Conversation, error)

	// DeleteCascade removes the conversation row, its messages, and its
	// sequence counter in one transaction. Deleting a conversation that
	// does not exist is not an error; stray messages may outlive a lost
	// metadata row and still need cleanup.
	DeleteCascade(ctx context.Context, userID, convID string) error
}

type conversationStore struct {
	db *DB
}

var _ ConversationStore = (*conversationStore)(nil)

// NewConversationStore creates a ConversationStore backed by db.
func NewConversationStore(db *DB) ConversationStore {
	return &conversationStore{db: db}
}

func (s *conversationStore) Get(ctx context.Context, userID, convID string) (*datatypes.Conversation, error) {
	var conv datatypes.Conversation
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(conversationKey(userID, convID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get conversation: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &conv)
		})
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *conversationStore) Put(ctx context.Context, conv *datatypes.Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(conversationKey(conv.UserID, conv.ID), raw)
	})
}

func (s *conversationStore) List(ctx context.Context, userID string) ([]datatypes.Conversation, error) {
	var out []datatypes.Conversation
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = conversationPrefix(userID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var conv datatypes.Conversation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &conv)
			}); err != nil {
				return fmt.Errorf("decode conversation: %w", err)
			}
			out = append(out, conv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt > out[j].UpdatedAt
	})
	return out, nil
}

func (s *conversationStore) Update(ctx context.Context, userID, convID string, upd ConversationUpdate) (*datatypes.Conversation, error) {
	var conv datatypes.Conversation
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(conversationKey(userID, convID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get conversation: %w", err)
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &conv)
		}); err != nil {
			return err
		}

		if upd.Title != nil {
			conv.Title = *upd.Title
		}
		if upd.IsPinned != nil {
			conv.IsPinned = *upd.IsPinned
		}
		if upd.IsArchived != nil {
			conv.IsArchived = *upd.IsArchived
		}
		conv.UpdatedAt = upd.UpdatedAt

		raw, err := json.Marshal(&conv)
		if err != nil {
			return fmt.Errorf("marshal conversation: %w", err)
		}
		return txn.Set(conversationKey(userID, convID), raw)
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *conversationStore) DeleteCascade(ctx context.Context, userID, convID string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		// Collect message keys inside the same transaction so the row
		// delete and the message deletes commit or fail together.
		var keys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.Prefix = messagePrefix(userID, convID)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete message %s: %w", key, err)
			}
		}
		if err := txn.Delete(seqKey(userID, convID)); err != nil {
			return fmt.Errorf("delete sequence counter: %w", err)
		}
		if err := txn.Delete(conversationKey(userID, convID)); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		return nil
	})
}
