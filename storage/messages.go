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
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/aeckhq/tutorchat/datatypes"
)

// maxTxnRetries bounds optimistic-concurrency retries on Append. Two
// requests appending to the same conversation conflict on the sequence
// counter; retrying re-reads it.
const maxTxnRetries = 5

// MessageStore persists chat messages per conversation.
type MessageStore interface {
	// Append assigns the next sequence number and writes the message.
	// CreatedAt is stamped if zero.
	Append(ctx context.Context, msg *datatypes.Message) error

	// ListRecent returns up to limit of the newest messages in the
	// conversation, oldest first.
	ListRecent(ctx context.Context, userID, convID string, limit int) ([]datatypes.Message, error)

	// ListConversation returns every message in the conversation, oldest
	// first.
	ListConversation(ctx context.Context, userID, convID string) ([]datatypes.Message, error)

	// ListAll returns every message for the user across conversations,
	// ascending by creation time.
	ListAll(ctx context.Context, userID string) ([]datatypes.Message, error)
}

type messageStore struct {
	db *DB
}

var _ MessageStore = (*messageStore)(nil)

// NewMessageStore creates a MessageStore backed by db.
func NewMessageStore(db *DB) MessageStore {
	return &messageStore{db: db}
}

func (s *messageStore) Append(ctx context.Context, msg *datatypes.Message) error {
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}

	var lastErr error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			seq, err := nextSeq(txn, msg.UserID, msg.ConversationID)
			if err != nil {
				return err
			}
			msg.Seq = seq

			raw, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("marshal message: %w", err)
			}
			return txn.Set(messageKey(msg.UserID, msg.ConversationID, seq), raw)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		slog.Debug("message append conflict, retrying", "attempt", attempt+1)
	}
	return fmt.Errorf("append message after %d attempts: %w", maxTxnRetries, lastErr)
}

// nextSeq reads, increments, and writes the per-conversation counter inside
// the caller's transaction, so the counter bump and the message write commit
// together.
func nextSeq(txn *badger.Txn, userID, convID string) (uint64, error) {
	key := seqKey(userID, convID)

	var current uint64
	item, err := txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		current = 0
	case err != nil:
		return 0, fmt.Errorf("read sequence counter: %w", err)
	default:
		if verr := item.Value(func(val []byte) error {
			parsed, perr := strconv.ParseUint(string(val), 10, 64)
			if perr != nil {
				return perr
			}
			current = parsed
			return nil
		}); verr != nil {
			return 0, fmt.Errorf("decode sequence counter: %w", verr)
		}
	}

	next := current + 1
	if err := txn.Set(key, []byte(strconv.FormatUint(next, 10))); err != nil {
		return 0, fmt.Errorf("write sequence counter: %w", err)
	}
	return next, nil
}

func (s *messageStore) ListRecent(ctx context.Context, userID, convID string, limit int) ([]datatypes.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	var collected []datatypes.Message
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := messagePrefix(userID, convID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts past the end of the prefix range.
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.Valid() && len(collected) < limit; it.Next() {
			var msg datatypes.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			collected = append(collected, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Newest-first from the reverse scan; flip to oldest-first.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected, nil
}

func (s *messageStore) ListConversation(ctx context.Context, userID, convID string) ([]datatypes.Message, error) {
	var out []datatypes.Message
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = messagePrefix(userID, convID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var msg datatypes.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			out = append(out, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *messageStore) ListAll(ctx context.Context, userID string) ([]datatypes.Message, error) {
	var out []datatypes.Message
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = userMessagePrefix(userID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var msg datatypes.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			out = append(out, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Keys interleave conversations; the cross-conversation contract is
	// creation time.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out, nil
}
