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
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/aeckhq/tutorchat/datatypes"
)

// ErrSessionExpired is returned by Validate for a session past its expiry.
// The row is deleted on the way out.
var ErrSessionExpired = errors.New("storage: session expired")

// SessionStore reads and expires login sessions. Sessions are written by the
// external auth service through Put; this service never mints them.
type SessionStore interface {
	// Validate looks up a session by token and checks its expiry against
	// now. Expired sessions are lazily deleted and reported as
	// ErrSessionExpired; unknown tokens return ErrNotFound.
	Validate(ctx context.Context, token string, now time.Time) (*datatypes.Session, error)

	// Touch bumps LastActivity. Best-effort: callers ignore the error.
	Touch(ctx context.Context, token string, now time.Time) error

	// Put inserts or replaces a session row.
	Put(ctx context.Context, session *datatypes.Session) error

	// DeleteExpired removes every session with ExpiresAt before now and
	// returns how many were deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type sessionStore struct {
	db *DB
}

var _ SessionStore = (*sessionStore)(nil)

// NewSessionStore creates a SessionStore backed by db.
func NewSessionStore(db *DB) SessionStore {
	return &sessionStore{db: db}
}

func (s *sessionStore) Validate(ctx context.Context, token string, now time.Time) (*datatypes.Session, error) {
	var session datatypes.Session
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(token))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &session)
		})
	})
	if err != nil {
		return nil, err
	}

	if session.ExpiresAt <= now.UnixMilli() {
		// Lazy purge. Failure only logs; the caller still gets the
		// expired verdict.
		if derr := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			return txn.Delete(sessionKey(token))
		}); derr != nil {
			slog.Warn("failed to purge expired session", "error", derr)
		}
		return nil, ErrSessionExpired
	}

	return &session, nil
}

func (s *sessionStore) Touch(ctx context.Context, token string, now time.Time) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(token))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var session datatypes.Session
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &session)
		}); err != nil {
			return err
		}
		session.LastActivity = now.UnixMilli()
		raw, err := json.Marshal(&session)
		if err != nil {
			return err
		}
		return txn.Set(sessionKey(token), raw)
	})
}

func (s *sessionStore) Put(ctx context.Context, session *datatypes.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(sessionKey(session.Token), raw)
	})
}

func (s *sessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	nowMs := now.UnixMilli()

	// Collect first, then delete in a write transaction. The session
	// population is small enough that two passes beat holding a write
	// iterator open.
	var expired [][]byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("ses/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var session datatypes.Session
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &session)
			}); err != nil {
				slog.Warn("skipping undecodable session row", "error", err)
				continue
			}
			if session.ExpiresAt <= nowMs {
				expired = append(expired, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, key := range expired {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete session %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}
