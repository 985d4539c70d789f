// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package streamview

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// conversationPrefix namespaces conversation keys in the database.
const conversationPrefix = "conv/"

// ErrConversationNotFound reports a missing conversation id.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationStore persists conversation state in a local BadgerDB so
// a client survives restarts without refetching transcripts. Quota
// numbers cached here are hints only; the server's quota endpoint
// stays authoritative.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB serializes transactions.
type ConversationStore struct {
	db *badger.DB
}

// StoreConfig holds BadgerDB settings for the conversation cache.
type StoreConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory skips disk persistence. Used by tests.
	InMemory bool
	// Logger receives BadgerDB's internal logging; nil disables it.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenStore opens the conversation cache, creating the directory if it
// does not exist. Caller must Close.
func OpenStore(cfg StoreConfig) (*ConversationStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	return &ConversationStore{db: db}, nil
}

// Close releases the database.
func (s *ConversationStore) Close() error {
	return s.db.Close()
}

// Save writes one conversation's state, replacing any previous value.
func (s *ConversationStore) Save(conv Conversation) error {
	if conv.ID == "" {
		return errors.New("conversation id is empty")
	}
	payload, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conv.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(conversationPrefix+conv.ID), payload)
	})
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	return nil
}

// Load reads one conversation. Missing ids return
// ErrConversationNotFound.
func (s *ConversationStore) Load(conversationID string) (Conversation, error) {
	var conv Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(conversationPrefix + conversationID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrConversationNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &conv)
		})
	})
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return Conversation{}, err
		}
		return Conversation{}, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	return conv, nil
}

// Delete removes one conversation. Deleting a missing id is a no-op.
func (s *ConversationStore) Delete(conversationID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(conversationPrefix + conversationID))
	})
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	return nil
}

// List returns every stored conversation, unordered.
func (s *ConversationStore) List() ([]Conversation, error) {
	var out []Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(conversationPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var conv Conversation
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &conv)
			})
			if err != nil {
				return err
			}
			out = append(out, conv)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}
