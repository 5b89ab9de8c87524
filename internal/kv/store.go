// Package kv is the key-value persistence layer shared by the growth
// components. Values are opaque strings; Repo adds JSON encoding at the
// boundary so callers work with typed values.
package kv

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the key has no value.
	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded is returned by Set when a bounded store is full.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// Store defines the key-value operations every backend provides.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error

	// List returns every key starting with prefix and its value. Keys
	// keep the prefix.
	List(ctx context.Context, prefix string) (map[string]string, error)

	// Lifecycle
	Close() error
}

// Scope returns a view of s that prefixes every key with prefix and ":".
// Closing the view does not close s.
func Scope(s Store, prefix string) Store {
	return &scoped{store: s, prefix: prefix + ":"}
}

// ProfileScope is the scope that lives as long as the subject does.
func ProfileScope(s Store, subjectID string) Store {
	return Scope(s, "profile:"+subjectID)
}

// SessionScope is the scope of a single visit.
func SessionScope(s Store, sessionID string) Store {
	return Scope(s, "session:"+sessionID)
}

type scoped struct {
	store  Store
	prefix string
}

func (s *scoped) Get(ctx context.Context, key string) (string, error) {
	return s.store.Get(ctx, s.prefix+key)
}

func (s *scoped) Set(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, s.prefix+key, value)
}

func (s *scoped) Remove(ctx context.Context, key string) error {
	return s.store.Remove(ctx, s.prefix+key)
}

func (s *scoped) List(ctx context.Context, prefix string) (map[string]string, error) {
	all, err := s.store.List(ctx, s.prefix+prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(all))
	for k, v := range all {
		out[strings.TrimPrefix(k, s.prefix)] = v
	}
	return out, nil
}

func (s *scoped) Close() error { return nil }
