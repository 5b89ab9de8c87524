package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Repo stores a single JSON-encoded value of type T under a fixed key.
type Repo[T any] struct {
	store Store
	key   string
}

// NewRepo returns a repository for key in s.
func NewRepo[T any](s Store, key string) Repo[T] {
	return Repo[T]{store: s, key: key}
}

// Key returns the key the repository writes to.
func (r Repo[T]) Key() string {
	return r.key
}

// Load decodes the stored value. The boolean is false when nothing is
// stored; a value that fails to decode is reported as an error.
func (r Repo[T]) Load(ctx context.Context) (T, bool, error) {
	var v T
	raw, err := r.store.Get(ctx, r.key)
	if errors.Is(err, ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("failed to read %s: %w", r.key, err)
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, false, fmt.Errorf("failed to decode %s: %w", r.key, err)
	}
	return v, true, nil
}

// Save encodes and writes v.
func (r Repo[T]) Save(ctx context.Context, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", r.key, err)
	}
	if err := r.store.Set(ctx, r.key, string(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", r.key, err)
	}
	return nil
}

// Delete removes the stored value.
func (r Repo[T]) Delete(ctx context.Context) error {
	if err := r.store.Remove(ctx, r.key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", r.key, err)
	}
	return nil
}
