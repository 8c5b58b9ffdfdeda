package store

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by Get when key holds no value.
	ErrNotFound = errors.New("store: key not found")
	// ErrUnavailable wraps backend failures other than a missing key.
	ErrUnavailable = errors.New("store: unavailable")
	// ErrInvalidKey is returned for empty or whitespace-only keys.
	ErrInvalidKey = errors.New("store: invalid key")
)

// Store is the secure key-value persistence the guard reads and writes tokens
// through. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}

// BatchDeleter is implemented by stores that can remove several keys in one
// atomic operation.
type BatchDeleter interface {
	DeleteAll(ctx context.Context, keys ...string) error
}

// DeleteAll removes keys from s, atomically when s implements BatchDeleter.
// Otherwise every key is attempted and the first error is returned.
func DeleteAll(ctx context.Context, s Store, keys ...string) error {
	if bd, ok := s.(BatchDeleter); ok {
		return bd.DeleteAll(ctx, keys...)
	}

	var firstErr error
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
