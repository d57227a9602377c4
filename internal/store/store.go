// Package store is the hierarchical key-value collaborator every game
// component talks to. Values are JSON documents addressed by slash-separated
// paths; the only atomic primitive is a single-path optimistic transaction.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// maxTxAttempts bounds optimistic retries before a transaction gives up.
const maxTxAttempts = 25

var (
	// ErrContention is returned when a transaction kept conflicting with
	// concurrent writers on the same path and never committed.
	ErrContention = errors.New("store: transaction did not commit")
	// ErrInvalidPath rejects empty or malformed paths.
	ErrInvalidPath = errors.New("store: invalid path")
)

// TxFunc receives the current value at a path (nil when absent) and returns
// the value to commit. Returning a nil value deletes the path. Returning an
// error aborts without writing; the error is handed back to the caller.
// A TxFunc may run several times and must not have side effects.
type TxFunc func(current []byte) ([]byte, error)

// Entry is one child of an ordered collection built with Push.
type Entry struct {
	Key   string
	Value []byte
}

// Store is the narrow interface the game logic needs from the hosted store.
type Store interface {
	// Get returns nil, nil when nothing is stored at path.
	Get(ctx context.Context, path string) ([]byte, error)
	Set(ctx context.Context, path string, value []byte) error
	// Update shallow-merges fields into the JSON object at path. A nil field
	// value removes that field.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Remove deletes every path given, including Push collections.
	Remove(ctx context.Context, paths ...string) error
	// Push appends to the ordered collection at path and returns the
	// generated key. Keys sort in insertion order.
	Push(ctx context.Context, path string, value []byte) (string, error)
	// Children returns the entries of a Push collection in insertion order.
	Children(ctx context.Context, path string) ([]Entry, error)
	Transaction(ctx context.Context, path string, fn TxFunc) error
	// Keys lists stored paths that start with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Clean normalises a path: trims whitespace and surrounding slashes.
func Clean(path string) (string, error) {
	p := strings.Trim(strings.TrimSpace(path), "/")
	if p == "" || strings.Contains(p, "//") {
		return "", ErrInvalidPath
	}
	return p, nil
}

// GetJSON decodes the value at path into dst and reports whether it existed.
func GetJSON(ctx context.Context, s Store, path string, dst any) (bool, error) {
	raw, err := s.Get(ctx, path)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON encodes v and stores it at path.
func SetJSON(ctx context.Context, s Store, path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, path, raw)
}

func mergeFields(current []byte, fields map[string]any) ([]byte, error) {
	obj := make(map[string]json.RawMessage)
	if len(current) > 0 {
		if err := json.Unmarshal(current, &obj); err != nil {
			return nil, err
		}
	}
	for k, v := range fields {
		if v == nil {
			delete(obj, k)
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		obj[k] = raw
	}
	if len(obj) == 0 {
		return nil, nil
	}
	return json.Marshal(obj)
}
