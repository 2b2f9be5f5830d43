// Package storage persists the session record and collaborator caches as
// string values under well-known keys.
package storage

import (
	"context"
	"errors"
)

// Keys written by the session manager. Wallet is owned by the wallet view and
// is only removed when the session is cleared.
const (
	KeyToken        = "token"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
	KeyWallet       = "wallet"
)

// SessionKeys are every key removed when a session ends.
var SessionKeys = []string{KeyToken, KeyRefreshToken, KeyUser, KeyWallet}

var ErrClosed = errors.New("storage closed")

// Batch is a set of writes applied atomically: readers observe either none or
// all of them.
type Batch struct {
	Set    map[string]string
	Delete []string
}

func (b Batch) Empty() bool {
	return len(b.Set) == 0 && len(b.Delete) == 0
}

// Store is implemented by memstore, filestore and redisstore.
type Store interface {
	// Load returns the values present for keys. Missing keys are absent from the map.
	Load(ctx context.Context, keys ...string) (map[string]string, error)
	Apply(ctx context.Context, b Batch) error
	Close() error
}

// Set writes a single key.
func Set(ctx context.Context, s Store, key, value string) error {
	return s.Apply(ctx, Batch{Set: map[string]string{key: value}})
}

// Get reads a single key.
func Get(ctx context.Context, s Store, key string) (string, bool, error) {
	values, err := s.Load(ctx, key)
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// Delete removes keys.
func Delete(ctx context.Context, s Store, keys ...string) error {
	return s.Apply(ctx, Batch{Delete: keys})
}
