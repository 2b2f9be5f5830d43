// Package token holds server-side token bookkeeping for the dev backend.
package token

import (
	"errors"
	"sync"
	"time"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

var ErrMissingTokenID = errors.New("token has no jti")

// purgeThreshold is the size past which Add sweeps expired entries.
const purgeThreshold = 1024

// RevokedTokenCache remembers access token IDs revoked by logout until they
// would have expired anyway.
type RevokedTokenCache interface {
	Add(jti string, exp time.Time) error
	IsRevoked(jti string) bool
	Cleanup()
}

var _ RevokedTokenCache = (*RevocationList)(nil)

// RevocationList is the in-memory RevokedTokenCache.
type RevocationList struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewRevocationList() *RevocationList {
	return &RevocationList{entries: make(map[string]time.Time)}
}

// Add revokes jti until exp. Tokens that have already expired are not
// remembered since verification rejects them anyway.
func (l *RevocationList) Add(jti string, exp time.Time) error {
	if jti == "" {
		return ErrMissingTokenID
	}
	now := NowTimeFunc()
	if !exp.After(now) {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[jti] = exp
	if len(l.entries) > purgeThreshold {
		l.purgeLocked(now)
	}
	return nil
}

func (l *RevocationList) IsRevoked(jti string) bool {
	l.mu.RLock()
	exp, ok := l.entries[jti]
	l.mu.RUnlock()
	return ok && NowTimeFunc().Before(exp)
}

func (l *RevocationList) Cleanup() {
	l.Purge()
}

// Purge drops entries whose tokens have expired and returns how many went.
func (l *RevocationList) Purge() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.purgeLocked(NowTimeFunc())
}

func (l *RevocationList) purgeLocked(now time.Time) int {
	n := 0
	for jti, exp := range l.entries {
		if !exp.After(now) {
			delete(l.entries, jti)
			n++
		}
	}
	return n
}

func (l *RevocationList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
