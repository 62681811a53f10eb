package auth

import (
	"sync"
	"time"
)

// revocationEntry stores metadata about a revoked session token.
type revocationEntry struct {
	ExpiresAt time.Time
	UserID    string
}

// userCutoff invalidates every token a user received before At.
type userCutoff struct {
	At        time.Time
	ExpiresAt time.Time
}

// TokenRevocationStore tracks revoked session tokens in memory. Entries are
// dropped once the token they cover would have expired anyway.
type TokenRevocationStore struct {
	mu      sync.RWMutex
	entries map[string]revocationEntry // JTI -> entry
	cutoffs map[string]userCutoff      // userID -> cutoff
	done    chan struct{}
	now     func() time.Time
}

// NewTokenRevocationStore creates a new store and starts a background
// goroutine that cleans up expired entries every 5 minutes.
func NewTokenRevocationStore() *TokenRevocationStore {
	s := newRevocationStore(time.Now)
	go s.cleanupLoop()
	return s
}

func newRevocationStore(now func() time.Time) *TokenRevocationStore {
	return &TokenRevocationStore{
		entries: make(map[string]revocationEntry),
		cutoffs: make(map[string]userCutoff),
		done:    make(chan struct{}),
		now:     now,
	}
}

// RevokeForUser revokes a single token (logout).
func (s *TokenRevocationStore) RevokeForUser(jti, userID string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jti] = revocationEntry{ExpiresAt: expiresAt, UserID: userID}
}

// RevokeAllForUser revokes every token issued to userID at or before at.
// expiresAt bounds how long the cutoff has to be remembered.
func (s *TokenRevocationStore) RevokeAllForUser(userID string, at, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Token iat has second precision.
	s.cutoffs[userID] = userCutoff{At: at.Truncate(time.Second), ExpiresAt: expiresAt}
}

// IsRevoked checks the token id and the user's cutoff.
func (s *TokenRevocationStore) IsRevoked(jti, userID string, issuedAt time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entries[jti]; ok {
		return true
	}
	if cut, ok := s.cutoffs[userID]; ok && !issuedAt.After(cut.At) {
		return true
	}
	return false
}

// Count returns the number of individually revoked tokens.
func (s *TokenRevocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the background cleanup goroutine. It is safe to call
// multiple times.
func (s *TokenRevocationStore) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *TokenRevocationStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *TokenRevocationStore) cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for jti, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, jti)
		}
	}
	for uid, cut := range s.cutoffs {
		if now.After(cut.ExpiresAt) {
			delete(s.cutoffs, uid)
		}
	}
}
