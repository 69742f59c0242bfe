package auth

import (
	"context"
	"sync"
	"time"
)

// RevocationList tracks access tokens that were invalidated before their
// natural expiry. Single tokens are revoked by JTI on logout; revoking a user
// invalidates every token issued to them up to that instant, which is how
// account deletion ends existing sessions. Thread-safe for concurrent access.
type RevocationList struct {
	mu     sync.RWMutex
	tokens map[string]time.Time // JTI -> token expiry
	users  map[string]userCutoff
	now    func() time.Time
}

type userCutoff struct {
	issuedBefore time.Time
	expiresAt    time.Time
}

func NewRevocationList() *RevocationList {
	return &RevocationList{
		tokens: make(map[string]time.Time),
		users:  make(map[string]userCutoff),
		now:    time.Now,
	}
}

// Revoke invalidates the token described by claims. The entry is dropped by
// cleanup once the token would have expired anyway.
func (r *RevocationList) Revoke(claims *Claims) {
	if claims == nil || claims.ID == "" {
		return
	}
	exp := r.now().Add(24 * time.Hour)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[claims.ID] = exp
}

// RevokeUser invalidates every token issued to userID so far. ttl is the
// token lifetime, after which the cutoff no longer matters.
func (r *RevocationList) RevokeUser(userID string, ttl time.Duration) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID] = userCutoff{issuedBefore: now, expiresAt: now.Add(ttl)}
}

// IsRevoked reports whether claims belong to a revoked token.
func (r *RevocationList) IsRevoked(claims *Claims) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.tokens[claims.ID]; ok && claims.ID != "" {
		return true
	}
	cut, ok := r.users[claims.Subject]
	if !ok {
		return false
	}
	// tokens without iat predate the cutoff by definition
	return claims.IssuedAt == nil || !claims.IssuedAt.Time.After(cut.issuedBefore)
}

// Len returns the number of tracked revocations.
func (r *RevocationList) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens) + len(r.users)
}

// StartCleanup drops expired entries every interval until ctx is done.
func (r *RevocationList) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

func (r *RevocationList) cleanup() {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for jti, exp := range r.tokens {
		if now.After(exp) {
			delete(r.tokens, jti)
		}
	}
	for user, cut := range r.users {
		if now.After(cut.expiresAt) {
			delete(r.users, user)
		}
	}
}
