package token

import (
	"crypto/subtle"
	"sync"
)

// Registry maps tokens to user IDs. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tokens map[string]string // token -> user ID
}

// NewRegistry creates a registry holding the given token to user mapping.
func NewRegistry(tokens map[string]string) *Registry {
	r := &Registry{}
	r.Replace(tokens)
	return r
}

// Replace swaps the whole mapping, for example after a config reload.
func (r *Registry) Replace(tokens map[string]string) {
	m := make(map[string]string, len(tokens))
	for k, v := range tokens {
		if k != "" {
			m[k] = v
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = m
}

// Lookup returns the user ID for tok. Every registered token is compared
// in constant time.
func (r *Registry) Lookup(tok string) (userID string, valid bool) {
	if tok == "" {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for known, user := range r.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(tok)) == 1 {
			userID, valid = user, true
		}
	}
	return userID, valid
}

// Count returns the number of registered tokens.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
