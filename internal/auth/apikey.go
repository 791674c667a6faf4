// Package auth guards the websocket endpoint with optional API keys
package auth

import (
	"net/http"
	"strings"
	"sync"
)

const (
	// HeaderName carries the key on ordinary requests
	HeaderName = "X-Api-Key"
	// QueryParam carries the key for browser websocket clients, which cannot set headers
	QueryParam = "api_key"
)

// APIKeyAuth provides a simple API key authentication. With no keys configured every request passes.
type APIKeyAuth struct {
	mu        sync.RWMutex
	validKeys map[string]struct{}
}

// NewAPIKeyAuth creates a new API key authentication middleware
func NewAPIKeyAuth(keys []string) *APIKeyAuth {
	a := &APIKeyAuth{validKeys: make(map[string]struct{})}
	for _, key := range keys {
		a.AddKey(key)
	}

	return a
}

// AddKey adds a new valid API key
func (a *APIKeyAuth) AddKey(key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.validKeys[key] = struct{}{}
}

// RemoveKey removes a valid API key
func (a *APIKeyAuth) RemoveKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.validKeys, key)
}

// Enabled reports whether any key is configured
func (a *APIKeyAuth) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.validKeys) > 0
}

// IsValidKey checks if a key is valid
func (a *APIKeyAuth) IsValidKey(key string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, valid := a.validKeys[key]
	return valid
}

// Allow checks the key in the header or, failing that, in the query string
func (a *APIKeyAuth) Allow(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}

	key := r.Header.Get(HeaderName)
	if key == "" {
		key = r.URL.Query().Get(QueryParam)
	}

	return a.IsValidKey(key)
}
