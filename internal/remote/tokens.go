package remote

import (
	"net/url"
	"strings"
	"sync"
)

// TokenStore holds authentication tokens keyed by canonical instance URL.
// After a proxy failover the same token is stored under both the hostname
// URL and its IP alias, so either path finds it. Safe for concurrent use
// by parallel upgrades.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewTokenStore creates an empty token store
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]string),
	}
}

// Get returns the token stored for the given instance URL
func (s *TokenStore) Get(instanceURL string) (string, bool) {
	key := CanonicalURL(instanceURL)

	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[key]
	return token, ok
}

// Set stores a token for the given instance URL
func (s *TokenStore) Set(instanceURL, token string) {
	key := CanonicalURL(instanceURL)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[key] = token
}

// SetAll stores the same token under every given URL alias
func (s *TokenStore) SetAll(urls []string, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range urls {
		if u == "" {
			continue
		}
		s.tokens[CanonicalURL(u)] = token
	}
}

// Invalidate drops the token stored for the given instance URL
func (s *TokenStore) Invalidate(instanceURL string) {
	key := CanonicalURL(instanceURL)

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, key)
}

// CanonicalURL normalizes an instance URL for use as a token key:
// lowercased scheme and host, no trailing slash, no path.
func CanonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.ToLower(raw), "/")
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
