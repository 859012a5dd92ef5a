package remote

import (
	"fmt"
	"sync"
	"testing"
)

func TestTokenStore(t *testing.T) {
	store := NewTokenStore()

	if _, ok := store.Get("https://instance.example.com"); ok {
		t.Fatal("empty store should not return a token")
	}

	store.Set("https://instance.example.com", "tok1")

	token, ok := store.Get("https://instance.example.com")
	if !ok || token != "tok1" {
		t.Errorf("Get = (%q, %v), want (tok1, true)", token, ok)
	}

	store.Invalidate("https://instance.example.com")
	if _, ok := store.Get("https://instance.example.com"); ok {
		t.Error("token should be gone after Invalidate")
	}
}

func TestTokenStoreCanonicalKeys(t *testing.T) {
	store := NewTokenStore()

	// Same instance, different spellings
	store.Set("HTTPS://Instance.Example.Com/", "tok1")

	token, ok := store.Get("https://instance.example.com")
	if !ok || token != "tok1" {
		t.Errorf("canonicalization failed: got (%q, %v)", token, ok)
	}
}

func TestTokenStoreSetAll(t *testing.T) {
	store := NewTokenStore()

	aliases := []string{
		"https://instance.example.com:9443",
		"https://192.168.1.50:9443",
		"",
	}
	store.SetAll(aliases, "shared-token")

	for _, alias := range aliases[:2] {
		token, ok := store.Get(alias)
		if !ok || token != "shared-token" {
			t.Errorf("alias %s: got (%q, %v)", alias, token, ok)
		}
	}
}

func TestTokenStoreConcurrent(t *testing.T) {
	store := NewTokenStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			store.Set(fmt.Sprintf("https://host%d.example.com", n%5), "tok")
		}(i)
		go func(n int) {
			defer wg.Done()
			store.Get(fmt.Sprintf("https://host%d.example.com", n%5))
		}(i)
	}
	wg.Wait()
}

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain",
			input:    "https://instance.example.com",
			expected: "https://instance.example.com",
		},
		{
			name:     "trailing slash and path dropped",
			input:    "https://instance.example.com/api/",
			expected: "https://instance.example.com",
		},
		{
			name:     "mixed case",
			input:    "HTTP://Instance.Local:9000",
			expected: "http://instance.local:9000",
		},
		{
			name:     "ip alias keeps port",
			input:    "https://192.168.1.50:9443",
			expected: "https://192.168.1.50:9443",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalURL(tt.input); got != tt.expected {
				t.Errorf("CanonicalURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
