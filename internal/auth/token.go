// Package auth defines the contract with the external authentication
// collaborator. The sync core only ever reads the credential.
package auth

import (
	"os"
	"strings"
	"sync"
)

// TokenSource exposes the current bearer credential.
type TokenSource interface {
	// Token returns the current bearer token, empty when logged out.
	Token() string
	// IsAuthenticated reports whether a credential is present.
	IsAuthenticated() bool
}

// Static is a fixed-token source, used by tests and one-shot commands.
type Static string

func (s Static) Token() string         { return string(s) }
func (s Static) IsAuthenticated() bool { return s != "" }

// FileSource reads the token from the profile's token file, caching it
// after the first successful read. Reload drops the cache after a
// re-authentication flow rewrites the file.
type FileSource struct {
	path string

	mu    sync.RWMutex
	token string
	read  bool
}

// NewFileSource creates a token source backed by the given file.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Token() string {
	f.mu.RLock()
	if f.read {
		defer f.mu.RUnlock()
		return f.token
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.read {
		data, err := os.ReadFile(f.path)
		if err == nil {
			f.token = strings.TrimSpace(string(data))
		}
		f.read = true
	}
	return f.token
}

func (f *FileSource) IsAuthenticated() bool {
	return f.Token() != ""
}

// Reload discards the cached token so the next read hits the file.
func (f *FileSource) Reload() {
	f.mu.Lock()
	f.read = false
	f.token = ""
	f.mu.Unlock()
}
