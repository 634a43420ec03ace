// Package identity resolves the user the engine stamps onto pushed records.
// The engine never runs an auth flow; it only consumes the resulting value
// and skips syncing while no identity is resolvable.
package identity

import "sync"

// Identity is the resolved user.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Provider resolves the current identity. The second return is false while
// nobody is signed in.
type Provider interface {
	CurrentUser() (*Identity, bool)
}

// StaticProvider holds an identity set at construction or after a sign-in,
// typically sourced from the config file.
type StaticProvider struct {
	mu   sync.RWMutex
	user *Identity
}

// NewStaticProvider builds a provider. A nil identity means signed out.
func NewStaticProvider(user *Identity) *StaticProvider {
	return &StaticProvider{user: user}
}

func (p *StaticProvider) CurrentUser() (*Identity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.user == nil || p.user.UserID == "" {
		return nil, false
	}
	return p.user, true
}

// SetUser swaps the identity; nil signs out.
func (p *StaticProvider) SetUser(user *Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = user
}
