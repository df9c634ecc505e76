// Package identity issues and resolves the caller identities the
// admission layer keys on. Authenticated callers get a session token
// from a configured credential table; everyone else is keyed by client
// address. Verification is a plain lookup, and sessions live in memory
// for the life of the process.
package identity

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrInvalidCredentials rejects a login with an unknown user or a wrong
// password. The two cases are deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("identity: invalid credentials")

// Session is one issued identity. Identity is the admission key;
// Authenticated selects the tier.
type Session struct {
	Token         string `json:"token"`
	Identity      string `json:"identity"`
	Authenticated bool   `json:"authenticated"`
}

// Issuer hands out sessions against a fixed credential table.
type Issuer struct {
	users map[string]string

	mu       sync.RWMutex
	sessions map[string]Session
}

// NewIssuer builds an Issuer over the given username-to-password table.
// The table is copied and never mutated afterwards.
func NewIssuer(users map[string]string) *Issuer {
	copied := make(map[string]string, len(users))
	for name, pass := range users {
		copied[name] = pass
	}
	return &Issuer{
		users:    copied,
		sessions: make(map[string]Session),
	}
}

// Login issues a session. An empty username asks for a guest session,
// which always succeeds; a named user must present the configured
// password.
func (i *Issuer) Login(username, password string) (Session, error) {
	if username == "" {
		return i.issue("", false), nil
	}
	want, ok := i.users[username]
	if !ok || want != password {
		return Session{}, ErrInvalidCredentials
	}
	return i.issue(username, true), nil
}

func (i *Issuer) issue(username string, authenticated bool) Session {
	token := uuid.NewString()
	identity := "user:" + username
	if !authenticated {
		identity = "guest:" + token[:8]
	}
	s := Session{Token: token, Identity: identity, Authenticated: authenticated}

	i.mu.Lock()
	i.sessions[token] = s
	i.mu.Unlock()
	return s
}

// Resolve looks up the session for a bearer token.
func (i *Issuer) Resolve(token string) (Session, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	s, ok := i.sessions[token]
	return s, ok
}

// Guest derives the identity for a request with no session, keyed by
// client address so one noisy host cannot spend every anonymous budget.
func Guest(ip string) Session {
	return Session{Identity: "guest:" + ip}
}
