package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/pavankpdev/rate-limiting-implementation/internal/identity"
)

type sessionKey struct{}

// withSession attaches an identity.Session to the request context. A
// valid bearer token resolves to the session it was issued for; anything
// else falls back to a guest keyed by client IP, so unauthenticated and
// stale-token requests share the guest tier.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := s.sessionFor(r)
		ctx := context.WithValue(r.Context(), sessionKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) sessionFor(r *http.Request) identity.Session {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		if sess, found := s.issuer.Resolve(strings.TrimSpace(token)); found {
			return sess
		}
	}
	return identity.Guest(identity.ClientIP(r))
}

func sessionFrom(ctx context.Context) identity.Session {
	sess, _ := ctx.Value(sessionKey{}).(identity.Session)
	return sess
}
