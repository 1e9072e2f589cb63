package server

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// Request headers and query parameters carrying the caller's identity.
const (
	TokenHeader   = "X-Opsgate-Token" //nolint:gosec // G101: header name, not a credential
	ContextHeader = "X-Opsgate-Context"

	tokenParam   = "token"
	contextParam = "context"
)

// DefaultContextID is used when a request names no context.
const DefaultContextID = "0"

// UserLookup resolves a token to the user it authenticates.
type UserLookup func(tok string) (userID string, ok bool)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID    string
	ContextID string
}

type contextKey int

const identityKey contextKey = iota

// IdentityFrom returns the caller identity attached by AuthMiddleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// AuthMiddleware authenticates requests by token and attaches the caller's
// Identity to the request context. Missing or unknown tokens get 401.
//
// Browsers cannot set headers on websocket handshakes, so upgrade requests
// may pass the token as a query parameter instead.
func AuthMiddleware(lookup UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := r.Header.Get(TokenHeader)
			if tok == "" && websocket.IsWebSocketUpgrade(r) {
				tok = r.URL.Query().Get(tokenParam)
			}
			if tok == "" {
				http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
				return
			}

			userID, ok := lookup(tok)
			if !ok {
				http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
				return
			}

			contextID := r.Header.Get(ContextHeader)
			if contextID == "" {
				contextID = r.URL.Query().Get(contextParam)
			}
			if contextID == "" {
				contextID = DefaultContextID
			}

			ctx := context.WithValue(r.Context(), identityKey, Identity{UserID: userID, ContextID: contextID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
