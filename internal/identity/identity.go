// Package identity carries the signed-in identity and the conversation id
// of a request through its context.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	ConversationHeaderName = "X-Conversation-ID"
	ConversationQueryName  = "conversation_id"
)

type contextKey int

const (
	identityKey contextKey = iota
	credentialKey
	conversationIDKey
)

var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// WithSession returns a copy of ctx carrying the signed-in identity and the
// credential captured for this request.
func WithSession(ctx context.Context, identity, credential string) context.Context {
	ctx = context.WithValue(ctx, identityKey, identity)
	return context.WithValue(ctx, credentialKey, credential)
}

// FromContext extracts the signed-in identity from the request context.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(identityKey).(string); ok {
		return v
	}
	return ""
}

// CredentialFromContext extracts the credential captured for this request.
func CredentialFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(credentialKey).(string); ok {
		return v
	}
	return ""
}

// ConversationIDFromContext extracts the conversation id, or "" when the
// request did not name a valid one.
func ConversationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(conversationIDKey).(string); ok {
		return v
	}
	return ""
}

// SanitizeConversationID returns id trimmed, or "" if it is not a valid id.
func SanitizeConversationID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !conversationIDPattern.MatchString(id) {
		return ""
	}
	return id
}

func conversationIDFromRequest(r *http.Request) string {
	id := r.Header.Get(ConversationHeaderName)
	if id == "" {
		id = r.URL.Query().Get(ConversationQueryName)
	}
	return SanitizeConversationID(id)
}

// Middleware injects the per-request conversation id.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), conversationIDKey, conversationIDFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
