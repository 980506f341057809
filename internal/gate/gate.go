// Package gate decides what a request sees while the session is loading,
// signed out, or signed in.
package gate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/docchat/internal/identity"
	"github.com/ashureev/docchat/internal/session"
)

// Outcome is the result of a gate decision.
type Outcome int

const (
	// Placeholder means the session is still loading.
	Placeholder Outcome = iota
	// Deny redirects a signed-out visitor to the login entry point.
	Deny
	// PassThrough renders the protected content.
	PassThrough
)

func (o Outcome) String() string {
	switch o {
	case Placeholder:
		return "placeholder"
	case Deny:
		return "deny"
	case PassThrough:
		return "pass"
	default:
		return "unknown"
	}
}

// Decide maps the session flags to an outcome. Loading wins over everything.
func Decide(loading, authenticated bool) Outcome {
	switch {
	case loading:
		return Placeholder
	case !authenticated:
		return Deny
	default:
		return PassThrough
	}
}

// Source is the session view the gate reads.
type Source interface {
	Revalidate(ctx context.Context) error
	State() session.State
}

// evaluate revalidates the session and returns the decision together with
// the state it was made on.
func evaluate(r *http.Request, src Source) (Outcome, session.State) {
	if err := src.Revalidate(r.Context()); err != nil {
		slog.Warn("Session revalidation failed", "error", err)
	}
	st := src.State()
	return Decide(st.Loading, st.Authenticated), st
}

const placeholderHTML = `<!doctype html>
<html><head><meta charset="utf-8"><meta http-equiv="refresh" content="1"><title>Loading</title></head>
<body><p>Loading your session&hellip;</p></body></html>
`

// Page gates browser pages. A loading session gets a self-refreshing
// placeholder, a signed-out visitor is redirected to redirectTo.
func Page(src Source, redirectTo string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			outcome, st := evaluate(r, src)
			switch outcome {
			case Placeholder:
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(placeholderHTML))
			case Deny:
				http.Redirect(w, r, redirectTo, http.StatusSeeOther)
			default:
				ctx := identity.WithSession(r.Context(), st.Identity, st.Credential)
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		})
	}
}

// API gates JSON endpoints with 503 while loading and 401 when signed out.
func API(src Source) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			outcome, st := evaluate(r, src)
			switch outcome {
			case Placeholder:
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusServiceUnavailable, "session loading")
			case Deny:
				writeError(w, http.StatusUnauthorized, "not authenticated")
			default:
				ctx := identity.WithSession(r.Context(), st.Identity, st.Credential)
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
