// Package api provides HTTP handlers for the docchat API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ashureev/docchat/internal/backend"
	"github.com/ashureev/docchat/internal/config"
	"github.com/ashureev/docchat/internal/conversation"
	"github.com/ashureev/docchat/internal/gate"
	"github.com/ashureev/docchat/internal/session"
	"github.com/ashureev/docchat/internal/stream"
	"github.com/go-chi/chi/v5"
)

const maxJSONBody = 64 << 10

// Backend is the set of collaborator calls the handlers make.
type Backend interface {
	Login(ctx context.Context, email, password string) (string, error)
	Signup(ctx context.Context, email, password string) (*backend.Profile, error)
	Profile(ctx context.Context, token string) (*backend.Profile, error)
	Chat(ctx context.Context, token string, req backend.ChatRequest) (*backend.Answer, error)
	UploadPDF(ctx context.Context, token, filename string, r io.Reader) (*backend.UploadResult, error)
}

// Handler provides the session, chat and upload endpoints.
type Handler struct {
	sessions  *session.Manager
	backend   Backend
	demux     *stream.Demux
	registry  *conversation.Registry
	retrieval config.RetrievalConfig
}

// NewHandler creates a new Handler with its dependencies.
func NewHandler(sessions *session.Manager, b Backend, demux *stream.Demux, registry *conversation.Registry, retrieval config.RetrievalConfig) *Handler {
	return &Handler{
		sessions:  sessions,
		backend:   b,
		demux:     demux,
		registry:  registry,
		retrieval: retrieval,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/session", h.Session)
		r.Post("/login", h.Login)
		r.Post("/signup", h.Signup)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(gate.API(h.sessions))
			r.Get("/profile", h.Profile)
			r.Post("/upload", h.Upload)
			r.Post("/chat", h.Chat)
			r.Get("/chat/stream", h.Stream)
			r.Get("/conversations/{id}", h.Transcript)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// backendError maps a collaborator failure onto a response. Authentication
// failures keep their status, anything else is a bad gateway.
func backendError(w http.ResponseWriter, err error) {
	var rf *backend.RequestFailedError
	switch {
	case errors.As(err, &rf) && backend.IsUnauthorized(err):
		Error(w, http.StatusUnauthorized, rf.Message)
	case errors.As(err, &rf) && rf.StatusCode >= 400 && rf.StatusCode < 500:
		Error(w, rf.StatusCode, rf.Message)
	case errors.Is(err, context.DeadlineExceeded):
		Error(w, http.StatusGatewayTimeout, "upstream request timed out")
	default:
		Error(w, http.StatusBadGateway, err.Error())
	}
}
