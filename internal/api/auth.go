package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/docchat/internal/identity"
	"github.com/ashureev/docchat/internal/session"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionView struct {
	Loading       bool   `json:"loading"`
	Authenticated bool   `json:"authenticated"`
	Identity      string `json:"identity,omitempty"`
}

func viewOf(st session.State) sessionView {
	return sessionView{
		Loading:       st.Loading,
		Authenticated: st.Authenticated,
		Identity:      st.Identity,
	}
}

// Session reports the current session flags.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Revalidate(r.Context()); err != nil {
		slog.Warn("Session revalidation failed", "error", err)
	}
	JSON(w, http.StatusOK, viewOf(h.sessions.State()))
}

func (h *Handler) readCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return req, false
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		Error(w, http.StatusBadRequest, "email and password are required")
		return req, false
	}
	return req, true
}

// Login signs in with the user-management service and stores the token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readCredentials(w, r)
	if !ok {
		return
	}

	token, err := h.backend.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		slog.Info("Login rejected", "email", req.Email, "error", err)
		backendError(w, err)
		return
	}
	h.establish(w, r, token)
}

// Signup registers an account and signs in with it.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readCredentials(w, r)
	if !ok {
		return
	}

	if _, err := h.backend.Signup(r.Context(), req.Email, req.Password); err != nil {
		slog.Info("Signup rejected", "email", req.Email, "error", err)
		backendError(w, err)
		return
	}
	slog.Info("Account created", "email", req.Email)

	token, err := h.backend.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		backendError(w, err)
		return
	}
	h.establish(w, r, token)
}

func (h *Handler) establish(w http.ResponseWriter, r *http.Request, token string) {
	if err := h.sessions.Login(r.Context(), token); err != nil {
		slog.Error("Failed to persist credential", "error", err)
		Error(w, http.StatusInternalServerError, "failed to store credential")
		return
	}

	st := h.sessions.State()
	if !st.Authenticated {
		Error(w, http.StatusUnauthorized, "received credential is invalid or expired")
		return
	}
	slog.Info("Signed in", "identity", st.Identity, "ip", identity.IPFromRequest(r))
	JSON(w, http.StatusOK, viewOf(st))
}

// Logout closes every open stream and forgets the credential.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.registry.CloseAll()
	h.registry.Clear()

	if err := h.sessions.Logout(r.Context()); err != nil {
		slog.Error("Failed to clear credential", "error", err)
		Error(w, http.StatusInternalServerError, "failed to clear credential")
		return
	}
	JSON(w, http.StatusOK, viewOf(h.sessions.State()))
}

// Profile returns the signed-in user's record.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	p, err := h.backend.Profile(r.Context(), identity.CredentialFromContext(r.Context()))
	if err != nil {
		backendError(w, err)
		return
	}
	JSON(w, http.StatusOK, p)
}
