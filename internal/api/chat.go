package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ashureev/docchat/internal/backend"
	"github.com/ashureev/docchat/internal/domain"
	"github.com/ashureev/docchat/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type chatRequest struct {
	Question       string   `json:"question"`
	ConversationID string   `json:"conversation_id,omitempty"`
	TopK           *int     `json:"top_k,omitempty"`
	Alpha          *float64 `json:"alpha,omitempty"`
	UseMMR         *bool    `json:"use_mmr,omitempty"`
}

type chatResponse struct {
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
}

// conversationID returns the request's conversation id, minting one when
// the client did not name a valid id.
func conversationID(r *http.Request, fallback string) string {
	if id := identity.ConversationIDFromContext(r.Context()); id != "" {
		return id
	}
	if id := identity.SanitizeConversationID(fallback); id != "" {
		return id
	}
	return uuid.NewString()
}

// Chat asks one question and answers with the full reply.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		Error(w, http.StatusBadRequest, "question is required")
		return
	}

	upstream := backend.ChatRequest{
		Question: req.Question,
		TopK:     h.retrieval.TopK,
		Alpha:    h.retrieval.Alpha,
		UseMMR:   h.retrieval.UseMMR,
	}
	if req.TopK != nil {
		upstream.TopK = *req.TopK
	}
	if req.Alpha != nil {
		upstream.Alpha = *req.Alpha
	}
	if req.UseMMR != nil {
		upstream.UseMMR = *req.UseMMR
	}
	if upstream.TopK <= 0 || !(upstream.Alpha >= 0 && upstream.Alpha <= 1) {
		Error(w, http.StatusBadRequest, "invalid retrieval parameters")
		return
	}

	convID := conversationID(r, req.ConversationID)
	answer, err := h.backend.Chat(r.Context(), identity.CredentialFromContext(r.Context()), upstream)
	if err != nil {
		slog.Warn("Chat request failed", "conversation_id", convID, "error", err)
		backendError(w, err)
		return
	}
	h.registry.Append(convID, domain.SenderUser, req.Question)
	h.registry.Append(convID, domain.SenderBot, answer.Answer)

	JSON(w, http.StatusOK, chatResponse{ConversationID: convID, Answer: answer.Answer})
}

// Transcript returns the recorded turns of a conversation. The optional
// last query parameter limits the reply to the most recent turns.
func (h *Handler) Transcript(w http.ResponseWriter, r *http.Request) {
	id := identity.SanitizeConversationID(chi.URLParam(r, "id"))
	if id == "" {
		Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	last := 0
	if raw := r.URL.Query().Get("last"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "last must be a non-negative integer")
			return
		}
		last = n
	}

	conv, ok := h.registry.Transcript(id, last)
	if !ok {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	JSON(w, http.StatusOK, conv)
}

// retrievalOverrides applies top_k, alpha and use_mmr query overrides.
func retrievalOverrides(q url.Values, topK *int, alpha *float64, useMMR *bool) error {
	if raw := q.Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*topK = n
	}
	if raw := q.Get("alpha"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		if !(f >= 0 && f <= 1) {
			return fmt.Errorf("alpha must be within [0,1], got %v", f)
		}
		*alpha = f
	}
	if raw := q.Get("use_mmr"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*useMMR = b
	}
	return nil
}
