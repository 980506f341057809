package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/docchat/internal/domain"
	"github.com/ashureev/docchat/internal/identity"
	"github.com/ashureev/docchat/internal/stream"
)

const keepaliveInterval = 15 * time.Second

// Stream opens a chat stream and relays its events to the browser as
// Server-Sent Events. The handler returns only after the stream has
// stopped dispatching.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := stream.Params{
		Question:   strings.TrimSpace(q.Get("question")),
		Credential: identity.CredentialFromContext(r.Context()),
		TopK:       h.retrieval.TopK,
		Alpha:      h.retrieval.Alpha,
		UseMMR:     h.retrieval.UseMMR,
	}
	if err := retrievalOverrides(q, &p.TopK, &p.Alpha, &p.UseMMR); err != nil {
		Error(w, http.StatusBadRequest, "invalid retrieval parameters")
		return
	}
	p.ConversationID = conversationID(r, "")
	if err := p.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(identity.ConversationHeaderName, p.ConversationID)

	relay := &sseRelay{w: w, flusher: flusher, conversationID: p.ConversationID}
	h.registry.Append(p.ConversationID, domain.SenderUser, p.Question)

	sess, err := h.demux.Open(r.Context(), p, relay)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.registry.Begin(p.ConversationID, sess)
	defer h.registry.Finish(p.ConversationID, sess)

	slog.Info("Chat stream opened", "conversation_id", p.ConversationID, "ip", identity.IPFromRequest(r))

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.Done():
			if answer := relay.answer(); answer != "" {
				h.registry.Append(p.ConversationID, domain.SenderBot, answer)
			}
			slog.Info("Chat stream finished", "conversation_id", p.ConversationID, "reason", sess.Reason().String())
			return
		case <-ticker.C:
			if err := relay.write("ping", ""); err != nil {
				slog.Warn("Failed to write SSE keepalive", "error", err)
				_ = sess.Close()
			}
		}
	}
}

// sseRelay forwards stream events to one browser response.
type sseRelay struct {
	mu             sync.Mutex
	w              io.Writer
	flusher        http.Flusher
	conversationID string
	text           strings.Builder
	broken         bool
}

func (s *sseRelay) write(event, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return errors.New("client connection lost")
	}
	if err := writeSSE(s.w, event, data); err != nil {
		s.broken = true
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseRelay) answer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

func (s *sseRelay) OnStart(st stream.Start) {
	if st.ConversationID != "" && st.ConversationID != s.conversationID {
		slog.Debug("Chat service reported a different conversation id", "local", s.conversationID, "remote", st.ConversationID)
	}
	data, _ := json.Marshal(map[string]string{"conversation_id": s.conversationID})
	_ = s.write(stream.EventStart, string(data))
}

func (s *sseRelay) OnToken(text string) {
	s.mu.Lock()
	s.text.WriteString(text)
	s.mu.Unlock()
	_ = s.write(stream.EventToken, text)
}

func (s *sseRelay) OnEnd() {
	_ = s.write(stream.EventEnd, "")
}

func (s *sseRelay) OnError(err error) {
	msg := err.Error()
	var serr *stream.StreamError
	if errors.As(err, &serr) {
		msg = serr.Message
	}
	_ = s.write(stream.EventError, msg)
}

// writeSSE writes one event frame. Multi-line data is split across data
// fields so the frame stays well formed.
func writeSSE(w io.Writer, event, data string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", event)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}
