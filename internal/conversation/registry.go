// Package conversation tracks the active stream and the transcript of each
// conversation.
package conversation

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/docchat/internal/domain"
)

// Registry allows one active stream per conversation. Beginning a new
// stream for a conversation closes the one it replaces.
type Registry struct {
	mu            sync.RWMutex
	active        map[string]io.Closer
	conversations map[string]*domain.Conversation
	now           func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active:        make(map[string]io.Closer),
		conversations: make(map[string]*domain.Conversation),
		now:           time.Now,
	}
}

// Active returns the active stream for id, or nil.
func (r *Registry) Active(id string) io.Closer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[id]
}

// Begin registers c as the active stream for id.
func (r *Registry) Begin(id string, c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[id]; ok && existing != c {
		_ = existing.Close()
		slog.Info("Conversation stream replaced", "conversation_id", id)
	}
	r.active[id] = c
}

// Finish unregisters c if it is still the active stream for id.
func (r *Registry) Finish(id string, c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.active[id]; ok && current == c {
		delete(r.active, id)
	}
}

// CloseAll closes every active stream.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, c := range r.active {
		_ = c.Close()
		slog.Info("Conversation stream closed", "conversation_id", id)
	}
	r.active = make(map[string]io.Closer)
}

// Clear drops every transcript.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations = make(map[string]*domain.Conversation)
}

// Append records a turn for id.
func (r *Registry) Append(id string, sender domain.Sender, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[id]
	if !ok {
		conv = &domain.Conversation{ID: id}
		r.conversations[id] = conv
	}
	conv.Record(sender, text, r.now())
}

// Transcript returns a copy of the last n turns of id, or false when the
// conversation is unknown. A non-positive n returns every turn.
func (r *Registry) Transcript(id string, n int) (domain.Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[id]
	if !ok {
		return domain.Conversation{}, false
	}
	recent := conv.Recent(n)
	turns := make([]domain.Turn, len(recent))
	copy(turns, recent)
	return domain.Conversation{ID: id, Turns: turns}, true
}
