// Package stream opens server-push channels for chat turns and routes their
// tagged events to a Handler.
//
// Each Session has one dispatch goroutine, so handlers observe events in
// transport order. A Session closes exactly once: on an end event, on an
// error event or transport failure, or when the caller calls Close.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Event tags emitted by the chat streaming endpoint.
const (
	EventStart = "start"
	EventToken = "token"
	EventEnd   = "end"
	EventError = "error"
)

// ErrInvalidParams is returned by Open for parameters the endpoint would
// reject.
var ErrInvalidParams = errors.New("invalid stream parameters")

// Event is one tagged message from the transport.
type Event struct {
	Name string
	Data string
	ID   string
}

// Start is the session metadata carried by a start event.
type Start struct {
	ConversationID string          `json:"conversation_id"`
	Raw            json.RawMessage `json:"-"`
}

func parseStart(data string) Start {
	st := Start{}
	if data == "" {
		return st
	}
	if err := json.Unmarshal([]byte(data), &st); err == nil {
		st.Raw = json.RawMessage(data)
		return st
	}
	// Some servers send the bare conversation id.
	st.ConversationID = strings.TrimSpace(data)
	return st
}

// Params describe one streamed conversation turn.
type Params struct {
	Question       string
	Credential     string
	ConversationID string
	TopK           int
	Alpha          float64
	UseMMR         bool
}

// Validate checks p before any network I/O.
func (p Params) Validate() error {
	switch {
	case strings.TrimSpace(p.Question) == "":
		return fmt.Errorf("%w: question is required", ErrInvalidParams)
	case p.Credential == "":
		return fmt.Errorf("%w: credential is required", ErrInvalidParams)
	case p.TopK <= 0:
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidParams, p.TopK)
	case !(p.Alpha >= 0 && p.Alpha <= 1):
		return fmt.Errorf("%w: alpha must be within [0,1], got %v", ErrInvalidParams, p.Alpha)
	}
	return nil
}

// Query encodes p as query fields, without the credential.
func (p Params) Query() url.Values {
	q := url.Values{}
	q.Set("question", p.Question)
	if p.ConversationID != "" {
		q.Set("conversation_id", p.ConversationID)
	}
	q.Set("top_k", strconv.Itoa(p.TopK))
	q.Set("alpha", strconv.FormatFloat(p.Alpha, 'f', -1, 64))
	q.Set("use_mmr", strconv.FormatBool(p.UseMMR))
	return q
}

// StreamError is delivered to Handler.OnError. Transport is true for
// connection failures and false for error events sent by the server.
type StreamError struct {
	Message   string
	Transport bool
	Err       error
}

func (e *StreamError) Error() string {
	if e.Transport {
		return "stream transport: " + e.Message
	}
	return "stream: " + e.Message
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// Handler receives the events of one Session. Embed NopHandler to
// implement only the callbacks you need.
type Handler interface {
	OnStart(Start)
	OnToken(text string)
	OnEnd()
	OnError(err error)
}

// NopHandler ignores every event.
type NopHandler struct{}

func (NopHandler) OnStart(Start)  {}
func (NopHandler) OnToken(string) {}
func (NopHandler) OnEnd()         {}
func (NopHandler) OnError(error)  {}

// Funcs adapts optional callbacks to a Handler. Nil fields are no-ops.
type Funcs struct {
	Start func(Start)
	Token func(string)
	End   func()
	Error func(error)
}

func (f Funcs) OnStart(s Start) {
	if f.Start != nil {
		f.Start(s)
	}
}

func (f Funcs) OnToken(text string) {
	if f.Token != nil {
		f.Token(text)
	}
}

func (f Funcs) OnEnd() {
	if f.End != nil {
		f.End()
	}
}

func (f Funcs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

var (
	_ Handler = NopHandler{}
	_ Handler = Funcs{}
)
