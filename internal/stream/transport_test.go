package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func TestSSESourceParsesFrames(t *testing.T) {
	t.Parallel()

	body := strings.Join([]string{
		": keepalive",
		"",
		"event: start",
		`data: {"conversation_id":"c-1"}`,
		"",
		"event: token",
		"data: line one",
		"data: line two",
		"id: 7",
		"",
		"data: bare",
		"",
		"event: end",
		"",
		"",
	}, "\n")
	src := newSSESource(io.NopCloser(strings.NewReader(body)))

	want := []Event{
		{Name: "start", Data: `{"conversation_id":"c-1"}`},
		{Name: "token", Data: "line one\nline two", ID: "7"},
		{Name: "message", Data: "bare"},
		{Name: "end"},
	}
	for i, w := range want {
		got, err := src.Next(context.Background())
		if err != nil {
			t.Fatalf("event %d: unexpected error %v", i, err)
		}
		if got != w {
			t.Errorf("event %d: expected %+v, got %+v", i, w, got)
		}
	}
	if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestSSESourceDropsUnterminatedFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "event only", body: "event: end\n"},
		{name: "event and data", body: "event: token\ndata: partial\n"},
		{name: "no trailing newline", body: "event: end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newSSESource(io.NopCloser(strings.NewReader(tt.body)))
			got, err := src.Next(context.Background())
			if !errors.Is(err, io.EOF) {
				t.Fatalf("Expected io.EOF, got event %+v err %v", got, err)
			}
			if got != (Event{}) {
				t.Errorf("Expected zero event, got %+v", got)
			}
		})
	}

	src := newSSESource(io.NopCloser(strings.NewReader("event: end\n\n")))
	got, err := src.Next(context.Background())
	if err != nil || got.Name != EventEnd {
		t.Errorf("Expected terminated end frame, got %+v err %v", got, err)
	}
}

func TestSSEDialerURL(t *testing.T) {
	t.Parallel()

	d := &SSEDialer{BaseURL: "http://chat.local/api/"}
	p := validParams()
	p.ConversationID = "c-9"

	raw, err := d.URL(p)
	if err != nil {
		t.Fatalf("URL failed: %v", err)
	}
	if !strings.HasPrefix(raw, "http://chat.local/api/chat/stream?") {
		t.Errorf("Unexpected URL %q", raw)
	}
	for _, part := range []string{"question=x", "conversation_id=c-9", "top_k=5", "alpha=0.7", "use_mmr=true", "token=tok"} {
		if !strings.Contains(raw, part) {
			t.Errorf("Expected %q in %q", part, raw)
		}
	}
}

func TestSSEDialerEndToEnd(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != SSEPath {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("token") != "tok" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range []string{
			"event: start\ndata: c-1\n\n",
			"event: token\ndata: Hel\n\n",
			"event: token\ndata: lo\n\n",
			"event: end\ndata:\n\n",
		} {
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	d := New(&SSEDialer{BaseURL: srv.URL})
	var (
		mu   sync.Mutex
		text strings.Builder
		ends int
	)
	s, err := d.Open(context.Background(), validParams(), Funcs{
		Token: func(tok string) { mu.Lock(); text.WriteString(tok); mu.Unlock() },
		End:   func() { mu.Lock(); ends++; mu.Unlock() },
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	waitDone(t, s)

	mu.Lock()
	defer mu.Unlock()
	if text.String() != "Hello" || ends != 1 {
		t.Errorf("Expected Hello and one end, got %q and %d", text.String(), ends)
	}
}

func TestSSEDialerRejectedStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	rec := &recorder{}
	s, err := New(&SSEDialer{BaseURL: srv.URL}).Open(context.Background(), validParams(), rec)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	waitDone(t, s)

	if len(rec.errs) != 1 || !strings.Contains(rec.errs[0].Error(), "401") {
		t.Fatalf("Expected a 401 transport error, got %v", rec.errs)
	}
}

func TestWebSocketDialerURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base string
		want string
	}{
		{"http://chat.local", "ws://chat.local/chat/ws?"},
		{"https://chat.local/v1", "wss://chat.local/v1/chat/ws?"},
	}
	for _, tt := range tests {
		raw, err := (&WebSocketDialer{BaseURL: tt.base}).URL(validParams())
		if err != nil {
			t.Fatalf("URL(%q) failed: %v", tt.base, err)
		}
		if !strings.HasPrefix(raw, tt.want) {
			t.Errorf("URL(%q): expected prefix %q, got %q", tt.base, tt.want, raw)
		}
		if strings.Contains(raw, "token=") {
			t.Errorf("URL(%q) leaks the credential: %q", tt.base, raw)
		}
	}

	if _, err := (&WebSocketDialer{BaseURL: "ftp://chat.local"}).URL(validParams()); err == nil {
		t.Error("Expected error for unsupported scheme")
	}
}

func TestWebSocketDialerEndToEnd(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		ctx := r.Context()
		msgs := []map[string]any{
			{"event": "start", "data": map[string]string{"conversation_id": "c-ws"}},
			{"event": "token", "data": "a"},
			{"event": "token", "data": "b"},
			{"event": "end"},
		}
		for _, m := range msgs {
			if err := wsjson.Write(ctx, c, m); err != nil {
				return
			}
		}
		_ = c.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	rec := &recorder{}
	s, err := New(&WebSocketDialer{BaseURL: srv.URL}).Open(context.Background(), validParams(), rec)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	waitDone(t, s)

	equalCalls(t, rec.snapshot(), []string{"start", "token:a", "token:b", "end"})
	if rec.start[0].ConversationID != "c-ws" {
		t.Errorf("Expected conversation id c-ws, got %q", rec.start[0].ConversationID)
	}
}

func TestWebSocketNormalClosureWithoutEnd(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = wsjson.Write(r.Context(), c, map[string]any{"event": "token", "data": "a"})
		_ = c.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	rec := &recorder{}
	s, err := New(&WebSocketDialer{BaseURL: srv.URL}).Open(context.Background(), validParams(), rec)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	waitDone(t, s)

	equalCalls(t, rec.snapshot(), []string{"token:a", "error"})
	if !errors.Is(rec.errs[0], io.ErrUnexpectedEOF) {
		t.Errorf("Expected unexpected EOF, got %v", rec.errs[0])
	}
}
