package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// SSEPath is the streaming endpoint path under the chat base URL.
const SSEPath = "/chat/stream"

// SSEDialer connects to the chat streaming endpoint over Server-Sent Events.
//
// The credential travels as the token query parameter, the only option
// open to EventSource clients. Prefer WebSocketDialer where the backend
// offers it.
type SSEDialer struct {
	BaseURL string
	// Client defaults to a client without a timeout; streams are long lived.
	Client *http.Client
}

// URL builds the streaming URL for p.
func (d *SSEDialer) URL(p Params) (string, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse chat base URL: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + SSEPath
	q := p.Query()
	q.Set("token", p.Credential)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens the event stream. The request is bound to ctx; cancelling it
// aborts the stream.
func (d *SSEDialer) Dial(ctx context.Context, p Params) (Source, error) {
	target, err := d.URL(p)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := d.Client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("stream endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return newSSESource(resp.Body), nil
}

// sseSource parses a text/event-stream body.
type sseSource struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newSSESource(body io.ReadCloser) *sseSource {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max line
	return &sseSource{body: body, scanner: scanner}
}

// Next returns the next complete event. Frames carrying neither an event
// name nor data are skipped; a frame without an event name is "message".
// A frame not closed by a blank line before EOF is dropped.
func (s *sseSource) Next(ctx context.Context) (Event, error) {
	var (
		ev      Event
		data    []string
		hasData bool
	)

	for s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		line := s.scanner.Text()
		if line == "" {
			if ev.Name == "" && !hasData {
				ev = Event{}
				continue
			}
			if ev.Name == "" {
				ev.Name = "message"
			}
			ev.Data = strings.Join(data, "\n")
			return ev, nil
		}

		// Comment / keepalive.
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
		case "data":
			data = append(data, value)
			hasData = true
		case "id":
			ev.ID = value
		}
	}

	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

func (s *sseSource) Close() error {
	return s.body.Close()
}
