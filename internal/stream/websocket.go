package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WebSocketPath is the WebSocket streaming endpoint under the chat base URL.
const WebSocketPath = "/chat/ws"

// wsReadLimit bounds a single event message.
const wsReadLimit = 1 << 20

// WebSocketDialer connects to the chat streaming endpoint over a WebSocket.
// The credential is sent in the Authorization header, never in the URL.
type WebSocketDialer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// wireEvent is one WebSocket text message.
type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    string          `json:"id,omitempty"`
}

// URL builds the WebSocket URL for p.
func (d *WebSocketDialer) URL(p Params) (string, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse chat base URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported chat URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + WebSocketPath
	u.RawQuery = p.Query().Encode()
	return u.String(), nil
}

// Dial opens the WebSocket.
func (d *WebSocketDialer) Dial(ctx context.Context, p Params) (Source, error) {
	target, err := d.URL(p)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.Credential)

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect stream: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("connect stream: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	return &wsSource{conn: conn}, nil
}

type wsSource struct {
	conn *websocket.Conn
}

func (s *wsSource) Next(ctx context.Context) (Event, error) {
	var msg wireEvent
	if err := wsjson.Read(ctx, s.conn, &msg); err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return Event{}, io.EOF
		}
		return Event{}, err
	}
	if msg.Event == "" {
		return Event{}, errors.New("websocket message without event tag")
	}
	return Event{Name: msg.Event, Data: rawText(msg.Data), ID: msg.ID}, nil
}

// Close drops the connection without waiting for the close handshake.
func (s *wsSource) Close() error {
	return s.conn.CloseNow()
}

// rawText unquotes JSON strings and passes any other JSON value through.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
