// Package backend calls the user-management, chat and upload services.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client talks to the three collaborator services.
type Client struct {
	userURL    string
	chatURL    string
	uploadURL  string
	httpClient *http.Client
}

// NewClient creates a Client. A nil httpClient uses http.DefaultClient.
func NewClient(userURL, chatURL, uploadURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		userURL:    strings.TrimRight(userURL, "/"),
		chatURL:    strings.TrimRight(chatURL, "/"),
		uploadURL:  strings.TrimRight(uploadURL, "/"),
		httpClient: httpClient,
	}
}

// Profile is the user record returned by the user-management service.
type Profile struct {
	Email    string `json:"email"`
	FullName string `json:"fullName,omitempty"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// ChatRequest is one non-streaming question.
type ChatRequest struct {
	Question string  `json:"question"`
	TopK     int     `json:"top_k"`
	Alpha    float64 `json:"alpha"`
	UseMMR   bool    `json:"use_mmr"`
}

// Answer is the chat service reply.
type Answer struct {
	Answer string `json:"answer"`
}

// Login exchanges credentials for a signed token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out loginResponse
	if err := c.doJSON(ctx, "login", http.MethodPost, c.userURL+"/login", "", credentials{email, password}, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("login: response carried no token")
	}
	return out.Token, nil
}

// Signup registers a new account. The service answers with the created
// user, not a token; callers sign in with Login afterwards.
func (c *Client) Signup(ctx context.Context, email, password string) (*Profile, error) {
	var out Profile
	if err := c.doJSON(ctx, "signup", http.MethodPost, c.userURL+"/signup", "", credentials{email, password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile fetches the signed-in user.
func (c *Client) Profile(ctx context.Context, token string) (*Profile, error) {
	var out Profile
	if err := c.doJSON(ctx, "profile", http.MethodGet, c.userURL+"/profile", token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat asks one question and waits for the full answer.
func (c *Client) Chat(ctx context.Context, token string, req ChatRequest) (*Answer, error) {
	var out Answer
	if err := c.doJSON(ctx, "chat", http.MethodPost, c.chatURL+"/chat/", token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, target, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	setBearer(req, token)

	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return requestFailed(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func setBearer(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
