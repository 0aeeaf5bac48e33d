package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// API is the subset of REST calls the conversation store needs.
type API interface {
	MyConversation(ctx context.Context) (chat.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64) ([]chat.Message, error)
	SendMessage(ctx context.Context, conversationID int64, content string) (chat.Message, error)
	MarkRead(ctx context.Context, conversationID int64) error
}

// APIClient wraps the conversation endpoints.
type APIClient struct {
	baseURL string
	http    *http.Client
}

var _ API = (*APIClient)(nil)

// NewAPIClient returns a client for baseURL. Pass Session.HTTPClient() so
// requests carry the bearer credential.
func NewAPIClient(baseURL string, client *http.Client) *APIClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &APIClient{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

func (c *APIClient) MyConversation(ctx context.Context) (chat.Conversation, error) {
	var conv chat.Conversation
	err := doJSON(ctx, c.http, http.MethodGet, c.baseURL+"/conversations/me", nil, &conv)
	return conv, errors.Wrap(err, "fetch my conversation")
}

func (c *APIClient) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var convs []chat.Conversation
	if err := doJSON(ctx, c.http, http.MethodGet, c.baseURL+"/conversations", nil, &convs); err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	return convs, nil
}

func (c *APIClient) ListMessages(ctx context.Context, conversationID int64) ([]chat.Message, error) {
	var msgs []chat.Message
	url := fmt.Sprintf("%s/conversations/%d/messages", c.baseURL, conversationID)
	if err := doJSON(ctx, c.http, http.MethodGet, url, nil, &msgs); err != nil {
		return nil, errors.Wrapf(err, "list messages of conversation %d", conversationID)
	}
	return msgs, nil
}

func (c *APIClient) SendMessage(ctx context.Context, conversationID int64, content string) (chat.Message, error) {
	var msg chat.Message
	url := fmt.Sprintf("%s/conversations/%d/messages", c.baseURL, conversationID)
	// the key makes a retried request replay the stored message
	hdr := http.Header{"Idempotency-Key": []string{uuid.NewString()}}
	err := doRequest(ctx, c.http, http.MethodPost, url, hdr, map[string]string{"content": content}, &msg)
	return msg, errors.Wrapf(err, "send message to conversation %d", conversationID)
}

func (c *APIClient) MarkRead(ctx context.Context, conversationID int64) error {
	url := fmt.Sprintf("%s/conversations/%d/read", c.baseURL, conversationID)
	return errors.Wrapf(doJSON(ctx, c.http, http.MethodPost, url, struct{}{}, nil), "mark conversation %d read", conversationID)
}

// Me returns the authenticated user.
func (c *APIClient) Me(ctx context.Context) (chat.User, error) {
	var u chat.User
	err := doJSON(ctx, c.http, http.MethodGet, c.baseURL+"/users/me", nil, &u)
	return u, errors.Wrap(err, "fetch current user")
}

// doJSON performs one JSON request. A nil out discards the response body.
func doJSON(ctx context.Context, client *http.Client, method, url string, in, out any) error {
	return doRequest(ctx, client, method, url, nil, in, out)
}

func doRequest(ctx context.Context, client *http.Client, method, url string, hdr http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &payload) == nil {
		switch {
		case payload.Error != "":
			msg = payload.Error
		case payload.Message != "":
			msg = payload.Message
		}
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
