// Package api is the HTTP client for the marketplace backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/marketplace-stream/internal/model"
	"github.com/capitalize-ai/marketplace-stream/pkg/logger"
)

// Client talks to the backend's JSON and streaming endpoints.
type Client struct {
	baseURL        string
	token          string
	requestTimeout time.Duration
	httpClient     *http.Client
	logger         *logger.Logger
}

// NewClient creates a backend client. requestTimeout bounds non-streaming
// calls only; streams stay open until they end or their context is cancelled.
func NewClient(baseURL, token string, requestTimeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		token:          token,
		requestTimeout: requestTimeout,
		httpClient:     &http.Client{},
		logger:         logger.OrGlobal(log),
	}
}

// WithToken returns a copy of the client that authenticates as token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error [%d]: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// StreamPath returns the streaming endpoint path for a conversation.
func StreamPath(conversationID string) string {
	return "/api/chat/conversations/" + url.PathEscape(conversationID) + "/stream"
}

// OpenStream starts a generation and returns the response body carrying the
// frame stream. Requests without attachments use a GET event stream with the
// parameters in the query; requests with attachments are POSTed as JSON.
// A response without a body yields a nil reader.
func (c *Client) OpenStream(ctx context.Context, req *model.StreamRequest) (io.ReadCloser, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + StreamPath(req.ConversationID)

	var httpReq *http.Request
	var err error
	if len(req.Attachments) == 0 {
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+StreamQuery(req).Encode(), nil)
	} else {
		var body []byte
		body, err = json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	if resp.Body == nil || resp.Body == http.NoBody || resp.ContentLength == 0 {
		if resp.Body != nil {
			resp.Body.Close()
		}
		c.logger.Warn("stream response has no body",
			zap.String("conversation_id", req.ConversationID),
			zap.Int("status", resp.StatusCode),
		)
		return nil, nil
	}

	return resp.Body, nil
}

// StreamQuery encodes the generation parameters of req as query values.
func StreamQuery(req *model.StreamRequest) url.Values {
	q := url.Values{}
	set := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}

	set("message", req.Message)
	set("mode", string(req.Mode))
	set("model", req.Model)
	set("level", req.Level)
	set("style", req.Style)
	set("subject", req.Subject)
	set("goal", req.Goal)
	if req.IntegrityMode {
		q.Set("integrityMode", "true")
	}
	set("place", req.Place)
	set("timePerDay", req.TimePerDay)
	set("workspaceContext", req.WorkspaceContext)
	if req.Regenerate {
		q.Set("regenerate", "true")
		set("regenerateStyle", string(req.RegenerateStyle))
	}
	set("quickAction", string(req.QuickAction))
	set("referenceMessageId", req.ReferenceMessageID)

	return q
}

// ParseStreamQuery is the inverse of StreamQuery.
func ParseStreamQuery(conversationID string, q url.Values) *model.StreamRequest {
	integrity, _ := strconv.ParseBool(q.Get("integrityMode"))
	regenerate, _ := strconv.ParseBool(q.Get("regenerate"))

	return &model.StreamRequest{
		ConversationID:     conversationID,
		Message:            q.Get("message"),
		Mode:               model.Mode(q.Get("mode")),
		Model:              q.Get("model"),
		Level:              q.Get("level"),
		Style:              q.Get("style"),
		Subject:            q.Get("subject"),
		Goal:               q.Get("goal"),
		IntegrityMode:      integrity,
		Place:              q.Get("place"),
		TimePerDay:         q.Get("timePerDay"),
		WorkspaceContext:   q.Get("workspaceContext"),
		Regenerate:         regenerate,
		RegenerateStyle:    model.RegenerateStyle(q.Get("regenerateStyle")),
		QuickAction:        model.QuickAction(q.Get("quickAction")),
		ReferenceMessageID: q.Get("referenceMessageId"),
	}
}

// ListMessages returns the authoritative message list of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var resp model.ListMessagesResponse
	path := "/api/chat/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// ListConversations returns the caller's conversations.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var resp model.ListConversationsResponse
	if err := c.getJSON(ctx, "/api/chat/conversations", &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	// Only a JSON error body is shown to users; HTML pages from proxies are not.
	msg := http.StatusText(resp.StatusCode)
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case strings.TrimSpace(payload.Error) != "":
			msg = strings.TrimSpace(payload.Error)
		case strings.TrimSpace(payload.Message) != "":
			msg = strings.TrimSpace(payload.Message)
		}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
