// Package backend consumes the Hestory interview service REST contract. The
// client is an explicitly injected collaborator: base URL, bearer token, and
// transport are constructor state, never process-wide globals.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ddoriboo/hestorygem/internal/reliability"
)

// APIError is the uniform transport failure every backend operation can
// surface. The interview core treats any APIError as "operation failed".
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend status %d: %s", e.Status, e.Detail)
}

// Retryable reports whether the UI may invite the user to simply resend.
func (e *APIError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Status)
}

type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New builds a client for the given backend base URL. token may be empty for
// deployments where the gateway sits behind the auth boundary.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) GetSession(ctx context.Context, sessionID int64) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%d", sessionID), nil, nil, &out)
	return out, err
}

func (c *Client) ListSessions(ctx context.Context) (SessionList, error) {
	var out SessionList
	err := c.do(ctx, http.MethodGet, "/api/sessions/", nil, nil, &out)
	return out, err
}

// UpdateSession marks a session completed or reopens it.
func (c *Client) UpdateSession(ctx context.Context, sessionID int64, isCompleted bool) (Session, error) {
	var out Session
	body := map[string]any{"is_completed": isCompleted}
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/sessions/%d", sessionID), nil, body, &out)
	return out, err
}

func (c *Client) GetSessionProgress(ctx context.Context, sessionID int64) (SessionProgress, error) {
	var out SessionProgress
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%d/progress", sessionID), nil, nil, &out)
	return out, err
}

func (c *Client) GetSessionFlowStatus(ctx context.Context, sessionID int64) (FlowStatus, error) {
	var out FlowStatus
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%d/flow-status", sessionID), nil, nil, &out)
	return out, err
}

// InitializeSessionFlow asks the AI interviewer for a session's opening
// message. Called once per empty session.
func (c *Client) InitializeSessionFlow(ctx context.Context, sessionID int64) (FlowInit, error) {
	var out FlowInit
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%d/initialize-flow", sessionID), nil, nil, &out)
	return out, err
}

func (c *Client) GetSessionConversations(ctx context.Context, sessionID int64) (ConversationList, error) {
	var out ConversationList
	q := url.Values{}
	q.Set("skip", "0")
	q.Set("limit", "100")
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/conversations/session/%d", sessionID), q, nil, &out)
	return out, err
}

// CreateInterviewTurn sends one user utterance and returns the AI reply.
func (c *Client) CreateInterviewTurn(ctx context.Context, sessionID int64, message, conversationType string) (InterviewResult, error) {
	if strings.TrimSpace(conversationType) == "" {
		conversationType = "text"
	}
	var out InterviewResult
	req := interviewRequest{SessionID: sessionID, ConversationType: conversationType, Message: message}
	err := c.do(ctx, http.MethodPost, "/api/conversations/interview", nil, req, &out)
	return out, err
}

func (c *Client) GenerateAutobiography(ctx context.Context, format string) (Autobiography, error) {
	if strings.TrimSpace(format) == "" {
		format = "text"
	}
	q := url.Values{}
	q.Set("format", format)
	var out Autobiography
	err := c.do(ctx, http.MethodPost, "/api/autobiography/generate", q, nil, &out)
	return out, err
}

func (c *Client) GetAutobiographyStatus(ctx context.Context) (AutobiographyStatus, error) {
	var out AutobiographyStatus
	err := c.do(ctx, http.MethodGet, "/api/autobiography/status", nil, nil, &out)
	return out, err
}

func (c *Client) GetAutobiographyPreview(ctx context.Context, sessionNumbers []int) (Autobiography, error) {
	var q url.Values
	if len(sessionNumbers) > 0 {
		parts := make([]string, len(sessionNumbers))
		for i, n := range sessionNumbers {
			parts[i] = strconv.Itoa(n)
		}
		q = url.Values{}
		q.Set("session_numbers", strings.Join(parts, ","))
	}
	var out Autobiography
	err := c.do(ctx, http.MethodGet, "/api/autobiography/preview", q, nil, &out)
	return out, err
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{Status: res.StatusCode, Detail: readDetail(res.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readDetail extracts FastAPI-style {"detail": "..."} bodies, falling back to
// the raw text.
func readDetail(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 4<<10))
	var obj struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Detail != "" {
		return obj.Detail
	}
	return strings.TrimSpace(string(raw))
}
