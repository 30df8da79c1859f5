package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the persona service's non-streaming REST surface:
// session bootstrap, insight CRUD and knowledge-context attachment.
// Streaming chat lives in the stream package.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new REST client with the default timeout
func NewClient(baseURL string) *Client {
	return NewClientWithTimeout(baseURL, 30*time.Second)
}

// NewClientWithTimeout creates a new REST client with a custom timeout
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the configured server base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StartSession opens a new chat session for a persona. The same endpoint serves
// streaming turns; sending {"mode": "start"} without a sessionId selects the
// non-streaming bootstrap response.
func (c *Client) StartSession(ctx context.Context, personaID string) (SessionBootstrap, error) {
	body := map[string]string{"mode": "start"}

	var bootstrap SessionBootstrap
	endpoint := fmt.Sprintf("%s/api/personas/%s/chat", c.baseURL, url.PathEscape(personaID))
	if err := c.post(ctx, endpoint, body, &bootstrap); err != nil {
		return SessionBootstrap{}, fmt.Errorf("failed to start session: %w", err)
	}

	if bootstrap.SessionID == "" {
		return SessionBootstrap{}, fmt.Errorf("start session: server returned empty sessionId")
	}
	return bootstrap, nil
}

// ListInsights returns all insights recorded for a session
func (c *Client) ListInsights(ctx context.Context, personaID, sessionID string) ([]Insight, error) {
	var resp struct {
		Insights []Insight `json:"insights"`
	}
	endpoint := fmt.Sprintf("%s/api/personas/%s/chat/%s/insights",
		c.baseURL, url.PathEscape(personaID), url.PathEscape(sessionID))
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}
	return resp.Insights, nil
}

// CreateInsight asks the server to derive an insight from one assistant message
func (c *Client) CreateInsight(ctx context.Context, personaID, sessionID, messageID string) (Insight, error) {
	body := map[string]string{"messageId": messageID}

	var insight Insight
	endpoint := fmt.Sprintf("%s/api/personas/%s/chat/%s/insights",
		c.baseURL, url.PathEscape(personaID), url.PathEscape(sessionID))
	if err := c.post(ctx, endpoint, body, &insight); err != nil {
		return Insight{}, fmt.Errorf("failed to create insight: %w", err)
	}
	return insight, nil
}

// DeleteInsight removes a single insight by id
func (c *Client) DeleteInsight(ctx context.Context, personaID, sessionID, insightID string) error {
	endpoint := fmt.Sprintf("%s/api/personas/%s/chat/%s/insights?insightId=%s",
		c.baseURL, url.PathEscape(personaID), url.PathEscape(sessionID), url.QueryEscape(insightID))
	if err := c.delete(ctx, endpoint); err != nil {
		return fmt.Errorf("failed to delete insight: %w", err)
	}
	return nil
}

// ListContext returns the knowledge references currently attached to a session
func (c *Client) ListContext(ctx context.Context, personaID, sessionID string) ([]ContextItem, error) {
	var resp struct {
		Items []ContextItem `json:"items"`
	}
	endpoint := fmt.Sprintf("%s/api/personas/%s/chat/%s/context",
		c.baseURL, url.PathEscape(personaID), url.PathEscape(sessionID))
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("failed to list context: %w", err)
	}
	return resp.Items, nil
}

// ApplyContext attaches a selection of knowledge references to a session as one
// all-or-nothing bulk operation
func (c *Client) ApplyContext(ctx context.Context, personaID, sessionID string, items []ContextItem) error {
	body := struct {
		Items []ContextItem `json:"items"`
	}{Items: items}

	endpoint := fmt.Sprintf("%s/api/personas/%s/chat/%s/context",
		c.baseURL, url.PathEscape(personaID), url.PathEscape(sessionID))
	if err := c.post(ctx, endpoint, body, nil); err != nil {
		return fmt.Errorf("failed to apply context: %w", err)
	}
	return nil
}

// RemoveContext detaches a single knowledge reference from a session
func (c *Client) RemoveContext(ctx context.Context, personaID, sessionID, itemID string) error {
	endpoint := fmt.Sprintf("%s/api/personas/%s/chat/%s/context?itemId=%s",
		c.baseURL, url.PathEscape(personaID), url.PathEscape(sessionID), url.QueryEscape(itemID))
	if err := c.delete(ctx, endpoint); err != nil {
		return fmt.Errorf("failed to remove context: %w", err)
	}
	return nil
}

// AvailableContext returns the catalogue of knowledge references that can be
// attached to a chat session
func (c *Client) AvailableContext(ctx context.Context, personaID string) ([]ContextItem, error) {
	var resp struct {
		Items []ContextItem `json:"items"`
	}
	endpoint := fmt.Sprintf("%s/api/personas/%s/chat-available", c.baseURL, url.PathEscape(personaID))
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("failed to list available context: %w", err)
	}
	return resp.Items, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) delete(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, extractError(resp.Body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// extractError pulls a human-readable message out of an error response body,
// preferring a JSON {"error": "..."} shape and falling back to the raw body.
func extractError(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "no error detail"
	}

	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
		return errResp.Error
	}
	return string(raw)
}
