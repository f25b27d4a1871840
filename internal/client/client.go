// Package client talks to the answering service and the news search API over
// JSON/HTTP. A *Client satisfies both transcript ports.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/newsdesk/internal/config"
	"github.com/zhouzirui/newsdesk/internal/model/chat"
)

// ErrEmptyResponse is returned when the service answers with no text.
var ErrEmptyResponse = errors.New("empty response from answering service")

// StatusError reports a non-2xx reply.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.Path, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s %s returned status %d", e.Method, e.Path, e.Code)
}

// NotFound reports whether the service did not know the resource.
func (e *StatusError) NotFound() bool {
	return e.Code == http.StatusNotFound
}

// Client is a thin JSON client for the answering and news endpoints.
type Client struct {
	baseURL     string
	newsBaseURL string
	http        *http.Client
	logger      *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a Client from cfg. Requests time out after cfg.Timeout.
func New(cfg config.ClientConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	newsBase := cfg.NewsBaseURL
	if newsBase == "" {
		newsBase = cfg.BaseURL
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		newsBaseURL: strings.TrimRight(newsBase, "/"),
		http:        &http.Client{Timeout: timeout},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sessionResponse struct {
	SessionID string         `json:"sessionId"`
	Messages  []chat.Message `json:"messages"`
}

// CreateSession asks the service for a fresh session id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var resp sessionResponse
	if err := c.do(ctx, c.baseURL, http.MethodPost, "/session", struct{}{}, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("create session: missing sessionId in response")
	}
	return resp.SessionID, nil
}

// ResetSession deletes a session and its history on the service.
func (c *Client) ResetSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, c.baseURL, http.MethodDelete, "/session/"+url.PathEscape(sessionID), nil, nil)
}

// LoadTranscript fetches the stored history of a session.
func (c *Client) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var resp sessionResponse
	if err := c.do(ctx, c.baseURL, http.MethodGet, "/session/"+url.PathEscape(sessionID)+"/messages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Ask submits text and returns the service's answer.
func (c *Client) Ask(ctx context.Context, text, sessionID string) (string, error) {
	payload := map[string]string{"sessionId": sessionID, "message": text}

	var resp struct {
		Response string `json:"response"`
	}
	if err := c.do(ctx, c.baseURL, http.MethodPost, "/chat/", payload, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Response) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Response, nil
}

// SearchNews runs a query against the news index.
func (c *Client) SearchNews(ctx context.Context, query string) ([]chat.Article, error) {
	var raw json.RawMessage
	if err := c.do(ctx, c.newsBaseURL, http.MethodPost, "/news/search", map[string]string{"query": query}, &raw); err != nil {
		return nil, err
	}
	return decodeArticles(raw)
}

// NewsRetriever exposes news search under the name the answering service
// expects from a retriever.
type NewsRetriever struct {
	*Client
}

// Search delegates to SearchNews.
func (r NewsRetriever) Search(ctx context.Context, query string) ([]chat.Article, error) {
	return r.SearchNews(ctx, query)
}

// RecentNews lists recently ingested articles.
func (c *Client) RecentNews(ctx context.Context) ([]chat.Article, error) {
	var raw json.RawMessage
	if err := c.do(ctx, c.newsBaseURL, http.MethodGet, "/news/recent", nil, &raw); err != nil {
		return nil, err
	}
	return decodeArticles(raw)
}

// decodeArticles accepts either a bare array or {"articles": [...]}.
func decodeArticles(raw json.RawMessage) ([]chat.Article, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var articles []chat.Article
		if err := json.Unmarshal(trimmed, &articles); err != nil {
			return nil, fmt.Errorf("failed to decode articles: %w", err)
		}
		return articles, nil
	}

	var wrapped struct {
		Articles []chat.Article `json:"articles"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode articles: %w", err)
	}
	return wrapped.Articles, nil
}

func (c *Client) do(ctx context.Context, base, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("answering service call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Detail: errorDetail(resp.Body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// errorDetail pulls the message out of {"error": ...} or {"detail": ...}
// bodies and falls back to the raw text.
func errorDetail(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Detail != "" {
			return payload.Detail
		}
	}
	return strings.TrimSpace(string(data))
}
