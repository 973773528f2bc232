// Package nlp adapts the NLP sidecar service into the entity-extraction,
// sentiment-classification and topic-assignment capabilities.
package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds connection parameters for the sidecar.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// TopicTimeout bounds the batch clustering call separately, since it
	// runs over the whole corpus.
	TopicTimeout time.Duration
}

// Client is the shared HTTP plumbing for all three adapters.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	topicHTTP  *http.Client
}

// NewClient builds the shared client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	topicTimeout := cfg.TopicTimeout
	if topicTimeout <= 0 {
		topicTimeout = 10 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		topicHTTP:  &http.Client{Timeout: topicTimeout},
	}
}

// post sends a JSON request and decodes the JSON response into out. The
// caller classifies any returned httpStatusError into a capability error.
func (c *Client) post(ctx context.Context, httpClient *http.Client, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &httpStatusError{
			status: resp.StatusCode,
			body:   strings.TrimSpace(string(payload)),
			path:   path,
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// httpStatusError carries the response code for error classification.
type httpStatusError struct {
	status int
	body   string
	path   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("nlp %s returned %d: %s", e.path, e.status, e.body)
}
