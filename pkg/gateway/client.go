// Package gateway forwards chat messages to the upstream gateway service and
// classifies every exchange into a Result instead of surfacing errors.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/chatrelay/pkg/chat"
)

// ChatPath is the gateway endpoint messages are posted to.
const ChatPath = "/api/chat"

// maxBodySize caps how much of an upstream response body is read.
const maxBodySize = 1 << 20

// ErrUpstreamStatus is wrapped into Result.Err when the gateway answers with a non-2xx status.
var ErrUpstreamStatus = errors.New("upstream returned non-2xx status")

// Client posts messages to a single gateway.
type Client struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is left as given.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a Client for the gateway at baseURL. Every Send is abandoned
// once timeout elapses.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		url:     strings.TrimRight(baseURL, "/") + ChatPath,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the full endpoint the client posts to.
func (c *Client) URL() string {
	return c.url
}

// Send makes exactly one attempt to deliver message and reports what happened.
func (c *Client) Send(ctx context.Context, message string) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody, err := json.Marshal(chat.NewRequest(message))
	if err != nil {
		return unavailable(fmt.Errorf("marshal request: %w", err), 0, start)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return unavailable(fmt.Errorf("create request: %w", err), 0, start)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return unavailable(fmt.Errorf("do request: %w", err), 0, start)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return unavailable(fmt.Errorf("read response: %w", err), httpResp.StatusCode, start)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return unavailable(
			fmt.Errorf("%w: %d: %s", ErrUpstreamStatus, httpResp.StatusCode, truncate(string(body), 200)),
			httpResp.StatusCode, start,
		)
	}

	reply, err := extractReply(body)
	if err != nil {
		return Result{
			Outcome:  OutcomeMalformed,
			Err:      err,
			Status:   httpResp.StatusCode,
			Duration: time.Since(start),
		}
	}

	return Result{
		Outcome:  OutcomeReply,
		Reply:    reply,
		Status:   httpResp.StatusCode,
		Duration: time.Since(start),
	}
}

// extractReply pulls a non-empty string "reply" field out of body.
func extractReply(body []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	raw, ok := fields["reply"]
	if !ok {
		return "", errors.New("response has no reply field")
	}

	var reply string
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", fmt.Errorf("reply field is not a string: %w", err)
	}
	if reply == "" {
		return "", errors.New("reply field is empty")
	}

	return reply, nil
}

func unavailable(err error, status int, start time.Time) Result {
	return Result{
		Outcome:  OutcomeUnavailable,
		Err:      err,
		Status:   status,
		Duration: time.Since(start),
	}
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
