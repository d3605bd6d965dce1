// Package relay places outbound collection calls through the call relay,
// which forwards them to the voice provider's outbound-calling endpoint.
package relay

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

	"collections-agent/internal/schema"
)

const DefaultURL = "http://localhost:8000"

// OutboundCall is the relay request body.
type OutboundCall struct {
	Number       string `json:"number"`
	Prompt       string `json:"prompt"`
	FirstMessage string `json:"first_message"`
}

// CallResult holds whatever identifiers the provider echoed back. Either may
// be empty.
type CallResult struct {
	CallID         string
	ConversationID string
}

type callResponse struct {
	Success        *bool   `json:"success"`
	Message        *string `json:"message"`
	CallID         *string `json:"call_id"`
	CallSID        *string `json:"call_sid"`
	CallSIDCamel   *string `json:"callSid"`
	ConversationID *string `json:"conversation_id"`
}

// HTTPStatusError captures non-2xx relay responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("relay: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// UnreadableResponseError means the relay accepted the request with a 2xx but
// the body could not be used. The call may already be ringing, so callers
// must treat it as placed and must not dial again.
type UnreadableResponseError struct {
	StatusCode int
	Err        error
}

func (e *UnreadableResponseError) Error() string {
	return fmt.Sprintf("relay: accepted with status %d but response is unreadable: %v", e.StatusCode, e.Err)
}

func (e *UnreadableResponseError) Unwrap() error { return e.Err }

type Client struct {
	url        string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(relayURL string, opts ...Option) (*Client, error) {
	relayURL = strings.TrimSpace(relayURL)
	if relayURL == "" {
		return nil, errors.New("relay: url must not be empty")
	}
	c := &Client{
		url:        relayURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PlaceCall sends one outbound call request. It is not retried here; a
// repeated request places a second real call.
func (c *Client) PlaceCall(ctx context.Context, call OutboundCall) (CallResult, error) {
	body, err := json.Marshal(call)
	if err != nil {
		return CallResult{}, fmt.Errorf("relay: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return CallResult{}, fmt.Errorf("relay: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return CallResult{}, fmt.Errorf("relay: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return CallResult{}, &HTTPStatusError{StatusCode: res.StatusCode, URL: c.url, Body: string(buf)}
	}
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return CallResult{}, &UnreadableResponseError{StatusCode: res.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if err := schema.Validate(schema.OutboundCall, raw); err != nil {
		return CallResult{}, &UnreadableResponseError{StatusCode: res.StatusCode, Err: err}
	}

	var payload callResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return CallResult{}, &UnreadableResponseError{StatusCode: res.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	if payload.Success != nil && !*payload.Success {
		return CallResult{}, fmt.Errorf("relay: call rejected: %s", deref(payload.Message))
	}
	return CallResult{
		CallID:         firstNonEmpty(payload.CallID, payload.CallSID, payload.CallSIDCamel),
		ConversationID: deref(payload.ConversationID),
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func firstNonEmpty(vals ...*string) string {
	for _, v := range vals {
		if s := deref(v); s != "" {
			return s
		}
	}
	return ""
}
