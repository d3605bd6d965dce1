// Package elevenlabs reads conversations from the conversational-voice
// provider that runs the collection calls.
package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"collections-agent/internal/domain"
	"collections-agent/internal/integrations/paramstore"
	"collections-agent/internal/schema"
)

const (
	defaultBaseURL  = "https://api.elevenlabs.io/v1"
	defaultPageSize = 10
	maxPageSize     = 100
)

// HTTPStatusError captures non-2xx provider responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("elevenlabs: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// CredentialError means the API key or agent id could not be resolved.
// Retrying at poll cadence will not fix it.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("elevenlabs: credentials unavailable: %v", e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

func (e *CredentialError) Permanent() bool { return true }

type listResponse struct {
	Conversations []domain.ConversationListItem `json:"conversations"`
	HasMore       bool                          `json:"has_more"`
	NextCursor    *string                       `json:"next_cursor"`
}

type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string

	credMu  sync.Mutex
	apiKey  string
	agentID string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client. The API key ({prefix}/elevenlabs-token) and
// agent id ({prefix}/config/elevenlabs_agent_id) are read on first use.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("elevenlabs: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("elevenlabs: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) credentials(ctx context.Context) (apiKey, agentID string, err error) {
	c.credMu.Lock()
	defer c.credMu.Unlock()
	if c.apiKey != "" && c.agentID != "" {
		return c.apiKey, c.agentID, nil
	}
	key, err := paramstore.GetToken(ctx, c.getter, c.paramPrefix+"/elevenlabs-token")
	if err != nil {
		return "", "", credentialErr(err)
	}
	agent, err := c.getter.GetParameter(ctx, c.paramPrefix+"/config/elevenlabs_agent_id")
	if err != nil {
		return "", "", credentialErr(err)
	}
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return "", "", &CredentialError{Err: errors.New("agent id is empty")}
	}
	c.apiKey, c.agentID = key, agent
	return key, agent, nil
}

// credentialErr marks missing or malformed parameters as permanent. Anything
// else (throttling, network, expired session) stays transient and nothing is
// cached, so the next call looks the parameters up again.
func credentialErr(err error) error {
	if errors.Is(err, paramstore.ErrNotFound) || errors.Is(err, paramstore.ErrInvalidValue) {
		return &CredentialError{Err: err}
	}
	return fmt.Errorf("elevenlabs: resolve credentials: %w", err)
}

func (c *Client) conversationsURL() string {
	base := strings.TrimRight(c.baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/convai/conversations"
}

// ListConversations returns the most recent page of the agent's
// conversations, in provider order.
func (c *Client) ListConversations(ctx context.Context, pageSize int) ([]domain.ConversationListItem, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	apiKey, agentID, err := c.credentials(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("agent_id", agentID)
	q.Set("page_size", strconv.Itoa(pageSize))
	raw, err := c.getJSON(ctx, c.conversationsURL()+"?"+q.Encode(), apiKey)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list conversations: %w", err)
	}
	if err := schema.Validate(schema.ConversationList, raw); err != nil {
		return nil, fmt.Errorf("elevenlabs: list conversations: %w", err)
	}

	var payload listResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode conversation list: %w", err)
	}
	return payload.Conversations, nil
}

// GetConversation fetches one conversation with its transcript.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return domain.Conversation{}, errors.New("elevenlabs: conversation id must not be empty")
	}
	apiKey, _, err := c.credentials(ctx)
	if err != nil {
		return domain.Conversation{}, err
	}

	raw, err := c.getJSON(ctx, c.conversationsURL()+"/"+url.PathEscape(conversationID), apiKey)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("elevenlabs: get conversation %s: %w", conversationID, err)
	}
	if err := schema.Validate(schema.Conversation, raw); err != nil {
		return domain.Conversation{}, fmt.Errorf("elevenlabs: get conversation %s: %w", conversationID, err)
	}

	var conv domain.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return domain.Conversation{}, fmt.Errorf("elevenlabs: decode conversation %s: %w", conversationID, err)
	}
	return conv, nil
}

func (c *Client) getJSON(ctx context.Context, url, apiKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("xi-api-key", apiKey)

	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
