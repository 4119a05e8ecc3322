// Package medlink provides the Go SDK for the MedLink professional network
// messaging core.
//
// The SDK covers the realtime messaging subsystem: the REST collaborators
// (message history, conversation summaries, identity lookup, search), the
// websocket connection manager, and the in-memory conversation state store
// with its optimistic send/confirm protocol.
//
// Example:
//
//	client := medlink.NewClient(token)
//	rt := client.Realtime().Connect(&medlink.RealtimeConfig{Token: token})
//	store := medlink.NewChatStore(client, rt, medlink.ChatStoreOptions{SelfID: "u1"})
//	store.Bind()
//	_ = rt.Dial(ctx, "u1")
//	_, _ = store.SendMessage(ctx, "u2", "hello", nil)
package medlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.medlink.network"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST client for the MedLink API.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	users         *UsersClient
	conversations *ConversationsClient
	messages      *MessagesClient
	realtime      *RealtimeFactory
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a new MedLink client. token is the session credential
// also used for the realtime handshake.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.users = &UsersClient{client: c}
	c.conversations = &ConversationsClient{client: c}
	c.messages = &MessagesClient{client: c}
	c.realtime = &RealtimeFactory{client: c}
	return c
}

// SetToken replaces the session credential, e.g. after a token refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token returns the current session credential.
func (c *Client) Token() string {
	return c.token
}

// Users returns the identity lookup and search sub-client.
func (c *Client) Users() *UsersClient { return c.users }

// Conversations returns the conversation summaries sub-client.
func (c *Client) Conversations() *ConversationsClient { return c.conversations }

// Messages returns the message history sub-client.
func (c *Client) Messages() *MessagesClient { return c.messages }

// Realtime returns the realtime connection factory.
func (c *Client) Realtime() *RealtimeFactory { return c.realtime }

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Result](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func paginationQuery(opts *PaginationOptions) map[string]string {
	q := map[string]string{}
	if opts != nil {
		if opts.Limit > 0 {
			q["limit"] = fmt.Sprintf("%d", opts.Limit)
		}
		if opts.Offset > 0 {
			q["offset"] = fmt.Sprintf("%d", opts.Offset)
		}
	}
	return q
}

// ============================================================================
// Sub-Clients
// ============================================================================

// UsersClient handles identity lookup and directory search.
type UsersClient struct{ client *Client }

// GetByID resolves an identity reference to a display profile.
func (u *UsersClient) GetByID(ctx context.Context, id string) (*Profile, error) {
	res, err := u.client.do(ctx, "GET", "/api/users/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		if res.Error != nil {
			return nil, res.Error
		}
		return nil, fmt.Errorf("user lookup failed")
	}
	var p Profile
	if err := res.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &p, nil
}

// SearchPeople queries the person index by name.
func (u *UsersClient) SearchPeople(ctx context.Context, query string) ([]SearchResult, error) {
	return u.search(ctx, "/api/search/users", query, "person")
}

// SearchInstitutions queries the institution index by name.
func (u *UsersClient) SearchInstitutions(ctx context.Context, query string) ([]SearchResult, error) {
	return u.search(ctx, "/api/search/institutions", query, "institution")
}

func (u *UsersClient) search(ctx context.Context, path, query, kind string) ([]SearchResult, error) {
	res, err := u.client.do(ctx, "GET", path, nil, map[string]string{"q": query})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		if res.Error != nil {
			return nil, res.Error
		}
		return nil, fmt.Errorf("search failed")
	}
	var profiles []Profile
	if err := res.Decode(&profiles); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}
	results := make([]SearchResult, 0, len(profiles))
	for _, p := range profiles {
		results = append(results, SearchResult{Profile: p, Kind: kind})
	}
	return results, nil
}

// ConversationsClient handles the conversation summaries endpoint.
type ConversationsClient struct{ client *Client }

// List fetches the full conversation summary list for selfID. The server
// maintains these aggregates; the SDK refreshes them wholesale.
func (cv *ConversationsClient) List(ctx context.Context, selfID string) ([]ConversationSummary, error) {
	res, err := cv.client.do(ctx, "GET", "/api/conversations", nil, map[string]string{"userId": selfID})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		if res.Error != nil {
			return nil, res.Error
		}
		return nil, fmt.Errorf("conversation list failed")
	}
	var summaries []ConversationSummary
	if err := res.Decode(&summaries); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return summaries, nil
}

// MessagesClient handles the message history endpoint.
type MessagesClient struct{ client *Client }

// History fetches a page of messages between selfID and otherID. The
// endpoint returns messages in chronological order; the SDK does not
// re-sort.
func (m *MessagesClient) History(ctx context.Context, selfID, otherID string, opts *PaginationOptions) ([]Message, error) {
	q := paginationQuery(opts)
	q["userId"] = selfID
	res, err := m.client.do(ctx, "GET", "/api/messages/"+url.PathEscape(otherID), nil, q)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		if res.Error != nil {
			return nil, res.Error
		}
		return nil, fmt.Errorf("message history failed")
	}
	var msgs []Message
	if err := res.Decode(&msgs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return msgs, nil
}
