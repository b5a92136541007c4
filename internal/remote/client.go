// Package remote is the HTTP client for the tabrecall ingestion and auth
// API, consumed by the sync engine.
package remote

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

	"github.com/tabrecall/tabrecall/internal/event"
)

// Client error taxonomy. The sync engine treats these differently: an
// unauthorized client stops syncing and surfaces re-authentication, a bad
// batch is dropped and reported, anything else is transient and retried on
// the next cycle.
var (
	ErrUnauthorized = errors.New("authentication required")
	ErrRejected     = errors.New("request rejected by server")
)

// MaxBatchSize is the largest batch the ingestion endpoint accepts.
const MaxBatchSize = 100

// Client is a bearer-token HTTP client for the tabrecall server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client for the given server base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken sets the bearer credential attached to authenticated calls.
func (c *Client) SetToken(token string) {
	c.token = token
}

// HasToken reports whether a credential is present.
func (c *Client) HasToken() bool {
	return c.token != ""
}

// apiResponse is the server's uniform response envelope.
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type batchRequest struct {
	Events []event.Event `json:"events"`
}

type batchData struct {
	SyncedCount int `json:"synced_count"`
}

// PostEventBatch sends one ordered batch (1..MaxBatchSize events) to the
// ingestion endpoint and returns the accepted count.
func (c *Client) PostEventBatch(ctx context.Context, events []event.Event) (int, error) {
	if len(events) == 0 || len(events) > MaxBatchSize {
		return 0, fmt.Errorf("%w: batch size %d outside 1..%d", ErrRejected, len(events), MaxBatchSize)
	}

	var data batchData
	if err := c.post(ctx, "/events/batch", batchRequest{Events: events}, &data, true); err != nil {
		return 0, err
	}
	return data.SyncedCount, nil
}

// Credentials is an issued access/refresh token pair.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token pair and installs the access
// token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*Credentials, error) {
	var creds Credentials
	if err := c.post(ctx, "/auth/login", authRequest{Email: email, Password: password}, &creds, false); err != nil {
		return nil, err
	}
	c.token = creds.AccessToken
	return &creds, nil
}

// Register creates an account and returns its first token pair.
func (c *Client) Register(ctx context.Context, email, password string) (*Credentials, error) {
	var creds Credentials
	if err := c.post(ctx, "/auth/register", authRequest{Email: email, Password: password}, &creds, false); err != nil {
		return nil, err
	}
	c.token = creds.AccessToken
	return &creds, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh rotates the token pair using a refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	var creds Credentials
	if err := c.post(ctx, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, &creds, false); err != nil {
		return nil, err
	}
	c.token = creds.AccessToken
	return &creds, nil
}

// SessionQuery narrows a session listing. Zero-valued fields are omitted
// from the request.
type SessionQuery struct {
	Limit  int
	Offset int
	Mode   string
	From   time.Time
	To     time.Time
}

// ListSessions fetches a page of sessions matching the query.
func (c *Client) ListSessions(ctx context.Context, q SessionQuery) ([]SessionSummary, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("offset", strconv.Itoa(q.Offset))
	if q.Mode != "" {
		params.Set("mode", q.Mode)
	}
	if !q.From.IsZero() {
		params.Set("from", q.From.UTC().Format(time.RFC3339))
	}
	if !q.To.IsZero() {
		params.Set("to", q.To.UTC().Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	var data struct {
		Sessions []SessionSummary `json:"sessions"`
	}
	if err := c.do(req, &data); err != nil {
		return nil, err
	}
	return data.Sessions, nil
}

// SessionSummary is the client-side view of a listed session.
type SessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary,omitempty"`
	Confidence   float64   `json:"confidence"`
	StartedAt    time.Time `json:"started_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Mode         string    `json:"mode"`
	TabCount     int       `json:"tab_count"`
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}, authed bool) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		c.authorize(req)
	}

	return c.do(req, out)
}

// do executes a request and decodes the response envelope, mapping HTTP
// status classes onto the client error taxonomy.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, envelope.Error)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %s", ErrRejected, envelope.Error)
	case resp.StatusCode >= 500:
		return fmt.Errorf("server error (status %d): %s", resp.StatusCode, envelope.Error)
	case !envelope.Success:
		return fmt.Errorf("server error: %s", envelope.Error)
	}

	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("unmarshal response data: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
