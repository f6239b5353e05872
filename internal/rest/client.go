package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a read-only client for the PostgREST facade in front of the
// database. It is used by diagnostics only; it never runs DDL.
type Client struct {
	baseURL string
	key     string
	client  *http.Client
}

// NewClient creates a Client for the project at baseURL (e.g.
// https://xyz.supabase.co) authenticating with the service role key.
func NewClient(baseURL, serviceRoleKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     serviceRoleKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Select reads up to limit rows of table into out, which must be a pointer
// to a slice. limit <= 0 reads every row.
func (c *Client) Select(ctx context.Context, table string, limit int, out any) error {
	q := url.Values{}
	q.Set("select", "*")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	_, body, err := c.do(ctx, http.MethodGet, table, q, nil)
	if err != nil {
		return fmt.Errorf("rest: select %s: %w", table, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("rest: select %s: decode: %w", table, err)
	}
	return nil
}

// Count returns the exact row count of table. It asks for a single row so
// error responses still carry the PostgREST JSON body, which HEAD drops.
func (c *Client) Count(ctx context.Context, table string) (int, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("limit", "1")

	resp, _, err := c.do(ctx, http.MethodGet, table, q, map[string]string{"Prefer": "count=exact"})
	if err != nil {
		return 0, fmt.Errorf("rest: count %s: %w", table, err)
	}
	n, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return 0, fmt.Errorf("rest: count %s: %w", table, err)
	}
	return n, nil
}

func (c *Client) do(ctx context.Context, method, table string, q url.Values, headers map[string]string) (*http.Response, []byte, error) {
	u := fmt.Sprintf("%s/rest/v1/%s?%s", c.baseURL, url.PathEscape(table), q.Encode())

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, statusError(resp.StatusCode, data)
	}
	return resp, data, nil
}

// Error is a non-2xx answer from the facade.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	switch e.Status {
	case http.StatusUnauthorized:
		return fmt.Sprintf("authentication failed (401): %s", e.Message)
	case http.StatusNotFound:
		return fmt.Sprintf("not found (404): %s", e.Message)
	default:
		return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Message)
	}
}

func statusError(status int, body []byte) error {
	var pgErr struct {
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	if json.Unmarshal(body, &pgErr) == nil && pgErr.Message != "" {
		msg = pgErr.Message
	}
	return &Error{Status: status, Message: msg}
}

// parseContentRange extracts the total from "0-24/3573" or "*/0".
func parseContentRange(h string) (int, error) {
	i := strings.LastIndexByte(h, '/')
	if i < 0 || i == len(h)-1 {
		return 0, fmt.Errorf("missing total in Content-Range %q", h)
	}
	total := h[i+1:]
	if total == "*" {
		return 0, fmt.Errorf("server did not report a total in Content-Range %q", h)
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("parse Content-Range %q: %w", h, err)
	}
	return n, nil
}
