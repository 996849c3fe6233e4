// Package cloudflare is the authoritative DNS provider façade: list,
// create, and delete records in a zone over the v4 HTTP API. The engine
// only ever needs these three operations plus a token check.
package cloudflare

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

const defaultBaseURL = "https://api.cloudflare.com/client/v4"

// Record is one DNS record as the provider reports it.
type Record struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	TTL      int    `json:"ttl,omitempty"`
	Priority *int   `json:"priority,omitempty"`
	Proxied  *bool  `json:"proxied,omitempty"`
}

// API is the narrow surface the provisioning pipeline depends on.
type API interface {
	VerifyToken(ctx context.Context) error
	ListRecords(ctx context.Context, zoneID string) ([]Record, error)
	CreateRecord(ctx context.Context, zoneID string, record Record) (string, error)
	DeleteRecord(ctx context.Context, zoneID, recordID string) error
}

// Client talks to the Cloudflare v4 API with a bearer token.
type Client struct {
	token   string
	client  *http.Client
	baseURL string
}

func NewClient(token string) *Client {
	return &Client{
		token: token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: defaultBaseURL,
	}
}

// NewClientWithURL points the client at an alternate endpoint, used by
// tests.
func NewClientWithURL(token, baseURL string) *Client {
	return &Client{
		token:   token,
		client:  &http.Client{},
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool            `json:"success"`
	Errors  []apiError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

// VerifyToken checks the API token the way the dashboard does, without
// touching any zone.
func (c *Client) VerifyToken(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/user/tokens/verify", nil)
	return err
}

// ListRecords returns every DNS record in the zone.
func (c *Client) ListRecords(ctx context.Context, zoneID string) ([]Record, error) {
	result, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/zones/%s/dns_records?per_page=500", zoneID), nil)
	if err != nil {
		return nil, err
	}

	var records []Record
	if err := json.Unmarshal(result, &records); err != nil {
		return nil, fmt.Errorf("failed to decode record list: %w", err)
	}
	return records, nil
}

// CreateRecord writes one record and returns the provider's id for it.
func (c *Client) CreateRecord(ctx context.Context, zoneID string, record Record) (string, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return "", err
	}

	result, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/zones/%s/dns_records", zoneID), body)
	if err != nil {
		return "", err
	}

	var created Record
	if err := json.Unmarshal(result, &created); err != nil {
		return "", fmt.Errorf("failed to decode created record: %w", err)
	}
	return created.ID, nil
}

// DeleteRecord removes one record by provider id.
func (c *Client) DeleteRecord(ctx context.Context, zoneID, recordID string) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, recordID), nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("HTTP %d %s: %s", resp.StatusCode, resp.Status, string(respBody))
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response body: %w, body: %s", err, string(respBody))
	}
	if !env.Success {
		return nil, fmt.Errorf("Cloudflare API error: %s", formatErrors(env.Errors))
	}
	return env.Result, nil
}

func formatErrors(errs []apiError) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = fmt.Sprintf("%d: %s", e.Code, e.Message)
	}
	return strings.Join(parts, "; ")
}

var _ API = (*Client)(nil)
