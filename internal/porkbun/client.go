// Package porkbun is the second provider backend. It speaks the Porkbun
// v3 JSON API and satisfies the same narrow facade as the Cloudflare
// client, so the provisioning pipeline never learns which registrar
// hosts the zone. Porkbun addresses zones by bare domain name, so the
// zone id passed through the facade is the domain itself.
package porkbun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/inboxlane/maildns/internal/cloudflare"
)

const defaultBaseURL = "https://api.porkbun.com/api/json/v3"

// Client talks to the Porkbun v3 API with an API key pair. Every call is
// a POST carrying the credentials in the body.
type Client struct {
	apiKey    string
	secretKey string
	client    *http.Client
	baseURL   string
}

func NewClient(apiKey, secretKey string) *Client {
	return &Client{
		apiKey:    apiKey,
		secretKey: secretKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: defaultBaseURL,
	}
}

// NewClientWithURL points the client at an alternate endpoint, used by
// tests.
func NewClientWithURL(apiKey, secretKey, baseURL string) *Client {
	return &Client{
		apiKey:    apiKey,
		secretKey: secretKey,
		client:    &http.Client{},
		baseURL:   strings.TrimSuffix(baseURL, "/"),
	}
}

func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

type status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (s status) ok() bool { return s.Status == "SUCCESS" }

// record is a DNS record as Porkbun reports it. TTL and priority arrive
// as strings on the wire.
type record struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
	TTL     string `json:"ttl"`
	Prio    string `json:"prio"`
}

// VerifyToken pings the API, which fails on a bad key pair.
func (c *Client) VerifyToken(ctx context.Context) error {
	var resp status
	return c.post(ctx, "/ping", nil, &resp)
}

// ListRecords returns every DNS record in the zone.
func (c *Client) ListRecords(ctx context.Context, zoneID string) ([]cloudflare.Record, error) {
	var resp struct {
		status
		Records []record `json:"records"`
	}
	if err := c.post(ctx, "/dns/retrieve/"+zoneID, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]cloudflare.Record, 0, len(resp.Records))
	for _, r := range resp.Records {
		out = append(out, toFacadeRecord(r))
	}
	return out, nil
}

// CreateRecord writes one record and returns the provider's id for it.
// The facade hands over fully qualified names; Porkbun wants the name
// relative to the zone.
func (c *Client) CreateRecord(ctx context.Context, zoneID string, rec cloudflare.Record) (string, error) {
	payload := map[string]string{
		"name":    relativeName(rec.Name, zoneID),
		"type":    rec.Type,
		"content": rec.Content,
	}
	if rec.TTL > 0 {
		payload["ttl"] = strconv.Itoa(rec.TTL)
	}
	if rec.Priority != nil {
		payload["prio"] = strconv.Itoa(*rec.Priority)
	}

	var resp struct {
		status
		ID int64 `json:"id"`
	}
	if err := c.post(ctx, "/dns/create/"+zoneID, payload, &resp); err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.ID, 10), nil
}

// DeleteRecord removes one record by provider id.
func (c *Client) DeleteRecord(ctx context.Context, zoneID, recordID string) error {
	var resp status
	return c.post(ctx, fmt.Sprintf("/dns/delete/%s/%s", zoneID, recordID), nil, &resp)
}

// statusHolder is implemented by every response struct via the embedded
// status.
type statusHolder interface{ ok() bool }

func (c *Client) post(ctx context.Context, path string, extra map[string]string, out any) error {
	payload := map[string]string{
		"apikey":       c.apiKey,
		"secretapikey": c.secretKey,
	}
	for k, v := range extra {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return fmt.Errorf("HTTP %d %s: %s", resp.StatusCode, resp.Status, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w, body: %s", err, string(respBody))
	}
	if holder, ok := out.(statusHolder); ok && !holder.ok() {
		var env status
		_ = json.Unmarshal(respBody, &env)
		if env.Message == "" {
			env.Message = "unknown error"
		}
		return fmt.Errorf("Porkbun API error: %s", env.Message)
	}
	return nil
}

func toFacadeRecord(r record) cloudflare.Record {
	out := cloudflare.Record{
		ID:      r.ID,
		Type:    r.Type,
		Name:    strings.TrimSuffix(r.Name, "."),
		Content: r.Content,
	}
	if ttl, err := strconv.Atoi(r.TTL); err == nil {
		out.TTL = ttl
	}
	if r.Prio != "" && r.Prio != "0" {
		if prio, err := strconv.Atoi(r.Prio); err == nil {
			out.Priority = &prio
		}
	}
	return out
}

// relativeName strips the zone from a fully qualified name. The apex
// becomes the empty string, which Porkbun treats as the root record.
func relativeName(fqdn, zone string) string {
	name := strings.TrimSuffix(fqdn, ".")
	if strings.EqualFold(name, zone) {
		return ""
	}
	return strings.TrimSuffix(name, "."+zone)
}

var _ cloudflare.API = (*Client)(nil)
