package cloudflare

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/user/tokens/verify", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "result": map[string]string{"status": "active"}})
	}))
	defer server.Close()

	client := NewClientWithURL("token-123", server.URL)
	require.NoError(t, client.VerifyToken(context.Background()))
	assert.Equal(t, "Bearer token-123", gotAuth)
}

func TestVerifyTokenRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"errors":  []map[string]any{{"code": 9109, "message": "Invalid access token"}},
		})
	}))
	defer server.Close()

	client := NewClientWithURL("bad-token", server.URL)
	err := client.VerifyToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "9109: Invalid access token")
}

func TestListRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/zones/zone-1/dns_records", r.URL.Path)
		assert.Equal(t, "500", r.URL.Query().Get("per_page"))
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result": []map[string]any{
				{"id": "r1", "type": "TXT", "name": "example.com", "content": "v=spf1 ~all", "ttl": 3600},
				{"id": "r2", "type": "MX", "name": "example.com", "content": "smtp.google.com", "priority": 1},
			},
		})
	}))
	defer server.Close()

	client := NewClientWithURL("token", server.URL)
	records, err := client.ListRecords(context.Background(), "zone-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r1", records[0].ID)
	assert.Equal(t, "v=spf1 ~all", records[0].Content)
	require.NotNil(t, records[1].Priority)
	assert.Equal(t, 1, *records[1].Priority)
}

func TestCreateRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/zones/zone-1/dns_records", r.URL.Path)

		var body Record
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "TXT", body.Type)
		assert.Equal(t, "_dmarc.example.com", body.Name)

		body.ID = "created-1"
		json.NewEncoder(w).Encode(map[string]any{"success": true, "result": body})
	}))
	defer server.Close()

	client := NewClientWithURL("token", server.URL)
	id, err := client.CreateRecord(context.Background(), "zone-1", Record{
		Type:    "TXT",
		Name:    "_dmarc.example.com",
		Content: "v=DMARC1; p=none",
		TTL:     3600,
	})
	require.NoError(t, err)
	assert.Equal(t, "created-1", id)
}

func TestCreateRecordAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"errors":  []map[string]any{{"code": 81057, "message": "The record already exists."}},
		})
	}))
	defer server.Close()

	client := NewClientWithURL("token", server.URL)
	_, err := client.CreateRecord(context.Background(), "zone-1", Record{Type: "TXT", Name: "x", Content: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "81057")
}

func TestDeleteRecord(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{"success": true, "result": map[string]string{"id": "r1"}})
	}))
	defer server.Close()

	client := NewClientWithURL("token", server.URL)
	require.NoError(t, client.DeleteRecord(context.Background(), "zone-1", "r1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/zones/zone-1/dns_records/r1", gotPath)
}

func TestRateLimitedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer server.Close()

	client := NewClientWithURL("token", server.URL)
	_, err := client.ListRecords(context.Background(), "zone-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 429")
}

func TestMalformedResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway error</html>"))
	}))
	defer server.Close()

	client := NewClientWithURL("token", server.URL)
	err := client.VerifyToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal")
}
