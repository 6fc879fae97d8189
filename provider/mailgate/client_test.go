package mailgate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireloop/mailroom/errors"
)

// writeJSON responds the way the real API does; without the content type
// the client's decoder would skip the body entirely.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func testClient(baseURL string) *Client {
	return New(Config{
		BaseURL:              baseURL,
		Token:                "test-token",
		Timeout:              5 * time.Second,
		RetryCount:           2,
		MaxRequestsPerMinute: 6000,
	})
}

func TestListInbox(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "jobs-inbox", r.URL.Query().Get("mailbox"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"messages": []map[string]interface{}{
				{"id": "m1", "thread_id": "t1", "received_at": "2026-05-01T10:00:00Z"},
				{"id": "m2", "received_at": "2026-05-01T09:00:00Z"},
			},
			"next_cursor": "page2",
		})
	}))
	defer server.Close()

	client := testClient(server.URL)
	page, err := client.ListInbox(context.Background(), "jobs-inbox", "", 25)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "m1", page.Messages[0].ExternalID)
	assert.Equal(t, "t1", page.Messages[0].ThreadID)
	assert.Equal(t, "page2", page.NextCursor)
}

func TestSearchBeforePassesCursor(t *testing.T) {
	before := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages/search", r.URL.Path)
		assert.Equal(t, "2026-05-01T12:00:00Z", r.URL.Query().Get("before"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"messages": []map[string]interface{}{
				{"id": "m9", "received_at": "2026-04-30T08:00:00Z"},
			},
		})
	}))
	defer server.Close()

	client := testClient(server.URL)
	msgs, err := client.SearchBefore(context.Background(), "jobs-inbox", before, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m9", msgs[0].ExternalID)
}

func TestFetchMessage(t *testing.T) {
	raw := []byte("From: candidate@example.com\r\nSubject: Application\r\n\r\nHello")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages/m1", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message": map[string]interface{}{
				"id":          "m1",
				"from":        "candidate@example.com",
				"subject":     "Application",
				"received_at": "2026-05-01T10:00:00Z",
				"raw":         base64.StdEncoding.EncodeToString(raw),
			},
		})
	}))
	defer server.Close()

	client := testClient(server.URL)
	msg, err := client.FetchMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ExternalID)
	assert.Equal(t, "candidate@example.com", msg.From)
	assert.Equal(t, raw, msg.Raw)
}

func TestFetchMessageNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.FetchMessage(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRetriesTransientServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": []interface{}{}})
	}))
	defer server.Close()

	client := testClient(server.URL)
	page, err := client.ListInbox(context.Background(), "jobs-inbox", "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestAPIErrorSurfacesDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{"error": "mailbox access revoked"})
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.ListInbox(context.Background(), "jobs-inbox", "", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailbox access revoked")
}
