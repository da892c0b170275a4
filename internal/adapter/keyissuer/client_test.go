package keyissuer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/giftclaim/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", 2*time.Second)
}

func TestValidate_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/my%20key/10", r.URL.EscapedPath())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"succeed","key":"my key","time":"31/12/2026 23:30:00"}`))
	})

	expiresAt, err := client.Validate(context.Background(), "my key")

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 12, 31, 16, 30, 0, 0, time.UTC), expiresAt)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"notkey reason", http.StatusBadRequest, `{"status":"error","reason":"notkey","message":"no such key"}`},
		{"status not succeed", http.StatusOK, `{"status":"failed","key":"key-1","time":"31/12/2026 23:30:00"}`},
		{"key mismatch", http.StatusOK, `{"status":"succeed","key":"other","time":"31/12/2026 23:30:00"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Validate(context.Background(), "key-1")

			assert.ErrorIs(t, err, domain.ErrInvalidKey)
		})
	}
}

func TestValidate_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"server error", http.StatusInternalServerError, `{"message":"db down"}`, "db down"},
		{"client error other reason", http.StatusForbidden, `{"status":"error","reason":"banned"}`, "Forbidden"},
		{"not json", http.StatusOK, `<html>`, "decode"},
		{"bad expiry", http.StatusOK, `{"status":"succeed","key":"key-1","time":"2026-12-31"}`, "invalid key expiry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Validate(context.Background(), "key-1")

			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrUpstream)
			assert.NotErrorIs(t, err, domain.ErrInvalidKey)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	client := NewClient(srv.URL, time.Second)

	_, err := client.Validate(context.Background(), "key-1")

	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestParseExpiry(t *testing.T) {
	got, err := ParseExpiry(" 01/03/2026 07:00:00 ")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = ParseExpiry("32/01/2026 00:00:00")
	assert.Error(t, err)
}
