// Package keyissuer validates tenant access keys against the external issuer.
package keyissuer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pscheid92/giftclaim/internal/domain"
)

// expiryLayout is the issuer's DD/MM/YYYY HH:MM:SS format.
const expiryLayout = "02/01/2006 15:04:05"

// issuerZone is the issuer's wall clock, Asia/Bangkok without DST.
var issuerZone = time.FixedZone("ICT", 7*60*60)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ domain.KeyValidator = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type keyResponse struct {
	Status  string `json:"status"`
	Key     string `json:"key"`
	Time    string `json:"time"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Validate returns the key's expiry. Keys the issuer rejects yield
// domain.ErrInvalidKey; everything else that goes wrong wraps
// domain.ErrUpstream.
func (c *Client) Validate(ctx context.Context, accessKey string) (time.Time, error) {
	endpoint := fmt.Sprintf("%s/%s/10", c.baseURL, url.PathEscape(accessKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: key issuer request: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: read key issuer response: %v", domain.ErrUpstream, err)
	}

	var kr keyResponse
	decodeErr := json.Unmarshal(body, &kr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && kr.Status == "error" && kr.Reason == "notkey" {
			slog.WarnContext(ctx, "Key issuer rejected key", "reason", kr.Reason)
			return time.Time{}, domain.ErrInvalidKey
		}
		msg := kr.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return time.Time{}, fmt.Errorf("%w: key issuer returned %d: %s", domain.ErrUpstream, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return time.Time{}, fmt.Errorf("%w: decode key issuer response: %v", domain.ErrUpstream, decodeErr)
	}

	if kr.Status != "succeed" || kr.Key != accessKey {
		slog.WarnContext(ctx, "Key issuer did not confirm key", "status", kr.Status)
		return time.Time{}, domain.ErrInvalidKey
	}

	expiresAt, err := ParseExpiry(kr.Time)
	if err != nil {
		return time.Time{}, errors.Join(domain.ErrUpstream, err)
	}
	return expiresAt, nil
}

// ParseExpiry parses the issuer's expiry timestamp and returns it in UTC.
func ParseExpiry(s string) (time.Time, error) {
	t, err := time.ParseInLocation(expiryLayout, strings.TrimSpace(s), issuerZone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid key expiry %q: %w", s, err)
	}
	return t.UTC(), nil
}
