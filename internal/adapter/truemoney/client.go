// Package truemoney redeems gift vouchers against the TrueMoney campaign API.
package truemoney

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pscheid92/giftclaim/internal/domain"
)

const codeSuccess = "SUCCESS"

// RedeemError is a non-success answer from the redemption service. Code is
// the service's status code when one was returned.
type RedeemError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *RedeemError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("redeem rejected (HTTP %d, %s): %s", e.HTTPStatus, e.Code, e.Message)
	}
	return fmt.Sprintf("redeem rejected (HTTP %d): %s", e.HTTPStatus, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ domain.Redeemer = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type redeemRequest struct {
	Mobile      string `json:"mobile"`
	VoucherHash string `json:"voucher_hash"`
}

type redeemResponse struct {
	Status struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Voucher struct {
			VoucherID string `json:"voucher_id"`
		} `json:"voucher"`
		MyTicket struct {
			AmountBaht json.RawMessage `json:"amount_baht"`
		} `json:"my_ticket"`
	} `json:"data"`
}

// Redeem performs a single redemption attempt. Retrying is the caller's job.
func (c *Client) Redeem(ctx context.Context, destination, voucher string) (domain.Redemption, error) {
	payload, err := json.Marshal(redeemRequest{Mobile: destination, VoucherHash: voucher})
	if err != nil {
		return domain.Redemption{}, fmt.Errorf("failed to encode redeem request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/redeem", c.baseURL, url.PathEscape(voucher))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return domain.Redemption{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Redemption{}, fmt.Errorf("%w: redeem request: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Redemption{}, fmt.Errorf("%w: read redeem response: %v", domain.ErrUpstream, err)
	}

	var rr redeemResponse
	decodeErr := json.Unmarshal(body, &rr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil {
			msg = firstNonEmpty(rr.Status.Message, rr.Message, msg)
		}
		return domain.Redemption{}, &RedeemError{HTTPStatus: resp.StatusCode, Code: rr.Status.Code, Message: msg}
	}

	if !isJSON(resp.Header.Get("Content-Type")) || decodeErr != nil {
		return domain.Redemption{}, fmt.Errorf("%w: response is not JSON: %s", domain.ErrUpstream, truncate(string(body), 100))
	}

	if rr.Status.Code != codeSuccess {
		return domain.Redemption{}, &RedeemError{
			HTTPStatus: resp.StatusCode,
			Code:       rr.Status.Code,
			Message:    firstNonEmpty(rr.Status.Message, rr.Message, "unknown error from redemption service"),
		}
	}

	// The voucher is spent once the status says so; an unreadable amount
	// must not turn this into a retry.
	amount, err := parseAmount(rr.Data.MyTicket.AmountBaht)
	if err != nil {
		slog.ErrorContext(ctx, "Voucher redeemed but amount unreadable, crediting zero",
			"voucher_id", rr.Data.Voucher.VoucherID,
			"amount_baht", truncate(string(rr.Data.MyTicket.AmountBaht), 40),
			"error", err)
		amount = 0
	}
	return domain.Redemption{Amount: amount, Code: rr.Data.Voucher.VoucherID}, nil
}

// parseAmount accepts the decimal forms the service has been seen to return:
// a JSON number or a string, optionally with thousands separators. A missing
// amount counts as zero.
func parseAmount(raw json.RawMessage) (domain.Satang, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %s", domain.ErrInvalidAmountFormat, truncate(string(raw), 40))
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
	}
	s = strings.ReplaceAll(s, ",", "")

	amount, err := domain.ParseBaht(s)
	if err == nil || !errors.Is(err, domain.ErrInvalidAmountFormat) {
		return amount, err
	}

	f, ferr := strconv.ParseFloat(s, 64)
	if ferr != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) || f*100 >= math.MaxInt64 {
		return 0, err
	}
	return domain.Satang(math.Round(f * 100)), nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
