package domain

import (
	"context"
	"time"
)

// Redemption is a successful voucher redemption.
type Redemption struct {
	Amount Satang
	Code   string
}

// Redeemer exchanges a voucher for value credited to destination. Any error
// means the attempt did not succeed.
type Redeemer interface {
	Redeem(ctx context.Context, destination, voucher string) (Redemption, error)
}

// KeyValidator asks the key issuer whether accessKey is valid and until when.
// Returns ErrInvalidKey for keys the issuer does not know.
type KeyValidator interface {
	Validate(ctx context.Context, accessKey string) (time.Time, error)
}

type ClaimOutcome string

const (
	ClaimSucceeded ClaimOutcome = "succeeded"
	ClaimFailed    ClaimOutcome = "failed"
)

// ClaimEvent is the terminal result of one claim occurrence.
type ClaimEvent struct {
	OccurrenceID string       `json:"occurrence_id"`
	AccessKey    string       `json:"-"`
	Destination  string       `json:"destination"`
	Voucher      string       `json:"voucher"`
	URL          string       `json:"url"`
	Outcome      ClaimOutcome `json:"outcome"`
	Amount       Satang       `json:"amount_satang"`
	Attempts     int          `json:"attempts"`
	Error        string       `json:"error,omitempty"`
	At           time.Time    `json:"at"`
}

type ClaimEventPublisher interface {
	PublishClaim(ctx context.Context, event ClaimEvent) error
}

// OccurrenceGuard suppresses redelivered messages. FirstSeen reports true
// exactly once per key within its retention window.
type OccurrenceGuard interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
}
