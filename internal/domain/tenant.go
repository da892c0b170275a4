package domain

import (
	"context"
	"time"
)

type SessionState string

const (
	SessionNone          SessionState = "none"
	SessionCodeRequested SessionState = "code_requested"
	SessionAuthenticated SessionState = "authenticated"
)

// BotSession is the messaging identity bound to a tenant. LoginNonce is only
// set while State is SessionCodeRequested.
type BotSession struct {
	Identity   string
	Credential []byte
	LoginNonce string
	State      SessionState
	CreatedAt  time.Time
	ExpiresAt  time.Time
	// Active is a best-effort hint that the process holds a live connection.
	Active bool
}

func (s *BotSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Live reports whether the session should currently be connected.
func (s *BotSession) Live(now time.Time) bool {
	return s.State == SessionAuthenticated && s.Active && !s.Expired(now)
}

func (s *BotSession) Pending() bool {
	return s.State == SessionCodeRequested && s.LoginNonce != ""
}

type Tenant struct {
	AccessKey    string
	Destination  string
	KeyExpiresAt time.Time
	TotalClaimed Satang
	Bot          *BotSession
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (t *Tenant) KeyExpired(now time.Time) bool {
	return !now.Before(t.KeyExpiresAt)
}

// SetKeyExpiry moves the key expiry and keeps an authenticated session bound
// to it.
func (t *Tenant) SetKeyExpiry(at time.Time) {
	t.KeyExpiresAt = at
	if t.Bot != nil && t.Bot.State == SessionAuthenticated {
		t.Bot.ExpiresAt = at
	}
}

// Authenticate promotes the pending session. The session expiry is the key
// expiry.
func (t *Tenant) Authenticate(credential []byte) {
	t.Bot.Credential = credential
	t.Bot.LoginNonce = ""
	t.Bot.State = SessionAuthenticated
	t.Bot.ExpiresAt = t.KeyExpiresAt
	t.Bot.Active = true
}

func (t *Tenant) Credit(amount Satang) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	t.TotalClaimed += amount
	return nil
}

// TenantRepository persists tenants and the destination index. Create and
// Delete keep both consistent in one transaction.
type TenantRepository interface {
	Get(ctx context.Context, accessKey string) (*Tenant, error)
	GetByDestination(ctx context.Context, destination string) (*Tenant, error)
	Create(ctx context.Context, t *Tenant) error
	// Update runs fn on the locked current row and persists the result.
	Update(ctx context.Context, accessKey string, fn func(*Tenant) error) (*Tenant, error)
	// Delete removes the tenant and its destination entry if that entry still
	// points at it. Reports whether a row was removed.
	Delete(ctx context.Context, accessKey string) (bool, error)
	ListAccessKeys(ctx context.Context) ([]string, error)
	CountLive(ctx context.Context, now time.Time) (int, error)
}
