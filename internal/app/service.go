package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/pscheid92/giftclaim/internal/domain"
)

// Service is the application layer behind the HTTP boundary.
type Service struct {
	tenants       domain.TenantRepository
	keys          domain.KeyValidator
	sessions      *SessionManager
	clock         clockwork.Clock
	validateGroup singleflight.Group
}

func NewService(tenants domain.TenantRepository, keys domain.KeyValidator, sessions *SessionManager, clock clockwork.Clock) *Service {
	return &Service{
		tenants:  tenants,
		keys:     keys,
		sessions: sessions,
		clock:    clock,
	}
}

// validateKey collapses concurrent issuer lookups for the same key.
func (s *Service) validateKey(ctx context.Context, accessKey string) (time.Time, error) {
	v, err, _ := s.validateGroup.Do(accessKey, func() (any, error) {
		return s.keys.Validate(ctx, accessKey)
	})
	if err != nil {
		return time.Time{}, err
	}
	return v.(time.Time), nil
}

// CreateTenant validates accessKey with the issuer and registers destination
// for it.
func (s *Service) CreateTenant(ctx context.Context, destination, accessKey string) (*domain.Tenant, error) {
	if err := domain.ValidateDestination(destination); err != nil {
		return nil, err
	}
	if accessKey == "" {
		return nil, domain.ErrInvalidKey
	}

	if _, err := s.tenants.Get(ctx, accessKey); err == nil {
		return nil, domain.ErrTenantExists
	} else if !errors.Is(err, domain.ErrTenantNotFound) {
		return nil, err
	}
	if _, err := s.tenants.GetByDestination(ctx, destination); err == nil {
		return nil, domain.ErrDestinationTaken
	} else if !errors.Is(err, domain.ErrTenantNotFound) {
		return nil, err
	}

	expiresAt, err := s.validateKey(ctx, accessKey)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if !expiresAt.After(now) {
		return nil, domain.ErrKeyExpired
	}

	t := &domain.Tenant{
		AccessKey:    accessKey,
		Destination:  destination,
		KeyExpiresAt: expiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.tenants.Create(ctx, t); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Tenant created", "destination", destination, "key_expires_at", expiresAt)
	return t, nil
}

// Status projects the tenant's state. A tenant whose key has expired is
// removed and ErrKeyExpired returned.
func (s *Service) Status(ctx context.Context, accessKey string) (domain.TenantStatus, error) {
	t, err := s.tenants.Get(ctx, accessKey)
	if err != nil {
		return domain.TenantStatus{}, err
	}
	return s.statusOf(ctx, t)
}

func (s *Service) StatusByDestination(ctx context.Context, destination string) (domain.TenantStatus, error) {
	if err := domain.ValidateDestination(destination); err != nil {
		return domain.TenantStatus{}, err
	}
	t, err := s.tenants.GetByDestination(ctx, destination)
	if err != nil {
		return domain.TenantStatus{}, err
	}
	return s.statusOf(ctx, t)
}

func (s *Service) statusOf(ctx context.Context, t *domain.Tenant) (domain.TenantStatus, error) {
	now := s.clock.Now()
	if t.KeyExpired(now) {
		return s.evictIfExpired(ctx, t.AccessKey)
	}
	return domain.StatusOf(t, now, s.sessions.Registry().Healthy(t.AccessKey)), nil
}

// evictIfExpired re-reads the tenant under its key lock so a concurrent
// refresh wins over the lazy cleanup.
func (s *Service) evictIfExpired(ctx context.Context, accessKey string) (domain.TenantStatus, error) {
	unlock := s.sessions.Locks().Lock(accessKey)
	defer unlock()

	t, err := s.tenants.Get(ctx, accessKey)
	if err != nil {
		return domain.TenantStatus{}, err
	}

	now := s.clock.Now()
	if !t.KeyExpired(now) {
		return domain.StatusOf(t, now, s.sessions.Registry().Healthy(accessKey)), nil
	}

	if _, err := evictTenantLocked(ctx, s.tenants, s.sessions, accessKey); err != nil {
		return domain.TenantStatus{}, err
	}
	slog.InfoContext(ctx, "Removed tenant with expired access key on status", "destination", t.Destination)
	return domain.TenantStatus{}, domain.ErrKeyExpired
}

// RefreshKey re-validates the key with the issuer and moves the key expiry,
// and with it the session expiry.
func (s *Service) RefreshKey(ctx context.Context, accessKey string) (*domain.Tenant, error) {
	if _, err := s.tenants.Get(ctx, accessKey); err != nil {
		return nil, err
	}

	expiresAt, err := s.validateKey(ctx, accessKey)
	if err != nil {
		return nil, err
	}

	if !expiresAt.After(s.clock.Now()) {
		if _, err := s.evict(ctx, accessKey); err != nil {
			return nil, err
		}
		return nil, domain.ErrKeyExpired
	}

	unlock := s.sessions.Locks().Lock(accessKey)
	defer unlock()

	return s.tenants.Update(ctx, accessKey, func(t *domain.Tenant) error {
		t.SetKeyExpiry(expiresAt)
		return nil
	})
}

func (s *Service) InitiateLogin(ctx context.Context, accessKey, identity string) error {
	return s.sessions.InitiateLogin(ctx, accessKey, identity)
}

func (s *Service) CompleteLogin(ctx context.Context, accessKey, identity, code string) error {
	return s.sessions.CompleteLogin(ctx, accessKey, identity, code)
}

// RemoveBot detaches the tenant's bot session, keeping the tenant.
func (s *Service) RemoveBot(ctx context.Context, accessKey string) error {
	unlock := s.sessions.Locks().Lock(accessKey)
	defer unlock()

	t, err := s.tenants.Get(ctx, accessKey)
	if err != nil {
		return err
	}
	if t.Bot == nil && !s.sessions.Registry().Has(accessKey) {
		return domain.ErrNoBotSession
	}

	return clearSessionLocked(ctx, s.tenants, s.sessions, accessKey)
}

// RemoveTenant removes the tenant registered for destination. Removing an
// unknown destination is a no-op and reports false.
func (s *Service) RemoveTenant(ctx context.Context, destination string) (bool, error) {
	if err := domain.ValidateDestination(destination); err != nil {
		return false, err
	}

	t, err := s.tenants.GetByDestination(ctx, destination)
	if errors.Is(err, domain.ErrTenantNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	removed, err := s.evict(ctx, t.AccessKey)
	if err != nil {
		return false, err
	}
	if removed {
		slog.InfoContext(ctx, "Tenant removed", "destination", destination)
	}
	return removed, nil
}

func (s *Service) evict(ctx context.Context, accessKey string) (bool, error) {
	unlock := s.sessions.Locks().Lock(accessKey)
	defer unlock()
	return evictTenantLocked(ctx, s.tenants, s.sessions, accessKey)
}

func (s *Service) Counts(ctx context.Context) (domain.Counts, error) {
	active, err := s.tenants.CountLive(ctx, s.clock.Now())
	if err != nil {
		return domain.Counts{}, fmt.Errorf("count live sessions: %w", err)
	}
	return domain.Counts{
		ActiveSessions:    active,
		ConnectedSessions: s.sessions.Registry().Len(),
	}, nil
}
