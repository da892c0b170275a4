package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/giftclaim/internal/domain"
	"github.com/pscheid92/giftclaim/internal/platform/crypto"
)

const (
	constraintTenantKey     = "tenants_pkey"
	constraintDestination   = "destinations_pkey"
	constraintIdentityInUse = "tenants_authenticated_identity_key"
)

const tenantColumns = `t.access_key, d.destination, t.key_expires_at, t.total_claimed_satang,
	t.bot_identity, t.bot_credential, t.bot_login_nonce, t.bot_state,
	t.bot_created_at, t.bot_expires_at, t.bot_active, t.created_at, t.updated_at`

const tenantFrom = ` FROM tenants t LEFT JOIN destinations d ON d.access_key = t.access_key`

// TenantRepo stores tenants and the destination index. Bot credentials are
// sealed with the tenant's access key as owner.
type TenantRepo struct {
	pool   *pgxpool.Pool
	sealer crypto.Sealer
}

var _ domain.TenantRepository = (*TenantRepo)(nil)

func NewTenantRepo(pool *pgxpool.Pool, sealer crypto.Sealer) *TenantRepo {
	return &TenantRepo{pool: pool, sealer: sealer}
}

type tenantRow struct {
	accessKey     string
	destination   *string
	keyExpiresAt  time.Time
	totalClaimed  int64
	botIdentity   *string
	botCredential *string
	botNonce      *string
	botState      string
	botCreatedAt  *time.Time
	botExpiresAt  *time.Time
	botActive     bool
	createdAt     time.Time
	updatedAt     time.Time
}

func (r *tenantRow) targets() []any {
	return []any{
		&r.accessKey, &r.destination, &r.keyExpiresAt, &r.totalClaimed,
		&r.botIdentity, &r.botCredential, &r.botNonce, &r.botState,
		&r.botCreatedAt, &r.botExpiresAt, &r.botActive, &r.createdAt, &r.updatedAt,
	}
}

func (r *TenantRepo) toDomain(row tenantRow) (*domain.Tenant, error) {
	t := &domain.Tenant{
		AccessKey:    row.accessKey,
		KeyExpiresAt: row.keyExpiresAt.UTC(),
		TotalClaimed: domain.Satang(row.totalClaimed),
		CreatedAt:    row.createdAt.UTC(),
		UpdatedAt:    row.updatedAt.UTC(),
	}
	if row.destination != nil {
		t.Destination = *row.destination
	}

	if domain.SessionState(row.botState) == domain.SessionNone || row.botIdentity == nil {
		return t, nil
	}

	bot := &domain.BotSession{
		Identity: *row.botIdentity,
		State:    domain.SessionState(row.botState),
		Active:   row.botActive,
	}
	if row.botNonce != nil {
		bot.LoginNonce = *row.botNonce
	}
	if row.botCreatedAt != nil {
		bot.CreatedAt = row.botCreatedAt.UTC()
	}
	if row.botExpiresAt != nil {
		bot.ExpiresAt = row.botExpiresAt.UTC()
	}
	if row.botCredential != nil {
		credential, err := r.sealer.Open(row.accessKey, *row.botCredential)
		if err != nil {
			return nil, fmt.Errorf("failed to open bot credential: %w", err)
		}
		bot.Credential = credential
	}
	t.Bot = bot
	return t, nil
}

func (r *TenantRepo) scanOne(row pgx.Row) (*domain.Tenant, error) {
	var tr tenantRow
	err := row.Scan(tr.targets()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	return r.toDomain(tr)
}

func (r *TenantRepo) Get(ctx context.Context, accessKey string) (*domain.Tenant, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+tenantColumns+tenantFrom+` WHERE t.access_key = $1`, accessKey)
	return r.scanOne(row)
}

func (r *TenantRepo) GetByDestination(ctx context.Context, destination string) (*domain.Tenant, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+tenantColumns+tenantFrom+` WHERE d.destination = $1`, destination)
	return r.scanOne(row)
}

func (r *TenantRepo) Create(ctx context.Context, t *domain.Tenant) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO tenants (access_key, key_expires_at, total_claimed_satang, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.AccessKey, t.KeyExpiresAt, int64(t.TotalClaimed), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return mapWriteError("insert tenant", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO destinations (destination, access_key) VALUES ($1, $2)`, t.Destination, t.AccessKey)
	if err != nil {
		return mapWriteError("insert destination", err)
	}

	if t.Bot != nil {
		if err := r.writeBot(ctx, tx, t); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Update locks the row, applies fn and writes the mutable columns back. The
// destination is immutable and not rewritten.
func (r *TenantRepo) Update(ctx context.Context, accessKey string, fn func(*domain.Tenant) error) (*domain.Tenant, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+tenantColumns+tenantFrom+` WHERE t.access_key = $1 FOR UPDATE OF t`, accessKey)
	t, err := r.scanOne(row)
	if err != nil {
		return nil, err
	}

	if err := fn(t); err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx,
		`UPDATE tenants SET key_expires_at = $2, total_claimed_satang = $3, updated_at = NOW()
		 WHERE access_key = $1 RETURNING updated_at`,
		accessKey, t.KeyExpiresAt, int64(t.TotalClaimed)).Scan(&t.UpdatedAt)
	if err != nil {
		return nil, mapWriteError("update tenant", err)
	}
	t.UpdatedAt = t.UpdatedAt.UTC()

	if err := r.writeBot(ctx, tx, t); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return t, nil
}

func (r *TenantRepo) writeBot(ctx context.Context, tx pgx.Tx, t *domain.Tenant) error {
	var (
		identity, credential, nonce *string
		createdAt, expiresAt        *time.Time
		state                       = string(domain.SessionNone)
		active                      bool
	)

	if b := t.Bot; b != nil {
		identity = &b.Identity
		state = string(b.State)
		active = b.Active
		createdAt = &b.CreatedAt
		expiresAt = &b.ExpiresAt
		if b.LoginNonce != "" {
			nonce = &b.LoginNonce
		}
		if b.Credential != nil {
			sealed, err := r.sealer.Seal(t.AccessKey, b.Credential)
			if err != nil {
				return fmt.Errorf("failed to seal bot credential: %w", err)
			}
			credential = &sealed
		}
	}

	_, err := tx.Exec(ctx,
		`UPDATE tenants SET bot_identity = $2, bot_credential = $3, bot_login_nonce = $4, bot_state = $5,
		        bot_created_at = $6, bot_expires_at = $7, bot_active = $8
		 WHERE access_key = $1`,
		t.AccessKey, identity, credential, nonce, state, createdAt, expiresAt, active)
	if err != nil {
		return mapWriteError("update bot session", err)
	}
	return nil
}

// Delete removes the tenant. Its destination entry goes with it through the
// foreign key cascade.
func (r *TenantRepo) Delete(ctx context.Context, accessKey string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tenants WHERE access_key = $1`, accessKey)
	if err != nil {
		return false, fmt.Errorf("failed to delete tenant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TenantRepo) ListAccessKeys(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT access_key FROM tenants ORDER BY access_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect tenant keys: %w", err)
	}
	return keys, nil
}

// ListExpiredKeys returns the access keys whose key expiry is at or before now.
func (r *TenantRepo) ListExpiredKeys(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT access_key FROM tenants WHERE key_expires_at <= $1 ORDER BY key_expires_at`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired tenants: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect expired tenant keys: %w", err)
	}
	return keys, nil
}

func (r *TenantRepo) CountLive(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tenants
		 WHERE bot_state = 'authenticated' AND bot_active AND bot_expires_at > $1`, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count live sessions: %w", err)
	}
	return n, nil
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case constraintTenantKey:
			return domain.ErrTenantExists
		case constraintDestination:
			return domain.ErrDestinationTaken
		case constraintIdentityInUse:
			return domain.ErrIdentityInUse
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
