package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/giftclaim/internal/domain"
	"github.com/pscheid92/giftclaim/internal/platform/correlation"
)

var errLoginCodeExpired = errors.New("login code expired")

type SessionConfig struct {
	CodeTTL            time.Duration
	RestoreSettleDelay time.Duration
	ProbeInterval      time.Duration
	ProbeTimeout       time.Duration
}

// RestoreReport summarizes one startup restoration pass.
type RestoreReport struct {
	Restored int
	Expired  int
	Failed   int
	Skipped  int
}

// SessionManager runs the bot login state machine and owns the live-session
// registry. All record mutations for one access key happen under that key's
// lock.
type SessionManager struct {
	tenants   domain.TenantRepository
	transport domain.Transport
	registry  *SessionRegistry
	locks     *KeyLocks
	watchers  WatcherDeps
	clock     clockwork.Clock
	cfg       SessionConfig
	recorder  SessionRecorder

	baseCtx  context.Context
	cancel   context.CancelFunc
	inflight *sync.WaitGroup
}

func NewSessionManager(
	tenants domain.TenantRepository,
	transport domain.Transport,
	registry *SessionRegistry,
	watchers WatcherDeps,
	clock clockwork.Clock,
	cfg SessionConfig,
	recorder SessionRecorder,
) *SessionManager {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	if watchers.Locks == nil {
		watchers.Locks = NewKeyLocks()
	}
	if watchers.Inflight == nil {
		watchers.Inflight = &sync.WaitGroup{}
	}
	if watchers.Clock == nil {
		watchers.Clock = clock
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		tenants:   tenants,
		transport: transport,
		registry:  registry,
		locks:     watchers.Locks,
		watchers:  watchers,
		clock:     clock,
		cfg:       cfg,
		recorder:  recorder,
		baseCtx:   ctx,
		cancel:    cancel,
		inflight:  watchers.Inflight,
	}
}

// Locks exposes the per-key locks shared with the service and reconciler.
func (m *SessionManager) Locks() *KeyLocks { return m.locks }

func (m *SessionManager) Registry() *SessionRegistry { return m.registry }

// InitiateLogin requests a one-time code for identity and leaves the tenant's
// session in the code-requested state.
func (m *SessionManager) InitiateLogin(ctx context.Context, accessKey, identity string) error {
	if err := domain.ValidateIdentity(identity); err != nil {
		return &domain.LoginError{Kind: domain.LoginInvalidIdentity, Err: err}
	}

	unlock := m.locks.Lock(accessKey)
	defer unlock()

	t, err := m.tenants.Get(ctx, accessKey)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	if t.KeyExpired(now) {
		return domain.ErrKeyExpired
	}

	if owner, ok := m.registry.OwnerOf(identity); ok && owner != accessKey {
		return domain.ErrIdentityInUse
	}

	var credential []byte
	if b := t.Bot; b != nil {
		if b.Identity != identity && b.State == domain.SessionAuthenticated && !b.Expired(now) {
			return domain.ErrIdentityInUse
		}
		if b.Identity == identity {
			credential = b.Credential
		}
	}

	conn, err := m.transport.Open(ctx, identity, credential)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}

	nonce, err := conn.SendCode(ctx)
	credential = conn.Credential()
	if closeErr := conn.Close(); closeErr != nil {
		slog.WarnContext(ctx, "Failed to close transport after send-code", "error", closeErr)
	}
	if err != nil {
		m.recorder.LoginResult("send_code_failed")
		return classifyLoginError(err)
	}

	m.disconnect(accessKey)

	_, err = m.tenants.Update(ctx, accessKey, func(t *domain.Tenant) error {
		t.Bot = &domain.BotSession{
			Identity:   identity,
			Credential: credential,
			LoginNonce: nonce,
			State:      domain.SessionCodeRequested,
			CreatedAt:  now,
			ExpiresAt:  now.Add(m.cfg.CodeTTL),
			Active:     false,
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist pending login: %w", err)
	}

	m.recorder.LoginResult("code_sent")
	slog.InfoContext(ctx, "Login code requested", "identity", identity)
	return nil
}

// CompleteLogin signs in with code. identity may be empty; when set it must
// match the pending login.
func (m *SessionManager) CompleteLogin(ctx context.Context, accessKey, identity, code string) error {
	unlock := m.locks.Lock(accessKey)
	defer unlock()

	t, err := m.tenants.Get(ctx, accessKey)
	if err != nil {
		return err
	}

	b := t.Bot
	if b == nil || !b.Pending() || (identity != "" && b.Identity != identity) {
		return domain.ErrLoginNotPending
	}
	nonce := b.LoginNonce

	now := m.clock.Now()
	if b.Expired(now) {
		if err := m.clearPending(ctx, accessKey, nonce); err != nil {
			return err
		}
		m.recorder.LoginResult(string(domain.LoginExpiredCode))
		return &domain.LoginError{Kind: domain.LoginExpiredCode, Err: errLoginCodeExpired}
	}
	if t.KeyExpired(now) {
		return domain.ErrKeyExpired
	}

	conn, err := m.transport.Open(ctx, b.Identity, b.Credential)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}

	if err := conn.SignIn(ctx, nonce, code); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			slog.WarnContext(ctx, "Failed to close transport after sign-in failure", "error", closeErr)
		}
		if clearErr := m.clearPending(ctx, accessKey, nonce); clearErr != nil {
			slog.ErrorContext(ctx, "Failed to clear pending login", "error", clearErr)
		}
		loginErr := classifyLoginError(err)
		m.recorder.LoginResult(string(loginErr.Kind))
		return loginErr
	}

	credential := conn.Credential()
	_, err = m.tenants.Update(ctx, accessKey, func(t *domain.Tenant) error {
		if t.Bot == nil || t.Bot.LoginNonce != nonce {
			return domain.ErrLoginNotPending
		}
		t.Authenticate(credential)
		return nil
	})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("persist session: %w", err)
	}

	m.arm(accessKey, b.Identity, conn)
	m.recorder.LoginResult("success")
	slog.InfoContext(ctx, "Bot session authenticated", "identity", b.Identity, "expires_at", t.KeyExpiresAt)
	return nil
}

// clearPending drops the session if it is still the pending login for nonce.
func (m *SessionManager) clearPending(ctx context.Context, accessKey, nonce string) error {
	_, err := m.tenants.Update(ctx, accessKey, func(t *domain.Tenant) error {
		if t.Bot != nil && t.Bot.LoginNonce == nonce {
			t.Bot = nil
		}
		return nil
	})
	return err
}

func classifyLoginError(err error) *domain.LoginError {
	var loginErr *domain.LoginError
	if errors.As(err, &loginErr) {
		return loginErr
	}
	return &domain.LoginError{Kind: domain.LoginRejected, Err: err}
}

// RestoreAll reconnects every persisted authenticated, active and unexpired
// session, one at a time with a settle delay between connection attempts.
func (m *SessionManager) RestoreAll(ctx context.Context) (RestoreReport, error) {
	var report RestoreReport

	keys, err := m.tenants.ListAccessKeys(ctx)
	if err != nil {
		return report, fmt.Errorf("list tenants: %w", err)
	}

	pendingDelay := false
	for _, key := range keys {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		if pendingDelay {
			select {
			case <-m.clock.After(m.cfg.RestoreSettleDelay):
			case <-ctx.Done():
				return report, ctx.Err()
			}
			pendingDelay = false
		}

		outcome := m.restoreOne(correlation.WithTenant(ctx, key), key)
		m.recorder.RestoreResult(outcome)
		switch outcome {
		case "restored":
			report.Restored++
			pendingDelay = true
		case "failed":
			report.Failed++
			pendingDelay = true
		case "expired":
			report.Expired++
		default:
			report.Skipped++
		}
	}

	slog.InfoContext(ctx, "Session restore finished",
		"restored", report.Restored,
		"expired", report.Expired,
		"failed", report.Failed,
		"skipped", report.Skipped)
	return report, nil
}

func (m *SessionManager) restoreOne(ctx context.Context, accessKey string) string {
	unlock := m.locks.Lock(accessKey)
	defer unlock()

	t, err := m.tenants.Get(ctx, accessKey)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load tenant for restore", "error", err)
		return "skipped"
	}

	b := t.Bot
	if b == nil || b.State != domain.SessionAuthenticated || !b.Active || m.registry.Has(accessKey) {
		return "skipped"
	}

	if b.Expired(m.clock.Now()) {
		slog.InfoContext(ctx, "Bot session expired, marking inactive", "identity", b.Identity)
		if err := m.markInactive(ctx, accessKey); err != nil {
			slog.WarnContext(ctx, "Failed to mark expired session inactive", "error", err)
		}
		return "expired"
	}

	conn, err := m.transport.Open(ctx, b.Identity, b.Credential)
	if err == nil {
		_, err = conn.Self(ctx)
		if err != nil {
			_ = conn.Close()
		}
	}
	if err != nil {
		slog.WarnContext(ctx, "Failed to restore bot session", "identity", b.Identity, "error", err)
		if err := m.markInactive(ctx, accessKey); err != nil {
			slog.WarnContext(ctx, "Failed to mark session inactive", "error", err)
		}
		return "failed"
	}

	m.arm(accessKey, b.Identity, conn)
	slog.InfoContext(ctx, "Bot session restored", "identity", b.Identity)
	return "restored"
}

func (m *SessionManager) markInactive(ctx context.Context, accessKey string) error {
	_, err := m.tenants.Update(ctx, accessKey, func(t *domain.Tenant) error {
		if t.Bot != nil {
			t.Bot.Active = false
		}
		return nil
	})
	return err
}

// Disconnect tears down the live session for accessKey, if any. Reports
// whether one was running.
func (m *SessionManager) Disconnect(accessKey string) bool {
	return m.disconnect(accessKey)
}

func (m *SessionManager) disconnect(accessKey string) bool {
	s := m.registry.take(accessKey)
	if s == nil {
		return false
	}
	s.stop()
	m.recorder.Connected(m.registry.Len())
	slog.Info("Bot session disconnected", "tenant", correlation.Mask(accessKey), "identity", s.identity)
	return true
}

// arm registers conn as the live session for accessKey and starts its
// watcher and health probe.
func (m *SessionManager) arm(accessKey, identity string, conn domain.TransportSession) {
	ctx, cancel := context.WithCancel(correlation.WithTenant(m.baseCtx, accessKey))
	watcher := NewLinkWatcher(accessKey, m.watchers)

	s := &liveSession{accessKey: accessKey, identity: identity, conn: conn, cancel: cancel}
	s.healthy.Store(true)

	conn.Subscribe(watcher.Enqueue)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		watcher.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		m.probe(ctx, s)
	}()

	if prev := m.registry.put(s); prev != nil {
		prev.stop()
	}
	m.recorder.Connected(m.registry.Len())
}

// probe checks liveness periodically. A failure only marks the session's
// health unknown; cleanup is left to expiry or an explicit disconnect.
func (m *SessionManager) probe(ctx context.Context, s *liveSession) {
	ticker := m.clock.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
			_, err := s.conn.Self(probeCtx)
			cancel()

			if ctx.Err() != nil {
				return
			}
			if err != nil {
				s.healthy.Store(false)
				m.recorder.ProbeFailed()
				slog.WarnContext(ctx, "Bot health probe failed", "identity", s.identity, "connected", s.conn.Connected(), "error", err)
				continue
			}
			if !s.healthy.Swap(true) {
				slog.InfoContext(ctx, "Bot health probe recovered", "identity", s.identity)
			}
		}
	}
}

// Shutdown stops every live session and waits for in-flight claims until ctx
// is done.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.cancel()
	for _, s := range m.registry.drain() {
		s.stop()
	}
	m.recorder.Connected(0)

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight claims: %w", ctx.Err())
	}
}
