package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/giftclaim/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- In-memory tenant repository ---

type memTenantRepo struct {
	mu      sync.Mutex
	tenants map[string]*domain.Tenant
	dest    map[string]string

	getErr    func(accessKey string) error
	updateErr func(accessKey string) error
	getCalls  int
}

func newMemTenantRepo() *memTenantRepo {
	return &memTenantRepo{tenants: make(map[string]*domain.Tenant), dest: make(map[string]string)}
}

func cloneTenant(t *domain.Tenant) *domain.Tenant {
	c := *t
	if t.Bot != nil {
		b := *t.Bot
		b.Credential = slices.Clone(t.Bot.Credential)
		c.Bot = &b
	}
	return &c
}

func (r *memTenantRepo) put(t *domain.Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[t.AccessKey] = cloneTenant(t)
	r.dest[t.Destination] = t.AccessKey
}

func (r *memTenantRepo) snapshot(accessKey string) *domain.Tenant {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[accessKey]
	if !ok {
		return nil
	}
	return cloneTenant(t)
}

func (r *memTenantRepo) Get(_ context.Context, accessKey string) (*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	if r.getErr != nil {
		if err := r.getErr(accessKey); err != nil {
			return nil, err
		}
	}
	t, ok := r.tenants[accessKey]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	return cloneTenant(t), nil
}

func (r *memTenantRepo) GetByDestination(_ context.Context, destination string) (*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.dest[destination]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	t, ok := r.tenants[key]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	return cloneTenant(t), nil
}

func (r *memTenantRepo) Create(_ context.Context, t *domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[t.AccessKey]; ok {
		return domain.ErrTenantExists
	}
	if _, ok := r.dest[t.Destination]; ok {
		return domain.ErrDestinationTaken
	}
	r.tenants[t.AccessKey] = cloneTenant(t)
	r.dest[t.Destination] = t.AccessKey
	return nil
}

func (r *memTenantRepo) Update(_ context.Context, accessKey string, fn func(*domain.Tenant) error) (*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		if err := r.updateErr(accessKey); err != nil {
			return nil, err
		}
	}
	t, ok := r.tenants[accessKey]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	c := cloneTenant(t)
	if err := fn(c); err != nil {
		return nil, err
	}
	r.tenants[accessKey] = cloneTenant(c)
	return c, nil
}

func (r *memTenantRepo) Delete(_ context.Context, accessKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[accessKey]
	if !ok {
		return false, nil
	}
	delete(r.tenants, accessKey)
	if r.dest[t.Destination] == accessKey {
		delete(r.dest, t.Destination)
	}
	return true, nil
}

func (r *memTenantRepo) ListAccessKeys(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.tenants))
	for k := range r.tenants {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func (r *memTenantRepo) CountLive(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tenants {
		if t.Bot != nil && t.Bot.Live(now) {
			n++
		}
	}
	return n, nil
}

func (r *memTenantRepo) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tenants)
}

// --- Scripted transport ---

type openCall struct {
	identity   string
	credential []byte
	at         time.Time
}

type fakeTransport struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	calls  []openCall
	conns  []*fakeConn
	openFn func(identity string, credential []byte) (*fakeConn, error)
}

func newFakeTransport(clock clockwork.Clock) *fakeTransport {
	return &fakeTransport{clock: clock}
}

func (f *fakeTransport) Open(_ context.Context, identity string, credential []byte) (domain.TransportSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, openCall{identity: identity, credential: slices.Clone(credential), at: f.clock.Now()})

	var conn *fakeConn
	if f.openFn != nil {
		c, err := f.openFn(identity, credential)
		if err != nil {
			return nil, err
		}
		conn = c
	} else {
		conn = &fakeConn{}
	}
	conn.identity = identity
	if conn.credential == nil {
		conn.credential = credential
	}
	if conn.credential == nil {
		conn.credential = []byte("fresh-" + identity)
	}
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeTransport) openCalls() []openCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeTransport) lastConn() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

type fakeConn struct {
	mu         sync.Mutex
	identity   string
	credential []byte
	sink       func(domain.Message)
	closed     bool

	sendCodeFn func() (string, error)
	signInFn   func(nonce, code string) error
	selfFn     func() error
}

func (c *fakeConn) SendCode(context.Context) (string, error) {
	if c.sendCodeFn != nil {
		return c.sendCodeFn()
	}
	return "code-hash-1", nil
}

func (c *fakeConn) SignIn(_ context.Context, nonce, code string) error {
	if c.signInFn != nil {
		return c.signInFn(nonce, code)
	}
	return nil
}

func (c *fakeConn) Self(context.Context) (string, error) {
	c.mu.Lock()
	fn := c.selfFn
	c.mu.Unlock()
	if fn != nil {
		if err := fn(); err != nil {
			return "", err
		}
	}
	return c.identity, nil
}

func (c *fakeConn) Credential() []byte { return c.credential }

func (c *fakeConn) Subscribe(sink func(domain.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) setSelf(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selfFn = fn
}

func (c *fakeConn) deliver(msg domain.Message) {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink != nil {
		sink(msg)
	}
}

// --- Function-field mocks ---

type mockRedeemer struct {
	mu       sync.Mutex
	calls    int
	redeemFn func(call int, destination, voucher string) (domain.Redemption, error)
}

func (m *mockRedeemer) Redeem(_ context.Context, destination, voucher string) (domain.Redemption, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	if m.redeemFn != nil {
		return m.redeemFn(call, destination, voucher)
	}
	return domain.Redemption{}, fmt.Errorf("not implemented")
}

func (m *mockRedeemer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockKeyValidator struct {
	mu         sync.Mutex
	calls      int
	validateFn func(accessKey string) (time.Time, error)
}

func (m *mockKeyValidator) Validate(_ context.Context, accessKey string) (time.Time, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.validateFn != nil {
		return m.validateFn(accessKey)
	}
	return time.Time{}, fmt.Errorf("not implemented")
}

type mockGuard struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (g *mockGuard) FirstSeen(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.seen == nil {
		g.seen = make(map[string]bool)
	}
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.ClaimEvent
	err    error
}

func (p *mockPublisher) PublishClaim(_ context.Context, event domain.ClaimEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *mockPublisher) published() []domain.ClaimEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.events)
}

type countingRecorder struct {
	NoopRecorder
	mu       sync.Mutex
	dropped  int
	attempts int
	outcomes map[domain.ClaimOutcome]int
	logins   []string
	probes   int
}

func (r *countingRecorder) ClaimAttempt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
}

func (r *countingRecorder) ClaimOutcome(o domain.ClaimOutcome, _ domain.Satang) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[domain.ClaimOutcome]int)
	}
	r.outcomes[o]++
}

func (r *countingRecorder) WatcherDropped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped++
}

func (r *countingRecorder) LoginResult(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins = append(r.logins, result)
}

func (r *countingRecorder) ProbeFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes++
}

// --- Fixtures ---

var errConnReset = errors.New("connection reset")

func newTenant(accessKey, destination string, keyExpiresAt time.Time) *domain.Tenant {
	return &domain.Tenant{
		AccessKey:    accessKey,
		Destination:  destination,
		KeyExpiresAt: keyExpiresAt,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
}

func withAuthenticatedBot(t *domain.Tenant, identity string) *domain.Tenant {
	t.Bot = &domain.BotSession{
		Identity:   identity,
		Credential: []byte("cred-" + identity),
		State:      domain.SessionAuthenticated,
		CreatedAt:  testNow,
		ExpiresAt:  t.KeyExpiresAt,
		Active:     true,
	}
	return t
}

type harness struct {
	clock     *clockwork.FakeClock
	repo      *memTenantRepo
	transport *fakeTransport
	redeemer  *mockRedeemer
	keys      *mockKeyValidator
	guard     *mockGuard
	events    *mockPublisher
	recorder  *countingRecorder
	sessions  *SessionManager
	service   *Service
}

func newHarness() *harness {
	clock := clockwork.NewFakeClockAt(testNow)
	h := &harness{
		clock:     clock,
		repo:      newMemTenantRepo(),
		transport: newFakeTransport(clock),
		redeemer:  &mockRedeemer{},
		keys:      &mockKeyValidator{},
		guard:     &mockGuard{},
		events:    &mockPublisher{},
		recorder:  &countingRecorder{},
	}

	claims := NewClaimPipeline(h.redeemer, ClaimPolicy{MaxAttempts: 3, Delay: 2 * time.Second}, clock, h.recorder)
	h.sessions = NewSessionManager(h.repo, h.transport, NewSessionRegistry(), WatcherDeps{
		Tenants:     h.repo,
		Claims:      claims,
		Guard:       h.guard,
		Events:      h.events,
		Recorder:    h.recorder,
		QueueSize:   8,
		SettleDelay: 5 * time.Second,
	}, clock, SessionConfig{
		CodeTTL:            15 * time.Minute,
		RestoreSettleDelay: time.Second,
		ProbeInterval:      time.Minute,
		ProbeTimeout:       5 * time.Second,
	}, h.recorder)
	h.service = NewService(h.repo, h.keys, h.sessions, clock)
	return h
}

func (h *harness) close() {
	_ = h.sessions.Shutdown(context.Background())
}
