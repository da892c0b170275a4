// Package telegram implements the bot transport over MTProto.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/pscheid92/giftclaim/internal/domain"
	"github.com/pscheid92/giftclaim/internal/platform/correlation"
	"github.com/pscheid92/giftclaim/internal/platform/version"
)

const closeTimeout = 10 * time.Second

// Transport opens MTProto client connections.
type Transport struct {
	appID   int
	appHash string
	logger  *zap.Logger
}

var _ domain.Transport = (*Transport)(nil)

func NewTransport(appID int, appHash string, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{appID: appID, appHash: appHash, logger: logger}
}

// Open connects a client for identity and returns once the connection is
// established. credential is the session blob of an earlier connection or
// nil.
func (t *Transport) Open(ctx context.Context, identity string, credential []byte) (domain.TransportSession, error) {
	s := &Session{
		identity: identity,
		storage:  newMemorySession(credential),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.client = telegram.NewClient(t.appID, t.appHash, telegram.Options{
		SessionStorage: s.storage,
		UpdateHandler:  telegram.UpdateHandlerFunc(s.handleUpdates),
		Logger:         t.logger.With(zap.String("identity", correlation.Mask(identity))),
		Device: telegram.DeviceConfig{
			DeviceModel: "giftclaim",
			AppVersion:  version.Get().Version,
		},
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	go s.run(runCtx)

	select {
	case <-s.ready:
		return s, nil
	case <-s.done:
		cancel()
		return nil, fmt.Errorf("%w: %v", domain.ErrNotConnected, s.runError())
	case <-ctx.Done():
		cancel()
		<-s.done
		return nil, ctx.Err()
	}
}

// Session is one running MTProto client.
type Session struct {
	identity string
	client   *telegram.Client
	storage  *memorySession
	cancel   context.CancelFunc

	ready     chan struct{}
	done      chan struct{}
	connected atomic.Bool
	sink      atomic.Pointer[func(domain.Message)]

	mu     sync.Mutex
	runErr error
}

var _ domain.TransportSession = (*Session)(nil)

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	err := s.client.Run(ctx, func(ctx context.Context) error {
		s.connected.Store(true)
		close(s.ready)

		status, err := s.client.Auth().Status(ctx)
		if err == nil && status.Authorized {
			s.startUpdates(ctx)
		}

		<-ctx.Done()
		return ctx.Err()
	})
	s.connected.Store(false)

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("MTProto client stopped", "identity", correlation.Mask(s.identity), "error", err)
	}
	s.mu.Lock()
	s.runErr = err
	s.mu.Unlock()
}

func (s *Session) runError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runErr == nil {
		return errors.New("client stopped")
	}
	return s.runErr
}

// startUpdates asks the server for the update state, which makes it start
// pushing updates to this connection.
func (s *Session) startUpdates(ctx context.Context) {
	if _, err := s.client.API().UpdatesGetState(ctx); err != nil {
		slog.Warn("Failed to subscribe to updates", "identity", correlation.Mask(s.identity), "error", err)
	}
}

func (s *Session) handleUpdates(_ context.Context, u tg.UpdatesClass) error {
	sink := s.sink.Load()
	if sink == nil {
		return nil
	}
	for _, msg := range extractMessages(u) {
		(*sink)(msg)
	}
	return nil
}

func (s *Session) SendCode(ctx context.Context) (string, error) {
	if !s.connected.Load() {
		return "", &domain.LoginError{Kind: domain.LoginRejected, Err: domain.ErrNotConnected}
	}

	sent, err := s.client.Auth().SendCode(ctx, s.identity, auth.SendCodeOptions{})
	if err != nil {
		return "", classifyLoginError(err)
	}

	switch sent := sent.(type) {
	case *tg.AuthSentCode:
		return sent.PhoneCodeHash, nil
	default:
		return "", &domain.LoginError{Kind: domain.LoginRejected, Err: fmt.Errorf("unexpected send-code result %T", sent)}
	}
}

func (s *Session) SignIn(ctx context.Context, nonce, code string) error {
	if !s.connected.Load() {
		return &domain.LoginError{Kind: domain.LoginRejected, Err: domain.ErrNotConnected}
	}

	if _, err := s.client.Auth().SignIn(ctx, s.identity, code, nonce); err != nil {
		var signUp *auth.SignUpRequired
		if errors.As(err, &signUp) {
			return &domain.LoginError{Kind: domain.LoginInvalidIdentity, Err: err}
		}
		return classifyLoginError(err)
	}

	s.startUpdates(ctx)
	return nil
}

// Self returns the authorized account's phone number in +E.164 form.
func (s *Session) Self(ctx context.Context) (string, error) {
	if !s.connected.Load() {
		return "", domain.ErrNotConnected
	}

	user, err := s.client.Self(ctx)
	if err != nil {
		return "", fmt.Errorf("get self: %w", err)
	}

	phone := user.Phone
	if phone != "" && !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	return phone, nil
}

func (s *Session) Credential() []byte {
	return s.storage.bytes()
}

func (s *Session) Subscribe(sink func(domain.Message)) {
	s.sink.Store(&sink)
}

func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Close stops the client and waits for it to exit.
func (s *Session) Close() error {
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-time.After(closeTimeout):
		return fmt.Errorf("MTProto client did not stop within %s", closeTimeout)
	}
}
