package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/giftclaim/internal/domain"
	"github.com/pscheid92/giftclaim/internal/platform/correlation"
)

// WatcherDeps are shared by every LinkWatcher. Guard and Events may be nil.
type WatcherDeps struct {
	Tenants     domain.TenantRepository
	Claims      *ClaimPipeline
	Guard       domain.OccurrenceGuard
	Events      domain.ClaimEventPublisher
	Locks       *KeyLocks
	Clock       clockwork.Clock
	Recorder    ClaimRecorder
	QueueSize   int
	SettleDelay time.Duration
	// Inflight tracks detached claim goroutines so shutdown can wait for them.
	Inflight *sync.WaitGroup
}

// LinkWatcher consumes one session's message stream from a bounded queue and
// starts a claim for every redemption link it sees.
type LinkWatcher struct {
	accessKey string
	queue     chan domain.Message
	deps      WatcherDeps
}

func NewLinkWatcher(accessKey string, deps WatcherDeps) *LinkWatcher {
	if deps.Recorder == nil {
		deps.Recorder = NoopRecorder{}
	}
	if deps.Inflight == nil {
		deps.Inflight = &sync.WaitGroup{}
	}
	size := deps.QueueSize
	if size < 1 {
		size = 1
	}
	return &LinkWatcher{
		accessKey: accessKey,
		queue:     make(chan domain.Message, size),
		deps:      deps,
	}
}

// Enqueue hands a message to the consumer loop without blocking. Messages are
// dropped when the queue is full.
func (w *LinkWatcher) Enqueue(msg domain.Message) {
	select {
	case w.queue <- msg:
	default:
		w.deps.Recorder.WatcherDropped()
		slog.Warn("Watcher queue full, dropping message", "tenant", correlation.Mask(w.accessKey), "message_id", msg.ID)
	}
}

// Run consumes the queue until ctx is cancelled.
func (w *LinkWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.queue:
			err := w.handle(ctx, msg)
			if err == nil || ctx.Err() != nil {
				continue
			}

			slog.WarnContext(ctx, "Failed to handle message", "message_id", msg.ID, "error", err)
			if isConnectionError(err) {
				select {
				case <-w.deps.Clock.After(w.deps.SettleDelay):
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (w *LinkWatcher) handle(ctx context.Context, msg domain.Message) error {
	link, ok := DetectLink(msg.Text)
	if !ok {
		return nil
	}

	t, err := w.deps.Tenants.Get(ctx, w.accessKey)
	if errors.Is(err, domain.ErrTenantNotFound) {
		slog.InfoContext(ctx, "Link found but tenant is gone", "url", link.URL)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}

	if t.KeyExpired(w.deps.Clock.Now()) {
		slog.InfoContext(ctx, "Link found but access key expired, skipping", "url", link.URL)
		return nil
	}
	if t.Destination == "" {
		slog.InfoContext(ctx, "Link found but no destination registered, skipping", "url", link.URL)
		return nil
	}

	if w.deps.Guard != nil {
		occurrence := fmt.Sprintf("%s:%d:%d", w.accessKey, msg.ChatID, msg.ID)
		first, err := w.deps.Guard.FirstSeen(ctx, occurrence)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "Occurrence guard unavailable, claiming anyway", "error", err)
		case !first:
			slog.DebugContext(ctx, "Redelivered message ignored", "message_id", msg.ID)
			return nil
		}
	}

	slog.InfoContext(ctx, "Redemption link found", "url", link.URL, "outgoing", msg.Outgoing)

	w.deps.Inflight.Add(1)
	go func() {
		defer w.deps.Inflight.Done()
		w.claim(ctx, link, t.Destination)
	}()
	return nil
}

// claim runs detached from the session: tearing the session down does not
// abort a redemption already in progress.
func (w *LinkWatcher) claim(parent context.Context, link Link, destination string) {
	ctx := correlation.WithID(context.WithoutCancel(parent), correlation.NewID())
	ctx = correlation.WithTenant(ctx, w.accessKey)

	event := domain.ClaimEvent{
		OccurrenceID: uuid.NewString(),
		AccessKey:    w.accessKey,
		Destination:  destination,
		Voucher:      link.Voucher,
		URL:          link.URL,
	}

	result, err := w.deps.Claims.Attempt(ctx, destination, link.Voucher)
	event.Attempts = result.Attempts
	event.At = w.deps.Clock.Now()

	if err != nil {
		event.Outcome = domain.ClaimFailed
		event.Error = err.Error()
		w.deps.Recorder.ClaimOutcome(domain.ClaimFailed, 0)
		slog.WarnContext(ctx, "Claim failed", "voucher", link.Voucher, "destination", destination, "error", err)
		w.publish(ctx, event)
		return
	}

	amount := result.Redemption.Amount
	event.Outcome = domain.ClaimSucceeded
	event.Amount = amount
	w.deps.Recorder.ClaimOutcome(domain.ClaimSucceeded, amount)

	if err := w.credit(ctx, amount); err != nil {
		slog.ErrorContext(ctx, "Claim succeeded but credit was not recorded",
			"voucher", link.Voucher, "amount", amount.String(), "error", err)
	} else {
		slog.InfoContext(ctx, "Claim credited", "voucher", link.Voucher, "destination", destination, "amount", amount.String())
	}

	w.publish(ctx, event)
}

func (w *LinkWatcher) credit(ctx context.Context, amount domain.Satang) error {
	unlock := w.deps.Locks.Lock(w.accessKey)
	defer unlock()

	_, err := w.deps.Tenants.Update(ctx, w.accessKey, func(t *domain.Tenant) error {
		return t.Credit(amount)
	})
	return err
}

func (w *LinkWatcher) publish(ctx context.Context, event domain.ClaimEvent) {
	if w.deps.Events == nil {
		return
	}
	if err := w.deps.Events.PublishClaim(ctx, event); err != nil {
		slog.WarnContext(ctx, "Failed to publish claim event", "error", err)
	}
}

func isConnectionError(err error) bool {
	if errors.Is(err, domain.ErrNotConnected) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
