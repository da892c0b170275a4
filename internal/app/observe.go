package app

import (
	"time"

	"github.com/pscheid92/giftclaim/internal/domain"
)

// ClaimRecorder observes the claim path.
type ClaimRecorder interface {
	ClaimAttempt()
	ClaimOutcome(outcome domain.ClaimOutcome, amount domain.Satang)
	WatcherDropped()
}

// SessionRecorder observes the session lifecycle.
type SessionRecorder interface {
	LoginResult(result string)
	RestoreResult(result string)
	ProbeFailed()
	Connected(n int)
}

// SweepRecorder observes reconciler runs.
type SweepRecorder interface {
	SweepCompleted(report SweepReport, took time.Duration)
}

// NoopRecorder discards observations.
type NoopRecorder struct{}

func (NoopRecorder) ClaimAttempt()                                   {}
func (NoopRecorder) ClaimOutcome(domain.ClaimOutcome, domain.Satang) {}
func (NoopRecorder) WatcherDropped()                                 {}
func (NoopRecorder) LoginResult(string)                              {}
func (NoopRecorder) RestoreResult(string)                            {}
func (NoopRecorder) ProbeFailed()                                    {}
func (NoopRecorder) Connected(int)                                   {}
func (NoopRecorder) SweepCompleted(SweepReport, time.Duration)       {}
