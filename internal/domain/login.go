package domain

import (
	"fmt"
	"time"
)

type LoginErrorKind string

const (
	LoginInvalidIdentity  LoginErrorKind = "invalid_identity"
	LoginRateLimited      LoginErrorKind = "rate_limited"
	LoginInvalidCode      LoginErrorKind = "invalid_code"
	LoginExpiredCode      LoginErrorKind = "expired_code"
	LoginPasswordRequired LoginErrorKind = "password_required"
	LoginRejected         LoginErrorKind = "rejected"
)

// LoginError is a classified transport failure during send-code or sign-in.
// Wait is set for LoginRateLimited.
type LoginError struct {
	Kind LoginErrorKind
	Wait time.Duration
	Err  error
}

func (e *LoginError) Error() string {
	if e.Kind == LoginRateLimited {
		return fmt.Sprintf("login %s (retry in %s): %v", e.Kind, e.Wait, e.Err)
	}
	return fmt.Sprintf("login %s: %v", e.Kind, e.Err)
}

func (e *LoginError) Unwrap() error { return e.Err }
