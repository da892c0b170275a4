package domain

import "errors"

var (
	ErrTenantNotFound      = errors.New("tenant not found")
	ErrTenantExists        = errors.New("tenant already exists")
	ErrDestinationTaken    = errors.New("destination already registered")
	ErrKeyExpired          = errors.New("access key expired")
	ErrInvalidKey          = errors.New("access key rejected by issuer")
	ErrInvalidDestination  = errors.New("invalid claim destination")
	ErrInvalidIdentity     = errors.New("invalid bot identity")
	ErrNoBotSession        = errors.New("tenant has no bot session")
	ErrLoginNotPending     = errors.New("no pending login for this identity")
	ErrIdentityInUse       = errors.New("bot identity already in use")
	ErrNotConnected        = errors.New("transport not connected")
	ErrNegativeAmount      = errors.New("amount must not be negative")
	ErrInvalidAmountFormat = errors.New("invalid amount format")
	ErrUpstream            = errors.New("upstream service failed")
)
