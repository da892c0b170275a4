package telegram

import (
	"errors"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"github.com/pscheid92/giftclaim/internal/domain"
)

// classifyLoginError maps MTProto RPC errors from send-code and sign-in to
// login error kinds.
func classifyLoginError(err error) *domain.LoginError {
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &domain.LoginError{Kind: domain.LoginRateLimited, Wait: wait, Err: err}
	}

	kind := domain.LoginRejected
	switch {
	case errors.Is(err, auth.ErrPasswordAuthNeeded), tgerr.Is(err, "SESSION_PASSWORD_NEEDED"):
		kind = domain.LoginPasswordRequired
	case tgerr.Is(err, "PHONE_NUMBER_INVALID", "PHONE_NUMBER_BANNED", "PHONE_NUMBER_UNOCCUPIED"):
		kind = domain.LoginInvalidIdentity
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"):
		kind = domain.LoginInvalidCode
	case tgerr.Is(err, "PHONE_CODE_EXPIRED", "PHONE_CODE_HASH_EMPTY"):
		kind = domain.LoginExpiredCode
	case tgerr.Is(err, "PHONE_NUMBER_FLOOD", "PHONE_PASSWORD_FLOOD"):
		kind = domain.LoginRateLimited
	}
	return &domain.LoginError{Kind: kind, Err: err}
}
