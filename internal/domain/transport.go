package domain

import "context"

// Message is one chat message seen by a bot session, in either direction.
type Message struct {
	ID       int
	ChatID   int64
	Text     string
	Outgoing bool
}

// Transport opens client connections for bot identities. credential is nil
// for a first login.
type Transport interface {
	Open(ctx context.Context, identity string, credential []byte) (TransportSession, error)
}

// TransportSession is one connected client. Errors from SendCode and SignIn
// are *LoginError.
type TransportSession interface {
	SendCode(ctx context.Context) (nonce string, err error)
	SignIn(ctx context.Context, nonce, code string) error
	// Self returns the identity the connection is authorized as.
	Self(ctx context.Context) (string, error)
	// Credential returns the current opaque credential for persistence.
	Credential() []byte
	// Subscribe registers the sink for incoming and outgoing messages.
	// The sink must not block.
	Subscribe(sink func(Message))
	Connected() bool
	Close() error
}
