// Package driver defines the boundary to the chat-network connection.
// The session manager and delivery queue only see this interface; the
// whatsmeow-backed implementation lives in whatsapp.go.
package driver

import (
	"context"
	"io"
	"time"
)

// EventKind identifies a lifecycle event emitted by a driver.
type EventKind string

const (
	// EventPairingChallenge carries a QR payload that must be scanned
	// to link the session to an account.
	EventPairingChallenge EventKind = "pairing-challenge"

	// EventAuthenticated fires once credentials are linked; the driver
	// is logging in but not yet usable.
	EventAuthenticated EventKind = "authenticated"

	// EventReady fires when the session is fully connected and sends
	// may be issued.
	EventReady EventKind = "ready"

	// EventAuthFailed fires when the network rejects the stored
	// credentials (e.g. the account was unlinked from another device).
	EventAuthFailed EventKind = "auth-failed"

	// EventDisconnected fires on any connection loss, clean or not.
	EventDisconnected EventKind = "disconnected"
)

// Event is a lifecycle event. Code is set for pairing challenges,
// Reason for auth failures and disconnects.
type Event struct {
	Kind   EventKind
	Code   string // QR payload (pairing-challenge only)
	Reason string
	At     time.Time
}

// Attachment is one binary payload to deliver. Data is streamed, not
// buffered; the driver is responsible for reading it to completion.
type Attachment struct {
	Data     io.Reader
	Mime     string
	FileName string
	Caption  string
	// VideoAsDocument sends video content as a document instead of an
	// inline video message (delivery policy for large clips).
	VideoAsDocument bool
}

// Driver is one connection to the chat network. A driver is used by
// exactly one session manager and executed against by exactly one
// consumer (the delivery queue drain loop).
type Driver interface {
	// Connect starts the session. Lifecycle progress is reported
	// through Events, not the return value.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down. Idempotent.
	Disconnect()

	// IsRegistered reports whether the normalized address belongs to a
	// registered account on the network.
	IsRegistered(ctx context.Context, address string) (bool, error)

	// SendText delivers a plain text message.
	SendText(ctx context.Context, address, text string) error

	// SendAttachment uploads and delivers one attachment.
	SendAttachment(ctx context.Context, address string, att Attachment) error

	// Events returns the lifecycle event stream. The channel is closed
	// when the driver is destroyed.
	Events() <-chan Event
}

// Factory constructs a fresh driver. The session manager calls it on
// every (re)initialization so a poisoned connection is never reused.
type Factory func(ctx context.Context) (Driver, error)

// CredentialStore wipes persisted session credentials. Wiping must be
// attempted before re-initialization so a new driver never reads
// half-deleted credential state.
type CredentialStore interface {
	Wipe(ctx context.Context) error
}
