// Package platform defines the adapter contract between external messaging
// platforms and the aggregation engine, plus the concrete adapters.
package platform

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cross-messenger/internal/model"
)

// Handle is a live platform session owned by one adapter. Opaque to callers.
type Handle interface {
	Close() error
}

// Sink receives normalized inbound events. The engine binds it to the owning
// account before handing it to an adapter.
type Sink func(ctx context.Context, msg model.NewMessage) error

// Onboarded is the result of a completed platform auth exchange. Session is
// plaintext material; the engine encrypts it before it ever reaches storage.
type Onboarded struct {
	PlatformAccountID string
	Session           []byte
	Handle            Handle
}

// Adapter is the per-platform capability set. Listener platforms keep a
// persistent session and stream inbound events; stub platforms only support
// onboarding and locally recorded sends.
type Adapter interface {
	// Platform returns the platform tag (model.PlatformTelegram, ...).
	Platform() string

	// Listener reports whether the platform streams inbound events and needs
	// a background listen task per account.
	Listener() bool

	// BeginOnboarding starts an auth exchange for a user and returns a
	// challenge token (or URL) the caller must act on.
	BeginOnboarding(ctx context.Context, userID uuid.UUID, identityHint string) (challenge string, err error)

	// CompleteOnboarding finishes the exchange with the user's proof.
	// Fails with errs.ErrAuthRejected on invalid proof.
	CompleteOnboarding(ctx context.Context, challenge, proof string) (*Onboarded, error)

	// RestoreSession revives a persisted session. Fails with
	// errs.ErrSessionExpired when the platform no longer accepts it.
	RestoreSession(ctx context.Context, session []byte) (Handle, error)

	// Listen blocks, delivering inbound events to sink, until ctx is
	// cancelled or the session fails. A rejected session surfaces as
	// errs.ErrSessionExpired, never swallowed.
	Listen(ctx context.Context, h Handle, sink Sink) error

	// Backfill performs the one-time history sync after onboarding, bounded
	// to perChatLimit messages per chat where the platform allows it.
	Backfill(ctx context.Context, h Handle, sink Sink, perChatLimit int) error

	// Send delivers text to a platform chat and returns the platform message
	// id. Fails with errs.ErrSendFailed.
	Send(ctx context.Context, h Handle, platformChatID, text string) (platformMessageID string, err error)
}
