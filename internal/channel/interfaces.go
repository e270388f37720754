package channel

import (
	"context"

	"github.com/treyvum/smsgate/internal/domain"
)

// Channel is a live, submit-ready connection to one carrier route for one
// tenant. Implementations own their connection lifecycle; callers obtain
// channels through the Registry and never construct them directly.
type Channel interface {
	// Kind returns the transport kind, one of the codes.ChannelKind values.
	Kind() string

	// Submit sends the message and reports a definite outcome. The error
	// return is reserved for programming errors; delivery failures are
	// reported in the outcome.
	Submit(ctx context.Context, msg *domain.Message) (domain.SubmitOutcome, error)

	// Healthy reports whether the channel can currently serve submissions.
	Healthy(ctx context.Context) bool

	// Close releases the channel's connections. The channel must not be
	// used afterwards.
	Close(ctx context.Context)
}

// Factory builds a Channel from a validated config. The Registry calls it
// under its creation lock, at most once per live channel instance.
type Factory func(ctx context.Context, cfg domain.TenantChannelConfig) (Channel, error)
