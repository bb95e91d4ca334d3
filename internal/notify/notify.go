// Package notify defines the engine's outbound notification contract and the
// inbox-backed dispatcher that persists per-user notifications.
package notify

import "context"

// Message kinds dispatched by the availability engine.
const (
	KindInvitationReceived     = "invitation.received"
	KindInvitationAccepted     = "invitation.accepted"
	KindInvitationDeclined     = "invitation.declined"
	KindInvitationCancelled    = "invitation.cancelled"
	KindInvitationExpired      = "invitation.expired"
	KindInvitationAutoDeclined = "invitation.auto_declined"
	KindSessionExpired         = "session.expired"
)

// Message is one outbound notification addressed to a single user.
type Message struct {
	RecipientUserID string
	Kind            string
	// DedupeKey suppresses duplicate dispatch of the same logical event.
	// Empty keys are never deduplicated.
	DedupeKey string
	Payload   map[string]string
}

// Dispatcher delivers notifications. Dispatch is fire-and-forget from the
// engine's point of view: callers log failures and never fail the triggering
// operation on a dispatch error.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, msg Message) error

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
