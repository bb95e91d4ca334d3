// Package storage defines persistence contracts for availability engine state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/libresocial/engine/internal/availability/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// StatusStore persists per-user engagement-state records.
//
// UpdateUserStatus runs mutate inside one per-document atomic read-modify-write;
// when no record exists yet, mutate receives the default LIBRE record for the
// user. Returning an error from mutate aborts the write and is passed through
// unchanged.
type StatusStore interface {
	GetUserStatus(ctx context.Context, userID string) (domain.UserStatus, error)
	PutUserStatus(ctx context.Context, record domain.UserStatus) error
	UpdateUserStatus(ctx context.Context, userID string, mutate func(domain.UserStatus) (domain.UserStatus, error)) (domain.UserStatus, error)
}

// InvitationStore persists invitation records and serves the scans the
// eligibility checks and expiry sweeps run on them.
type InvitationStore interface {
	PutInvitation(ctx context.Context, invitation domain.Invitation) error
	GetInvitation(ctx context.Context, id string) (domain.Invitation, error)
	UpdateInvitation(ctx context.Context, id string, mutate func(domain.Invitation) (domain.Invitation, error)) (domain.Invitation, error)
	// ListInvitationsByUser returns invitations the user sent or received.
	ListInvitationsByUser(ctx context.Context, userID string) ([]domain.Invitation, error)
	// ListPendingInvitationsByUser returns still-pending invitations the user
	// sent or received.
	ListPendingInvitationsByUser(ctx context.Context, userID string) ([]domain.Invitation, error)
	// ListExpiredPendingInvitations returns pending invitations whose deadline
	// passed at or before now.
	ListExpiredPendingInvitations(ctx context.Context, now time.Time) ([]domain.Invitation, error)
}

// SessionStore persists availability broadcast records.
type SessionStore interface {
	PutSession(ctx context.Context, session domain.AvailabilitySession) error
	GetSession(ctx context.Context, id string) (domain.AvailabilitySession, error)
	UpdateSession(ctx context.Context, id string, mutate func(domain.AvailabilitySession) (domain.AvailabilitySession, error)) (domain.AvailabilitySession, error)
	// GetActiveSessionByOwner returns the owner's single active session, or
	// ErrNotFound when none is active.
	GetActiveSessionByOwner(ctx context.Context, userID string) (domain.AvailabilitySession, error)
	// ListExpiredActiveSessions returns active sessions whose deadline passed
	// at or before now.
	ListExpiredActiveSessions(ctx context.Context, now time.Time) ([]domain.AvailabilitySession, error)
}

// Store aggregates the three engine stores, typically backed by one database.
type Store interface {
	StatusStore
	InvitationStore
	SessionStore
}
