// Package retry decorates an engine store with bounded exponential backoff on
// transient failures.
//
// Only transport-level failures are retried. Logical rejections (domain
// errors, missing records, cancelled contexts) represent correct outcomes and
// pass through immediately. Exhausted retries surface as STORE_UNAVAILABLE.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/libresocial/engine/internal/availability/domain"
	"github.com/libresocial/engine/internal/availability/storage"
	apperrors "github.com/libresocial/engine/internal/errors"
)

const (
	defaultMaxRetries   = 4
	defaultInitialDelay = 50 * time.Millisecond
	defaultMaxDelay     = 2 * time.Second
)

// Options bounds the retry policy.
type Options struct {
	MaxRetries   uint64
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Store wraps an engine store with retry behavior.
type Store struct {
	inner storage.Store
	opts  Options
}

var _ storage.Store = (*Store)(nil)

// Wrap decorates inner with bounded retry-with-backoff.
func Wrap(inner storage.Store, opts Options) *Store {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = defaultInitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	return &Store{inner: inner, opts: opts}
}

func (s *Store) do(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.InitialDelay
	policy.MaxInterval = s.opts.MaxDelay

	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, s.opts.MaxRetries), ctx))
	if err == nil {
		return nil
	}
	if !isTransient(err) {
		return err
	}
	return apperrors.Wrap(apperrors.CodeStoreUnavailable, "store unavailable after retries", err)
}

// isTransient reports whether an error may succeed on retry.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var domainErr *apperrors.Error
	return !errors.As(err, &domainErr)
}

// GetUserStatus fetches one engagement-state record with retry.
func (s *Store) GetUserStatus(ctx context.Context, userID string) (domain.UserStatus, error) {
	var record domain.UserStatus
	err := s.do(ctx, func() error {
		var innerErr error
		record, innerErr = s.inner.GetUserStatus(ctx, userID)
		return innerErr
	})
	return record, err
}

// PutUserStatus persists one engagement-state record with retry.
func (s *Store) PutUserStatus(ctx context.Context, record domain.UserStatus) error {
	return s.do(ctx, func() error {
		return s.inner.PutUserStatus(ctx, record)
	})
}

// UpdateUserStatus re-runs the whole read-modify-write on transient failure;
// mutate must stay precondition-guarded so re-running it is safe.
func (s *Store) UpdateUserStatus(ctx context.Context, userID string, mutate func(domain.UserStatus) (domain.UserStatus, error)) (domain.UserStatus, error) {
	var record domain.UserStatus
	err := s.do(ctx, func() error {
		var innerErr error
		record, innerErr = s.inner.UpdateUserStatus(ctx, userID, mutate)
		return innerErr
	})
	return record, err
}

// PutInvitation persists one invitation record with retry.
func (s *Store) PutInvitation(ctx context.Context, invitation domain.Invitation) error {
	return s.do(ctx, func() error {
		return s.inner.PutInvitation(ctx, invitation)
	})
}

// GetInvitation fetches one invitation record with retry.
func (s *Store) GetInvitation(ctx context.Context, id string) (domain.Invitation, error) {
	var record domain.Invitation
	err := s.do(ctx, func() error {
		var innerErr error
		record, innerErr = s.inner.GetInvitation(ctx, id)
		return innerErr
	})
	return record, err
}

// UpdateInvitation re-runs the whole read-modify-write on transient failure.
func (s *Store) UpdateInvitation(ctx context.Context, id string, mutate func(domain.Invitation) (domain.Invitation, error)) (domain.Invitation, error) {
	var record domain.Invitation
	err := s.do(ctx, func() error {
		var innerErr error
		record, innerErr = s.inner.UpdateInvitation(ctx, id, mutate)
		return innerErr
	})
	return record, err
}

// ListInvitationsByUser lists invitations the user sent or received, with retry.
func (s *Store) ListInvitationsByUser(ctx context.Context, userID string) ([]domain.Invitation, error) {
	var records []domain.Invitation
	err := s.do(ctx, func() error {
		var innerErr error
		records, innerErr = s.inner.ListInvitationsByUser(ctx, userID)
		return innerErr
	})
	return records, err
}

// ListPendingInvitationsByUser lists still-pending invitations, with retry.
func (s *Store) ListPendingInvitationsByUser(ctx context.Context, userID string) ([]domain.Invitation, error) {
	var records []domain.Invitation
	err := s.do(ctx, func() error {
		var innerErr error
		records, innerErr = s.inner.ListPendingInvitationsByUser(ctx, userID)
		return innerErr
	})
	return records, err
}

// ListExpiredPendingInvitations lists sweep candidates, with retry.
func (s *Store) ListExpiredPendingInvitations(ctx context.Context, now time.Time) ([]domain.Invitation, error) {
	var records []domain.Invitation
	err := s.do(ctx, func() error {
		var innerErr error
		records, innerErr = s.inner.ListExpiredPendingInvitations(ctx, now)
		return innerErr
	})
	return records, err
}

// PutSession persists one session record with retry.
func (s *Store) PutSession(ctx context.Context, session domain.AvailabilitySession) error {
	return s.do(ctx, func() error {
		return s.inner.PutSession(ctx, session)
	})
}

// GetSession fetches one session record with retry.
func (s *Store) GetSession(ctx context.Context, id string) (domain.AvailabilitySession, error) {
	var record domain.AvailabilitySession
	err := s.do(ctx, func() error {
		var innerErr error
		record, innerErr = s.inner.GetSession(ctx, id)
		return innerErr
	})
	return record, err
}

// UpdateSession re-runs the whole read-modify-write on transient failure.
func (s *Store) UpdateSession(ctx context.Context, id string, mutate func(domain.AvailabilitySession) (domain.AvailabilitySession, error)) (domain.AvailabilitySession, error) {
	var record domain.AvailabilitySession
	err := s.do(ctx, func() error {
		var innerErr error
		record, innerErr = s.inner.UpdateSession(ctx, id, mutate)
		return innerErr
	})
	return record, err
}

// GetActiveSessionByOwner fetches the owner's active session, with retry.
func (s *Store) GetActiveSessionByOwner(ctx context.Context, userID string) (domain.AvailabilitySession, error) {
	var record domain.AvailabilitySession
	err := s.do(ctx, func() error {
		var innerErr error
		record, innerErr = s.inner.GetActiveSessionByOwner(ctx, userID)
		return innerErr
	})
	return record, err
}

// ListExpiredActiveSessions lists sweep candidates, with retry.
func (s *Store) ListExpiredActiveSessions(ctx context.Context, now time.Time) ([]domain.AvailabilitySession, error) {
	var records []domain.AvailabilitySession
	err := s.do(ctx, func() error {
		var innerErr error
		records, innerErr = s.inner.ListExpiredActiveSessions(ctx, now)
		return innerErr
	})
	return records, err
}
