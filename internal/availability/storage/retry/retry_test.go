package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/libresocial/engine/internal/availability/domain"
	"github.com/libresocial/engine/internal/availability/storage"
	apperrors "github.com/libresocial/engine/internal/errors"
)

// flakyStore fails a fixed number of calls before succeeding. Methods not
// overridden panic through the embedded nil interface.
type flakyStore struct {
	storage.Store
	failures int
	calls    int
	err      error
}

func (s *flakyStore) GetUserStatus(_ context.Context, userID string) (domain.UserStatus, error) {
	s.calls++
	if s.calls <= s.failures {
		return domain.UserStatus{}, s.err
	}
	return domain.UserStatus{UserID: userID, Status: domain.StatusLibre}, nil
}

func (s *flakyStore) UpdateInvitation(_ context.Context, id string, mutate func(domain.Invitation) (domain.Invitation, error)) (domain.Invitation, error) {
	s.calls++
	if s.calls <= s.failures {
		return domain.Invitation{}, s.err
	}
	return mutate(domain.Invitation{ID: id, Recipients: []string{"user-b"}, Status: domain.InvitationStatusPending})
}

func testOptions() Options {
	return Options{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	inner := &flakyStore{failures: 2, err: errors.New("disk glitch")}
	store := Wrap(inner, testOptions())

	record, err := store.GetUserStatus(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected recovery after retries, got %v", err)
	}
	if record.UserID != "user-1" {
		t.Fatalf("expected user-1 record, got %q", record.UserID)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryExhaustionSurfacesStoreUnavailable(t *testing.T) {
	cause := errors.New("disk glitch")
	inner := &flakyStore{failures: 100, err: cause}
	store := Wrap(inner, testOptions())

	_, err := store.GetUserStatus(context.Background(), "user-1")
	if !apperrors.IsCode(err, apperrors.CodeStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if inner.calls != 4 {
		t.Fatalf("expected initial attempt plus 3 retries, got %d", inner.calls)
	}
}

func TestRetryDoesNotRetryDomainErrors(t *testing.T) {
	inner := &flakyStore{failures: 100, err: apperrors.New(apperrors.CodeAlreadyResponded, "already responded")}
	store := Wrap(inner, testOptions())

	_, err := store.UpdateInvitation(context.Background(), "inv-1", func(inv domain.Invitation) (domain.Invitation, error) {
		return inv, nil
	})
	if !apperrors.IsCode(err, apperrors.CodeAlreadyResponded) {
		t.Fatalf("expected domain error passthrough, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected single attempt for logical rejection, got %d", inner.calls)
	}
}

func TestRetryDoesNotRetryNotFound(t *testing.T) {
	inner := &flakyStore{failures: 100, err: storage.ErrNotFound}
	store := Wrap(inner, testOptions())

	_, err := store.GetUserStatus(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found passthrough, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected single attempt for missing record, got %d", inner.calls)
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	inner := &flakyStore{failures: 100, err: context.Canceled}
	store := Wrap(inner, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.GetUserStatus(ctx, "user-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation passthrough, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected single attempt under cancelled context, got %d", inner.calls)
	}
}

func TestRetryPassesMutationThrough(t *testing.T) {
	inner := &flakyStore{failures: 1, err: errors.New("disk glitch")}
	store := Wrap(inner, testOptions())

	updated, err := store.UpdateInvitation(context.Background(), "inv-1", func(inv domain.Invitation) (domain.Invitation, error) {
		return inv.WithAccept("user-b")
	})
	if err != nil {
		t.Fatalf("update invitation: %v", err)
	}
	if len(updated.AcceptedBy) != 1 || updated.AcceptedBy[0] != "user-b" {
		t.Fatalf("expected acceptance recorded, got %v", updated.AcceptedBy)
	}
}
