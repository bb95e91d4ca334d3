package service

import (
	"context"
	"testing"
	"time"

	"github.com/libresocial/engine/internal/availability/domain"
	"github.com/libresocial/engine/internal/notify"
)

func TestSweepExpiresInvitation(t *testing.T) {
	svc, _, clock, notifier := newTestService(t)
	ctx := context.Background()

	invitation := mustSend(t, svc, "sender", "alice")
	clock.Advance(domain.DefaultInvitationTTL + time.Second)

	reclaimed, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}

	expired, err := svc.GetInvitation(ctx, invitation.ID)
	if err != nil {
		t.Fatalf("get invitation: %v", err)
	}
	if expired.Status != domain.InvitationStatusExpired {
		t.Fatalf("status = %s, want expired", domain.InvitationStatusLabel(expired.Status))
	}
	mustStatus(t, svc, "sender", domain.StatusLibre)
	mustStatus(t, svc, "alice", domain.StatusLibre)
	if notifier.count(notify.KindInvitationExpired, "sender") != 1 {
		t.Fatalf("sender expiry notifications = %d, want 1", notifier.count(notify.KindInvitationExpired, "sender"))
	}
	if notifier.count(notify.KindInvitationExpired, "alice") != 1 {
		t.Fatalf("alice expiry notifications = %d, want 1", notifier.count(notify.KindInvitationExpired, "alice"))
	}
}

func TestExpireInvitationIsIdempotent(t *testing.T) {
	svc, _, clock, notifier := newTestService(t)
	ctx := context.Background()

	invitation := mustSend(t, svc, "sender", "alice")
	clock.Advance(domain.DefaultInvitationTTL + time.Second)

	// Timer path and sweep path observe the same record.
	if err := svc.ExpireInvitation(ctx, invitation.ID); err != nil {
		t.Fatalf("first expiry: %v", err)
	}
	if err := svc.ExpireInvitation(ctx, invitation.ID); err != nil {
		t.Fatalf("second expiry: %v", err)
	}
	if _, err := svc.SweepExpired(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	expired, err := svc.GetInvitation(ctx, invitation.ID)
	if err != nil {
		t.Fatalf("get invitation: %v", err)
	}
	if expired.Status != domain.InvitationStatusExpired {
		t.Fatalf("status = %s, want expired", domain.InvitationStatusLabel(expired.Status))
	}
	if total := notifier.count(notify.KindInvitationExpired, ""); total != 2 {
		t.Fatalf("expiry notifications = %d, want exactly one per user", total)
	}
}

func TestExpireInvitationBeforeDeadlineIsNoOp(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	invitation := mustSend(t, svc, "sender", "alice")

	// Timer fired early, record is not yet past its deadline.
	if err := svc.ExpireInvitation(ctx, invitation.ID); err != nil {
		t.Fatalf("early expiry: %v", err)
	}
	current, err := svc.GetInvitation(ctx, invitation.ID)
	if err != nil {
		t.Fatalf("get invitation: %v", err)
	}
	if current.Status != domain.InvitationStatusPending {
		t.Fatalf("status = %s, want still pending", domain.InvitationStatusLabel(current.Status))
	}
	mustStatus(t, svc, "sender", domain.StatusInvitationSent)
}

func TestSweepExpiresSession(t *testing.T) {
	svc, _, clock, notifier := newTestService(t)
	ctx := context.Background()

	session, err := svc.StartAvailability(ctx, StartAvailabilityInput{UserID: "owner", Activity: "padel"})
	if err != nil {
		t.Fatalf("start availability: %v", err)
	}
	clock.Advance(domain.DefaultSessionTTL + time.Second)

	reclaimed, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}

	stopped, err := svc.store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stopped.Active {
		t.Fatal("expected session deactivated by sweep")
	}

	mustStatus(t, svc, "owner", domain.StatusLibre)
	if notifier.count(notify.KindSessionExpired, "owner") != 1 {
		t.Fatalf("owner expiry notifications = %d, want 1", notifier.count(notify.KindSessionExpired, "owner"))
	}

	// A second sweep finds nothing left to reclaim.
	reclaimed, err = svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("second sweep reclaimed = %d, want 0", reclaimed)
	}
	if notifier.count(notify.KindSessionExpired, "owner") != 1 {
		t.Fatalf("owner expiry notifications after second sweep = %d, want 1", notifier.count(notify.KindSessionExpired, "owner"))
	}
}

func TestExplicitStopSuppressesExpiryNotification(t *testing.T) {
	svc, _, clock, notifier := newTestService(t)
	ctx := context.Background()

	session, err := svc.StartAvailability(ctx, StartAvailabilityInput{UserID: "owner"})
	if err != nil {
		t.Fatalf("start availability: %v", err)
	}
	if err := svc.StopAvailability(ctx, session.ID, "owner"); err != nil {
		t.Fatalf("stop availability: %v", err)
	}
	clock.Advance(domain.DefaultSessionTTL + time.Second)

	if err := svc.ExpireSession(ctx, session.ID); err != nil {
		t.Fatalf("expire stopped session: %v", err)
	}
	if notifier.count(notify.KindSessionExpired, "owner") != 0 {
		t.Fatalf("expiry notifications = %d, want none for explicit stop", notifier.count(notify.KindSessionExpired, "owner"))
	}
}

func TestExpiredPartiallyAcceptedInvitationReleasesAccepters(t *testing.T) {
	svc, _, clock, _ := newTestService(t)
	ctx := context.Background()

	invitation := mustSend(t, svc, "sender", "alice", "bob")
	if _, err := svc.RespondToInvitation(ctx, invitation.ID, "alice", ResponseAccept); err != nil {
		t.Fatalf("accept: %v", err)
	}
	clock.Advance(domain.DefaultInvitationTTL + time.Second)

	if err := svc.ExpireInvitation(ctx, invitation.ID); err != nil {
		t.Fatalf("expire: %v", err)
	}

	mustStatus(t, svc, "alice", domain.StatusLibre)
	mustStatus(t, svc, "bob", domain.StatusLibre)
	mustStatus(t, svc, "sender", domain.StatusLibre)
}
