package service

import (
	"context"
	"log"

	"github.com/libresocial/engine/internal/availability/domain"
	"github.com/libresocial/engine/internal/notify"
)

// ExpireInvitation applies the invitation expiry transition. Safe to call from
// the sweep and a per-item timer concurrently, and safe to re-run after a
// partial failure:
//
//  1. the status flip is guarded by "still pending and past deadline",
//  2. user bookkeeping is idempotent and re-runs until step 3 commits,
//  3. the notification claim is a separate guarded document write, so at most
//     one caller dispatches the expiry notification.
func (s *Service) ExpireInvitation(ctx context.Context, invitationID string) error {
	invitation, err := s.store.UpdateInvitation(ctx, invitationID, func(current domain.Invitation) (domain.Invitation, error) {
		if current.Status == domain.InvitationStatusPending && current.IsExpired(s.now()) {
			current.Status = domain.InvitationStatusExpired
		}
		return current, nil
	})
	if err != nil {
		return mapLookupError(err, "invitation")
	}
	if invitation.Status != domain.InvitationStatusExpired || invitation.NotifiedOfExpiry {
		return nil
	}

	for _, recipient := range invitation.Recipients {
		if err := s.releaseRecipientFromInvitation(ctx, recipient, invitation); err != nil {
			return err
		}
	}
	if err := s.releaseSenderFromInvitation(ctx, invitation); err != nil {
		return err
	}

	var claimed bool
	invitation, err = s.store.UpdateInvitation(ctx, invitationID, func(current domain.Invitation) (domain.Invitation, error) {
		claimed = false
		if !current.NotifiedOfExpiry {
			current.NotifiedOfExpiry = true
			claimed = true
		}
		return current, nil
	})
	if err != nil {
		return mapLookupError(err, "invitation")
	}
	if !claimed {
		return nil
	}

	s.dispatch(ctx, notify.Message{
		RecipientUserID: invitation.FromUser,
		Kind:            notify.KindInvitationExpired,
		DedupeKey:       notify.KindInvitationExpired + ":" + invitation.ID,
		Payload:         invitationPayload(invitation),
	})
	for _, recipient := range invitation.Unresponded() {
		s.dispatch(ctx, notify.Message{
			RecipientUserID: recipient,
			Kind:            notify.KindInvitationExpired,
			DedupeKey:       notify.KindInvitationExpired + ":" + invitation.ID + ":" + recipient,
			Payload:         invitationPayload(invitation),
		})
	}
	return nil
}

// ExpireSession applies the session expiry transition with the same guarded
// flip, idempotent owner release, and single notification claim. Explicit and
// implicit stops pre-claim the notification, so only scheduler-driven expiry
// notifies.
func (s *Service) ExpireSession(ctx context.Context, sessionID string) error {
	session, err := s.store.UpdateSession(ctx, sessionID, func(current domain.AvailabilitySession) (domain.AvailabilitySession, error) {
		if current.Active && current.IsExpired(s.now()) {
			current.Active = false
		}
		return current, nil
	})
	if err != nil {
		return mapLookupError(err, "session")
	}
	if session.Active || session.NotifiedOfExpiry {
		return nil
	}

	if err := s.releaseSessionOwner(ctx, session); err != nil {
		return err
	}

	var claimed bool
	session, err = s.store.UpdateSession(ctx, sessionID, func(current domain.AvailabilitySession) (domain.AvailabilitySession, error) {
		claimed = false
		if !current.NotifiedOfExpiry {
			current.NotifiedOfExpiry = true
			claimed = true
		}
		return current, nil
	})
	if err != nil {
		return mapLookupError(err, "session")
	}
	if !claimed {
		return nil
	}

	s.dispatch(ctx, notify.Message{
		RecipientUserID: session.UserID,
		Kind:            notify.KindSessionExpired,
		DedupeKey:       notify.KindSessionExpired + ":" + session.ID,
		Payload: map[string]string{
			"session_id": session.ID,
			"activity":   session.Activity,
		},
	})
	return nil
}

// SweepExpired reclaims every invitation and session whose deadline has
// passed. Individual failures are logged and skipped so one bad record cannot
// stall the sweep; the next pass retries them.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	reclaimed := 0

	invitations, err := s.store.ListExpiredPendingInvitations(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, invitation := range invitations {
		if err := s.ExpireInvitation(ctx, invitation.ID); err != nil {
			log.Printf("sweep expire invitation failed id=%s err=%v", invitation.ID, err)
			continue
		}
		reclaimed++
	}

	sessions, err := s.store.ListExpiredActiveSessions(ctx, now)
	if err != nil {
		return reclaimed, err
	}
	for _, session := range sessions {
		if err := s.ExpireSession(ctx, session.ID); err != nil {
			log.Printf("sweep expire session failed id=%s err=%v", session.ID, err)
			continue
		}
		reclaimed++
	}

	return reclaimed, nil
}
