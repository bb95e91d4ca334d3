package service

import (
	"context"
	"errors"

	"github.com/libresocial/engine/internal/availability/domain"
	"github.com/libresocial/engine/internal/availability/storage"
	apperrors "github.com/libresocial/engine/internal/errors"
	"github.com/libresocial/engine/internal/notify"
)

// InviteDecision is the eligibility verdict for one sender/recipient pair.
// Reason is set only when Allowed is false, so callers can explain rejection.
type InviteDecision struct {
	Allowed bool
	Reason  apperrors.Code
}

// CanInvite decides whether fromUser may invite toUser right now.
//
// Checks run in order, first match wins: an existing relationship between the
// pair, then the target being busy with their own items, then the sender
// already being engaged.
func (s *Service) CanInvite(ctx context.Context, fromUser, toUser string) (InviteDecision, error) {
	relationship, err := s.relationshipBetween(ctx, fromUser, toUser)
	if err != nil {
		return InviteDecision{}, err
	}
	if relationship.Linked() {
		return InviteDecision{Reason: apperrors.CodeRelationshipConflict}, nil
	}

	busy, err := s.isBusy(ctx, toUser)
	if err != nil {
		return InviteDecision{}, err
	}
	if busy {
		return InviteDecision{Reason: apperrors.CodeTargetBusy}, nil
	}

	senderStatus, err := s.GetStatus(ctx, fromUser)
	if err != nil {
		return InviteDecision{}, err
	}
	if senderStatus.Status == domain.StatusEngaged {
		return InviteDecision{Reason: apperrors.CodeSenderEngaged}, nil
	}

	return InviteDecision{Allowed: true}, nil
}

// relationshipBetween evaluates whether a pending invitation or a shared
// active session directly links the pair. The snapshot is derived, never
// stored.
func (s *Service) relationshipBetween(ctx context.Context, subjectID, otherID string) (domain.RelationshipSnapshot, error) {
	pending, err := s.store.ListPendingInvitationsByUser(ctx, subjectID)
	if err != nil {
		return domain.RelationshipSnapshot{}, err
	}
	for _, inv := range pending {
		if inv.FromUser == subjectID && inv.IsRecipient(otherID) {
			return domain.RelationshipSnapshot{
				Kind:            domain.RelationshipInvitationPending,
				InvitationID:    inv.ID,
				SubjectIsSender: true,
			}, nil
		}
		if inv.FromUser == otherID && inv.IsRecipient(subjectID) {
			return domain.RelationshipSnapshot{
				Kind:         domain.RelationshipInvitationPending,
				InvitationID: inv.ID,
			}, nil
		}
	}

	if session, err := s.activeSession(ctx, subjectID); err != nil {
		return domain.RelationshipSnapshot{}, err
	} else if session != nil && session.IsSharedWith(otherID) {
		return domain.RelationshipSnapshot{
			Kind:            domain.RelationshipSessionShared,
			SessionID:       session.ID,
			SubjectIsSender: true,
		}, nil
	}
	if session, err := s.activeSession(ctx, otherID); err != nil {
		return domain.RelationshipSnapshot{}, err
	} else if session != nil && session.IsSharedWith(subjectID) {
		return domain.RelationshipSnapshot{
			Kind:      domain.RelationshipSessionShared,
			SessionID: session.ID,
		}, nil
	}

	return domain.RelationshipSnapshot{}, nil
}

// isBusy reports whether the user has any pending invitation of their own,
// sent or received, or an active session.
func (s *Service) isBusy(ctx context.Context, userID string) (bool, error) {
	pending, err := s.store.ListPendingInvitationsByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(pending) > 0 {
		return true, nil
	}
	session, err := s.activeSession(ctx, userID)
	if err != nil {
		return false, err
	}
	return session != nil, nil
}

func (s *Service) activeSession(ctx context.Context, userID string) (*domain.AvailabilitySession, error) {
	session, err := s.store.GetActiveSessionByOwner(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ResolveForUser retracts every competing offer after the user commits to the
// winning invitation: each other invitation still awaiting the user's response
// is auto-declined with the winner recorded in its conflict set, and any
// active session the user owns is terminated.
//
// Every sub-step is guarded by a still-pending or still-active precondition,
// so re-running resolution after a partial failure is safe.
func (s *Service) ResolveForUser(ctx context.Context, userID, winningInvitationID string) error {
	pending, err := s.store.ListPendingInvitationsByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, candidate := range pending {
		if candidate.ID == winningInvitationID {
			continue
		}
		if !candidate.IsRecipient(userID) || candidate.HasResponded(userID) {
			continue
		}
		if err := s.autoDecline(ctx, candidate.ID, userID, winningInvitationID); err != nil {
			return err
		}
	}

	return s.terminateSession(ctx, userID)
}

// autoDecline retracts one competing invitation and performs the same user
// bookkeeping an all-recipient decline would.
func (s *Service) autoDecline(ctx context.Context, invitationID, acceptingUserID, winningInvitationID string) error {
	var retracted bool
	inv, err := s.store.UpdateInvitation(ctx, invitationID, func(current domain.Invitation) (domain.Invitation, error) {
		if current.Status != domain.InvitationStatusPending {
			return current, nil
		}
		current.Status = domain.InvitationStatusAutoDeclined
		current.ConflictsWith = appendConflict(current.ConflictsWith, winningInvitationID)
		retracted = true
		return current, nil
	})
	if err != nil {
		return err
	}
	if !retracted {
		return nil
	}

	for _, recipient := range inv.Recipients {
		if inv.HasResponded(recipient) {
			continue
		}
		if err := s.releasePendingInvitation(ctx, recipient, inv.ID); err != nil {
			return err
		}
		if recipient == acceptingUserID {
			continue
		}
		s.dispatch(ctx, notify.Message{
			RecipientUserID: recipient,
			Kind:            notify.KindInvitationAutoDeclined,
			DedupeKey:       notify.KindInvitationAutoDeclined + ":" + inv.ID + ":" + recipient,
			Payload:         invitationPayload(inv),
		})
	}

	if err := s.releaseSenderIfIdle(ctx, inv.FromUser); err != nil {
		return err
	}
	s.dispatch(ctx, notify.Message{
		RecipientUserID: inv.FromUser,
		Kind:            notify.KindInvitationAutoDeclined,
		DedupeKey:       notify.KindInvitationAutoDeclined + ":" + inv.ID + ":" + inv.FromUser,
		Payload:         invitationPayload(inv),
	})
	return nil
}

// terminateSession deactivates the user's active session, if any. A user who
// joins an activity stops broadcasting open availability; the implicit stop
// sends no expiry notification.
func (s *Service) terminateSession(ctx context.Context, userID string) error {
	session, err := s.activeSession(ctx, userID)
	if err != nil || session == nil {
		return err
	}
	_, err = s.store.UpdateSession(ctx, session.ID, func(current domain.AvailabilitySession) (domain.AvailabilitySession, error) {
		current.Active = false
		// Implicit termination on acceptance is expected lifecycle, not
		// expiry; pre-claim so the scheduler stays quiet about it.
		current.NotifiedOfExpiry = true
		return current, nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func appendConflict(conflicts []string, invitationID string) []string {
	for _, existing := range conflicts {
		if existing == invitationID {
			return conflicts
		}
	}
	return append(append([]string(nil), conflicts...), invitationID)
}

func invitationPayload(inv domain.Invitation) map[string]string {
	return map[string]string{
		"invitation_id": inv.ID,
		"from_user":     inv.FromUser,
		"activity":      inv.Activity,
	}
}
