package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/libresocial/engine/internal/availability/domain"
	apperrors "github.com/libresocial/engine/internal/errors"
	"github.com/libresocial/engine/internal/notify"
)

// Response is a recipient's answer to an invitation.
type Response int

const (
	// ResponseUnspecified represents an invalid response.
	ResponseUnspecified Response = iota
	// ResponseAccept commits the recipient to the invitation.
	ResponseAccept
	// ResponseDecline turns the invitation down.
	ResponseDecline
)

// ResponseFromLabel converts a response label to a Response value.
func ResponseFromLabel(label string) Response {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "accept":
		return ResponseAccept
	case "decline":
		return ResponseDecline
	default:
		return ResponseUnspecified
	}
}

// SendInvitationInput describes one fan-out request.
type SendInvitationInput struct {
	FromUser   string
	Recipients []string
	Activity   string
	Location   json.RawMessage
	// TTL overrides the configured invitation TTL when positive.
	TTL time.Duration
}

// BlockedRecipient reports one recipient excluded by the eligibility check.
type BlockedRecipient struct {
	UserID string
	Reason apperrors.Code
}

// SendInvitationResult reports the created invitation, the recipients it was
// actually addressed to, and the recipients the eligibility check excluded.
type SendInvitationResult struct {
	Invitation domain.Invitation
	Accepted   []string
	Blocked    []BlockedRecipient
}

// SendInvitation validates the fan-out request, filters recipients through the
// per-recipient eligibility check, persists the invitation, and moves the
// sender and each addressed recipient into their invitation states.
func (s *Service) SendInvitation(ctx context.Context, input SendInvitationInput) (SendInvitationResult, error) {
	fromUser := strings.TrimSpace(input.FromUser)
	if fromUser == "" {
		return SendInvitationResult{}, apperrors.New(apperrors.CodeInvalidArgument, "sender user id is required")
	}
	recipients := domain.NormalizeUserIDs(input.Recipients)
	if len(recipients) == 0 {
		return SendInvitationResult{}, apperrors.New(apperrors.CodeEmptyRecipients, "at least one recipient is required")
	}
	for _, recipient := range recipients {
		if recipient == fromUser {
			return SendInvitationResult{}, apperrors.New(apperrors.CodeSelfInvite, "sender cannot invite themselves")
		}
	}
	if len(recipients) > s.maxRecipients {
		return SendInvitationResult{}, apperrors.WithMetadata(
			apperrors.CodeTooManyRecipients,
			"invitation recipient limit exceeded",
			map[string]string{
				"max":   strconv.Itoa(s.maxRecipients),
				"count": strconv.Itoa(len(recipients)),
			},
		)
	}

	senderStatus, err := s.GetStatus(ctx, fromUser)
	if err != nil {
		return SendInvitationResult{}, err
	}
	if senderStatus.Status == domain.StatusEngaged {
		return SendInvitationResult{}, apperrors.New(apperrors.CodeSenderEngaged, "sender is already engaged")
	}

	var eligible []string
	var blocked []BlockedRecipient
	for _, recipient := range recipients {
		decision, err := s.CanInvite(ctx, fromUser, recipient)
		if err != nil {
			return SendInvitationResult{}, err
		}
		if decision.Allowed {
			eligible = append(eligible, recipient)
			continue
		}
		blocked = append(blocked, BlockedRecipient{UserID: recipient, Reason: decision.Reason})
	}
	if len(eligible) == 0 {
		return SendInvitationResult{}, apperrors.WithMetadata(
			apperrors.CodeNoEligibleRecipients,
			"no eligible recipients remain after eligibility checks",
			map[string]string{"blocked": strconv.Itoa(len(blocked))},
		)
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.invitationTTL
	}
	invitation, err := domain.CreateInvitation(domain.CreateInvitationInput{
		FromUser:      fromUser,
		Recipients:    eligible,
		Activity:      input.Activity,
		Location:      input.Location,
		TTL:           ttl,
		MaxRecipients: s.maxRecipients,
	}, s.now, s.newID)
	if err != nil {
		return SendInvitationResult{}, err
	}
	if err := s.store.PutInvitation(ctx, invitation); err != nil {
		return SendInvitationResult{}, err
	}
	if s.timers != nil {
		s.timers.ArmInvitation(invitation.ID, invitation.ExpiresAt)
	}

	if _, err := s.transitionStatus(ctx, fromUser, domain.StatusInvitationSent, domain.StatusPatch{
		EngagementID: invitation.ID,
	}); err != nil {
		return SendInvitationResult{}, err
	}
	for _, recipient := range invitation.Recipients {
		if _, err := s.transitionStatus(ctx, recipient, domain.StatusInvitationReceived, domain.StatusPatch{
			AddPendingInvitations: []string{invitation.ID},
		}); err != nil {
			return SendInvitationResult{}, err
		}
		s.dispatch(ctx, notify.Message{
			RecipientUserID: recipient,
			Kind:            notify.KindInvitationReceived,
			DedupeKey:       notify.KindInvitationReceived + ":" + invitation.ID + ":" + recipient,
			Payload:         invitationPayload(invitation),
		})
	}

	return SendInvitationResult{
		Invitation: invitation,
		Accepted:   invitation.Recipients,
		Blocked:    blocked,
	}, nil
}

// RespondToInvitation records one recipient's accept or decline and performs
// the status bookkeeping each response implies.
//
// The whole operation is a sequence of per-document atomic steps, not one
// transaction; each step is precondition-guarded so re-running after a partial
// failure converges on the same state.
func (s *Service) RespondToInvitation(ctx context.Context, invitationID, userID string, response Response) (domain.Invitation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Invitation{}, apperrors.New(apperrors.CodeInvalidArgument, "responding user id is required")
	}

	invitation, err := s.store.UpdateInvitation(ctx, invitationID, func(current domain.Invitation) (domain.Invitation, error) {
		if current.Status == domain.InvitationStatusExpired || (current.Status == domain.InvitationStatusPending && current.IsExpired(s.now())) {
			return domain.Invitation{}, apperrors.New(apperrors.CodeExpired, "invitation has expired")
		}
		if current.IsTerminal() {
			return domain.Invitation{}, apperrors.WithMetadata(
				apperrors.CodeInvalidTransition,
				"invitation is no longer pending",
				map[string]string{"status": domain.InvitationStatusLabel(current.Status)},
			)
		}
		switch response {
		case ResponseAccept:
			return current.WithAccept(userID)
		case ResponseDecline:
			return current.WithDecline(userID)
		default:
			return domain.Invitation{}, apperrors.New(apperrors.CodeInvalidArgument, "response must be accept or decline")
		}
	})
	if err != nil {
		return domain.Invitation{}, mapLookupError(err, "invitation")
	}

	switch response {
	case ResponseAccept:
		err = s.afterAccept(ctx, invitation, userID)
	case ResponseDecline:
		err = s.afterDecline(ctx, invitation, userID)
	}
	if err != nil {
		return domain.Invitation{}, err
	}
	return invitation, nil
}

// afterAccept moves the accepter and the sender to ENGAGED and retracts the
// accepter's competing offers. Acceptance is the single commit point that
// guarantees at most one active engagement per user.
func (s *Service) afterAccept(ctx context.Context, invitation domain.Invitation, userID string) error {
	if _, err := s.transitionStatus(ctx, userID, domain.StatusEngaged, domain.StatusPatch{
		EngagementID:             invitation.ID,
		RemovePendingInvitations: []string{invitation.ID},
	}); err != nil {
		return err
	}
	if err := s.ResolveForUser(ctx, userID, invitation.ID); err != nil {
		return err
	}
	if _, err := s.transitionStatus(ctx, invitation.FromUser, domain.StatusEngaged, domain.StatusPatch{
		EngagementID: invitation.ID,
	}); err != nil {
		return err
	}
	s.dispatch(ctx, notify.Message{
		RecipientUserID: invitation.FromUser,
		Kind:            notify.KindInvitationAccepted,
		DedupeKey:       notify.KindInvitationAccepted + ":" + invitation.ID + ":" + userID,
		Payload:         responsePayload(invitation, userID),
	})
	return nil
}

// afterDecline releases the decliner's pending entry and, when every recipient
// declined and nobody accepted, returns the sender toward LIBRE.
func (s *Service) afterDecline(ctx context.Context, invitation domain.Invitation, userID string) error {
	if err := s.releasePendingInvitation(ctx, userID, invitation.ID); err != nil {
		return err
	}
	if invitation.Status == domain.InvitationStatusDeclined {
		if err := s.releaseSenderIfIdle(ctx, invitation.FromUser); err != nil {
			return err
		}
	}
	s.dispatch(ctx, notify.Message{
		RecipientUserID: invitation.FromUser,
		Kind:            notify.KindInvitationDeclined,
		DedupeKey:       notify.KindInvitationDeclined + ":" + invitation.ID + ":" + userID,
		Payload:         responsePayload(invitation, userID),
	})
	return nil
}

// CancelInvitation withdraws a still-pending invitation. Only the sender may
// cancel; the effect matches every recipient declining at once.
func (s *Service) CancelInvitation(ctx context.Context, invitationID, byUser string) error {
	byUser = strings.TrimSpace(byUser)
	if byUser == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "cancelling user id is required")
	}

	invitation, err := s.store.UpdateInvitation(ctx, invitationID, func(current domain.Invitation) (domain.Invitation, error) {
		if current.FromUser != byUser {
			return domain.Invitation{}, apperrors.New(apperrors.CodeNotSender, "only the sender may cancel an invitation")
		}
		if current.Status == domain.InvitationStatusExpired || (current.Status == domain.InvitationStatusPending && current.IsExpired(s.now())) {
			return domain.Invitation{}, apperrors.New(apperrors.CodeExpired, "invitation has expired")
		}
		if current.IsTerminal() {
			return domain.Invitation{}, apperrors.WithMetadata(
				apperrors.CodeInvalidTransition,
				"invitation is no longer pending",
				map[string]string{"status": domain.InvitationStatusLabel(current.Status)},
			)
		}
		current.Status = domain.InvitationStatusCancelled
		current.CancelledBy = byUser
		return current, nil
	})
	if err != nil {
		return mapLookupError(err, "invitation")
	}

	for _, recipient := range invitation.Recipients {
		if err := s.releaseRecipientFromInvitation(ctx, recipient, invitation); err != nil {
			return err
		}
		s.dispatch(ctx, notify.Message{
			RecipientUserID: recipient,
			Kind:            notify.KindInvitationCancelled,
			DedupeKey:       notify.KindInvitationCancelled + ":" + invitation.ID + ":" + recipient,
			Payload:         invitationPayload(invitation),
		})
	}

	return s.releaseSenderFromInvitation(ctx, invitation)
}

// releaseRecipientFromInvitation undoes one recipient's link to a retracted
// invitation: accepters engaged through it return to LIBRE, everyone else has
// the pending entry dropped.
func (s *Service) releaseRecipientFromInvitation(ctx context.Context, recipient string, invitation domain.Invitation) error {
	_, err := s.updateStatus(ctx, recipient, func(current domain.UserStatus) (domain.UserStatus, error) {
		if current.Status == domain.StatusEngaged && current.CurrentEngagementID == invitation.ID {
			return domain.Transition(current, domain.StatusLibre, domain.StatusPatch{}, s.now())
		}
		remaining := 0
		for _, pending := range current.PendingInvitationIDs {
			if pending != invitation.ID {
				remaining++
			}
		}
		target := current.Status
		if current.Status == domain.StatusInvitationReceived && remaining == 0 {
			target = domain.StatusLibre
		}
		return domain.Transition(current, target, domain.StatusPatch{
			RemovePendingInvitations: []string{invitation.ID},
		}, s.now())
	})
	return err
}

// GetInvitation returns one invitation record.
func (s *Service) GetInvitation(ctx context.Context, invitationID string) (domain.Invitation, error) {
	invitation, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return domain.Invitation{}, mapLookupError(err, "invitation")
	}
	return invitation, nil
}

// ListInvitations returns the invitations a user sent or received, newest
// first.
func (s *Service) ListInvitations(ctx context.Context, userID string) ([]domain.Invitation, error) {
	invitations, err := s.store.ListInvitationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sortInvitationsNewestFirst(invitations)
	return invitations, nil
}

func responsePayload(invitation domain.Invitation, userID string) map[string]string {
	payload := invitationPayload(invitation)
	payload["responded_by"] = userID
	return payload
}
