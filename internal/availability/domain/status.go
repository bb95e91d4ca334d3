// Package domain holds the availability engine's entity types and the rules
// that keep them in legal states.
package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/libresocial/engine/internal/errors"
)

// Status represents a user's current engagement state.
type Status int

const (
	// StatusUnspecified represents an invalid engagement state.
	StatusUnspecified Status = iota
	// StatusLibre indicates the user is free and invitable.
	StatusLibre
	// StatusInvitationSent indicates the user has an open outgoing invitation.
	StatusInvitationSent
	// StatusInvitationReceived indicates the user has invitations awaiting a response.
	StatusInvitationReceived
	// StatusEngaged indicates the user is committed to an activity or broadcasting availability.
	StatusEngaged
)

// StatusLabel returns the string label for an engagement status.
func StatusLabel(status Status) string {
	switch status {
	case StatusLibre:
		return "LIBRE"
	case StatusInvitationSent:
		return "INVITATION_SENT"
	case StatusInvitationReceived:
		return "INVITATION_RECEIVED"
	case StatusEngaged:
		return "ENGAGED"
	default:
		return "UNSPECIFIED"
	}
}

// StatusFromLabel converts a status label to a Status value.
func StatusFromLabel(label string) Status {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "LIBRE":
		return StatusLibre
	case "INVITATION_SENT":
		return StatusInvitationSent
	case "INVITATION_RECEIVED":
		return StatusInvitationReceived
	case "ENGAGED":
		return StatusEngaged
	default:
		return StatusUnspecified
	}
}

// UserStatus is the durable per-user engagement-state record.
type UserStatus struct {
	UserID               string
	Status               Status
	CurrentEngagementID  string
	PendingInvitationIDs []string
	LastTransitionAt     time.Time
}

// NewUserStatus returns the default record for a user with no history.
func NewUserStatus(userID string, now time.Time) UserStatus {
	return UserStatus{
		UserID:           strings.TrimSpace(userID),
		Status:           StatusLibre,
		LastTransitionAt: now.UTC(),
	}
}

// HasPendingInvitation reports whether an invitation awaits this user's response.
func (u UserStatus) HasPendingInvitation(invitationID string) bool {
	for _, id := range u.PendingInvitationIDs {
		if id == invitationID {
			return true
		}
	}
	return false
}

// StatusPatch adjusts engagement fields alongside a status transition.
type StatusPatch struct {
	// EngagementID replaces the current engagement id when non-empty.
	EngagementID string
	// ClearEngagement empties the current engagement id.
	ClearEngagement bool
	// AddPendingInvitations adds invitation ids awaiting this user's response.
	AddPendingInvitations []string
	// RemovePendingInvitations drops invitation ids no longer awaiting a response.
	RemovePendingInvitations []string
}

// transitionAllowed is the closed legal-transition table. Pairs not listed are
// rejected; a transition to the identical status is always a no-op success.
var transitionAllowed = map[Status][]Status{
	StatusLibre:              {StatusInvitationSent, StatusInvitationReceived, StatusEngaged},
	StatusInvitationSent:     {StatusLibre, StatusEngaged},
	StatusInvitationReceived: {StatusLibre, StatusEngaged},
	StatusEngaged:            {StatusLibre},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitionAllowed[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition applies a validated status change and patch to a record.
//
// Moving to LIBRE always clears the engagement id and the pending invitation
// set, so the record can never claim to be free while still referencing an
// engagement. Illegal from/to pairs return an INVALID_TRANSITION error.
func Transition(current UserStatus, to Status, patch StatusPatch, now time.Time) (UserStatus, error) {
	if to == StatusUnspecified {
		return UserStatus{}, apperrors.New(apperrors.CodeInvalidTransition, "target status is required")
	}
	if !CanTransition(current.Status, to) {
		return UserStatus{}, apperrors.WithMetadata(
			apperrors.CodeInvalidTransition,
			fmt.Sprintf("cannot transition from %s to %s", StatusLabel(current.Status), StatusLabel(to)),
			map[string]string{
				"from": StatusLabel(current.Status),
				"to":   StatusLabel(to),
			},
		)
	}

	next := current
	next.Status = to
	next.LastTransitionAt = now.UTC()

	if patch.ClearEngagement {
		next.CurrentEngagementID = ""
	}
	if id := strings.TrimSpace(patch.EngagementID); id != "" {
		next.CurrentEngagementID = id
	}
	next.PendingInvitationIDs = patchPending(next.PendingInvitationIDs, patch)

	if to == StatusLibre {
		next.CurrentEngagementID = ""
		next.PendingInvitationIDs = nil
	}
	return next, nil
}

func patchPending(pending []string, patch StatusPatch) []string {
	set := make(map[string]struct{}, len(pending)+len(patch.AddPendingInvitations))
	for _, id := range pending {
		set[id] = struct{}{}
	}
	for _, id := range patch.AddPendingInvitations {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	for _, id := range patch.RemovePendingInvitations {
		delete(set, id)
	}
	if len(set) == 0 {
		return nil
	}
	next := make([]string, 0, len(set))
	for id := range set {
		next = append(next, id)
	}
	sort.Strings(next)
	return next
}
