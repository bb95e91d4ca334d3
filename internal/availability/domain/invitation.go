package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/libresocial/engine/internal/errors"
	"github.com/libresocial/engine/internal/platform/id"
)

// DefaultMaxRecipients bounds invitation fan-out.
const DefaultMaxRecipients = 8

// DefaultInvitationTTL bounds how long an invitation stays open.
const DefaultInvitationTTL = 15 * time.Minute

// InvitationStatus represents the stored lifecycle status of an invitation.
//
// The stored status only covers fully-resolved cases; a mixed
// partially-accepted view is derived through Resolution and never persisted.
type InvitationStatus int

const (
	// InvitationStatusUnspecified represents an invalid invitation status.
	InvitationStatusUnspecified InvitationStatus = iota
	// InvitationStatusPending indicates at least one recipient has not responded.
	InvitationStatusPending
	// InvitationStatusFullyAccepted indicates every recipient accepted.
	InvitationStatusFullyAccepted
	// InvitationStatusDeclined indicates every recipient declined and nobody accepted.
	InvitationStatusDeclined
	// InvitationStatusExpired indicates the deadline passed before resolution.
	InvitationStatusExpired
	// InvitationStatusAutoDeclined indicates a competing acceptance retracted this invitation.
	InvitationStatusAutoDeclined
	// InvitationStatusCancelled indicates the sender withdrew the invitation.
	InvitationStatusCancelled
)

// InvitationStatusLabel returns the string label for an invitation status.
func InvitationStatusLabel(status InvitationStatus) string {
	switch status {
	case InvitationStatusPending:
		return "PENDING"
	case InvitationStatusFullyAccepted:
		return "FULLY_ACCEPTED"
	case InvitationStatusDeclined:
		return "DECLINED"
	case InvitationStatusExpired:
		return "EXPIRED"
	case InvitationStatusAutoDeclined:
		return "AUTO_DECLINED"
	case InvitationStatusCancelled:
		return "CANCELLED"
	default:
		return "UNSPECIFIED"
	}
}

// InvitationStatusFromLabel converts a status label to an InvitationStatus value.
func InvitationStatusFromLabel(label string) InvitationStatus {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "PENDING":
		return InvitationStatusPending
	case "FULLY_ACCEPTED":
		return InvitationStatusFullyAccepted
	case "DECLINED":
		return InvitationStatusDeclined
	case "EXPIRED":
		return InvitationStatusExpired
	case "AUTO_DECLINED":
		return InvitationStatusAutoDeclined
	case "CANCELLED":
		return InvitationStatusCancelled
	default:
		return InvitationStatusUnspecified
	}
}

// Resolution is the derived read-side summary of an invitation, including the
// partially-accepted state that the stored status deliberately does not model.
type Resolution string

const (
	// ResolutionPending means no recipient has accepted yet.
	ResolutionPending Resolution = "pending"
	// ResolutionPartiallyAccepted means some recipients accepted while others
	// are still undecided or declined.
	ResolutionPartiallyAccepted Resolution = "partially_accepted"
	// ResolutionFullyAccepted means every recipient accepted.
	ResolutionFullyAccepted Resolution = "fully_accepted"
	// ResolutionDeclined means every recipient declined.
	ResolutionDeclined Resolution = "declined"
	// ResolutionExpired means the deadline reclaimed the invitation.
	ResolutionExpired Resolution = "expired"
	// ResolutionAutoDeclined means a competing acceptance retracted the invitation.
	ResolutionAutoDeclined Resolution = "auto_declined"
	// ResolutionCancelled means the sender withdrew the invitation.
	ResolutionCancelled Resolution = "cancelled"
)

// Invitation is a durable single- or multi-recipient invitation record.
type Invitation struct {
	ID               string
	FromUser         string
	Recipients       []string
	Activity         string
	Location         json.RawMessage
	CreatedAt        time.Time
	ExpiresAt        time.Time
	Status           InvitationStatus
	AcceptedBy       []string
	DeclinedBy       []string
	ConflictsWith    []string
	CancelledBy      string
	NotifiedOfExpiry bool
}

// CreateInvitationInput describes the metadata needed to create an invitation.
type CreateInvitationInput struct {
	FromUser   string
	Recipients []string
	Activity   string
	Location   json.RawMessage
	TTL        time.Duration
	// MaxRecipients overrides DefaultMaxRecipients when positive.
	MaxRecipients int
}

// CreateInvitation validates fan-out input and builds a pending invitation
// with a generated ID and timestamps. Recipients are trimmed and deduplicated;
// the sender must not appear among them.
func CreateInvitation(input CreateInvitationInput, now func() time.Time, idGenerator func() (string, error)) (Invitation, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	fromUser := strings.TrimSpace(input.FromUser)
	if fromUser == "" {
		return Invitation{}, apperrors.New(apperrors.CodeInvalidArgument, "sender user id is required")
	}

	recipients := dedupeUserIDs(input.Recipients)
	if len(recipients) == 0 {
		return Invitation{}, apperrors.New(apperrors.CodeEmptyRecipients, "at least one recipient is required")
	}
	for _, recipient := range recipients {
		if recipient == fromUser {
			return Invitation{}, apperrors.New(apperrors.CodeSelfInvite, "sender cannot invite themselves")
		}
	}
	maxRecipients := input.MaxRecipients
	if maxRecipients <= 0 {
		maxRecipients = DefaultMaxRecipients
	}
	if len(recipients) > maxRecipients {
		return Invitation{}, apperrors.WithMetadata(
			apperrors.CodeTooManyRecipients,
			fmt.Sprintf("invitation allows at most %d recipients, got %d", maxRecipients, len(recipients)),
			map[string]string{
				"max":   strconv.Itoa(maxRecipients),
				"count": strconv.Itoa(len(recipients)),
			},
		)
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}

	invitationID, err := idGenerator()
	if err != nil {
		return Invitation{}, fmt.Errorf("generate invitation id: %w", err)
	}

	createdAt := now().UTC()
	return Invitation{
		ID:         invitationID,
		FromUser:   fromUser,
		Recipients: recipients,
		Activity:   strings.TrimSpace(input.Activity),
		Location:   input.Location,
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.Add(ttl),
		Status:     InvitationStatusPending,
	}, nil
}

// IsRecipient reports whether the user is addressed by this invitation.
func (inv Invitation) IsRecipient(userID string) bool {
	for _, recipient := range inv.Recipients {
		if recipient == userID {
			return true
		}
	}
	return false
}

// HasResponded reports whether the user already accepted or declined.
func (inv Invitation) HasResponded(userID string) bool {
	for _, accepted := range inv.AcceptedBy {
		if accepted == userID {
			return true
		}
	}
	for _, declined := range inv.DeclinedBy {
		if declined == userID {
			return true
		}
	}
	return false
}

// IsExpired reports whether the invitation deadline has passed.
func (inv Invitation) IsExpired(now time.Time) bool {
	return !inv.ExpiresAt.After(now)
}

// IsTerminal reports whether the invitation can no longer change.
func (inv Invitation) IsTerminal() bool {
	return inv.Status != InvitationStatusPending && inv.Status != InvitationStatusUnspecified
}

// WithAccept records one recipient's acceptance. When every recipient has
// accepted, the stored status becomes FULLY_ACCEPTED.
func (inv Invitation) WithAccept(userID string) (Invitation, error) {
	if err := inv.checkResponder(userID); err != nil {
		return Invitation{}, err
	}
	inv.AcceptedBy = appendUserID(inv.AcceptedBy, userID)
	if len(inv.AcceptedBy) == len(inv.Recipients) {
		inv.Status = InvitationStatusFullyAccepted
	}
	return inv, nil
}

// WithDecline records one recipient's decline. When every recipient declined
// and nobody accepted, the stored status becomes DECLINED.
func (inv Invitation) WithDecline(userID string) (Invitation, error) {
	if err := inv.checkResponder(userID); err != nil {
		return Invitation{}, err
	}
	inv.DeclinedBy = appendUserID(inv.DeclinedBy, userID)
	if len(inv.DeclinedBy) == len(inv.Recipients) {
		inv.Status = InvitationStatusDeclined
	}
	return inv, nil
}

func (inv Invitation) checkResponder(userID string) error {
	if !inv.IsRecipient(userID) {
		return apperrors.New(apperrors.CodeNotARecipient, "user is not a recipient of this invitation")
	}
	if inv.HasResponded(userID) {
		return apperrors.New(apperrors.CodeAlreadyResponded, "user already responded to this invitation")
	}
	return nil
}

// Resolution derives the read-side summary. Stored terminal statuses map
// directly; a pending invitation with at least one acceptance reads as
// partially accepted.
func (inv Invitation) Resolution() Resolution {
	switch inv.Status {
	case InvitationStatusFullyAccepted:
		return ResolutionFullyAccepted
	case InvitationStatusDeclined:
		return ResolutionDeclined
	case InvitationStatusExpired:
		return ResolutionExpired
	case InvitationStatusAutoDeclined:
		return ResolutionAutoDeclined
	case InvitationStatusCancelled:
		return ResolutionCancelled
	}
	if len(inv.AcceptedBy) > 0 {
		return ResolutionPartiallyAccepted
	}
	return ResolutionPending
}

// Unresponded returns the recipients who have neither accepted nor declined.
func (inv Invitation) Unresponded() []string {
	var remaining []string
	for _, recipient := range inv.Recipients {
		if !inv.HasResponded(recipient) {
			remaining = append(remaining, recipient)
		}
	}
	return remaining
}

// NormalizeUserIDs trims, drops blanks, deduplicates, and sorts a user id set.
func NormalizeUserIDs(ids []string) []string {
	return dedupeUserIDs(ids)
}

func dedupeUserIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, raw := range ids {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}

func appendUserID(ids []string, userID string) []string {
	for _, existing := range ids {
		if existing == userID {
			return ids
		}
	}
	next := append(append([]string(nil), ids...), userID)
	sort.Strings(next)
	return next
}
