package domain

import (
	"testing"
	"time"

	apperrors "github.com/libresocial/engine/internal/errors"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequenceIDs(ids ...string) func() (string, error) {
	index := 0
	return func() (string, error) {
		id := ids[index%len(ids)]
		index++
		return id, nil
	}
}

func TestCreateInvitationValidation(t *testing.T) {
	now := fixedClock(time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC))
	cases := []struct {
		name  string
		input CreateInvitationInput
		code  apperrors.Code
	}{
		{
			name:  "missing sender",
			input: CreateInvitationInput{Recipients: []string{"user-b"}},
			code:  apperrors.CodeInvalidArgument,
		},
		{
			name:  "no recipients",
			input: CreateInvitationInput{FromUser: "user-a"},
			code:  apperrors.CodeEmptyRecipients,
		},
		{
			name:  "blank recipients collapse to none",
			input: CreateInvitationInput{FromUser: "user-a", Recipients: []string{"  ", ""}},
			code:  apperrors.CodeEmptyRecipients,
		},
		{
			name:  "self invite",
			input: CreateInvitationInput{FromUser: "user-a", Recipients: []string{"user-b", "user-a"}},
			code:  apperrors.CodeSelfInvite,
		},
		{
			name: "too many recipients",
			input: CreateInvitationInput{
				FromUser:   "user-a",
				Recipients: []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9"},
			},
			code: apperrors.CodeTooManyRecipients,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CreateInvitation(tc.input, now, sequenceIDs("inv-1"))
			if !apperrors.IsCode(err, tc.code) {
				t.Fatalf("expected code %s, got %v", tc.code, err)
			}
		})
	}
}

func TestCreateInvitationDeduplicatesRecipients(t *testing.T) {
	createdAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	inv, err := CreateInvitation(CreateInvitationInput{
		FromUser:   "user-a",
		Recipients: []string{"user-c", "user-b", " user-b ", "user-c"},
		Activity:   "coffee",
		TTL:        10 * time.Minute,
	}, fixedClock(createdAt), sequenceIDs("inv-1"))
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	if len(inv.Recipients) != 2 {
		t.Fatalf("expected 2 deduplicated recipients, got %v", inv.Recipients)
	}
	if inv.Recipients[0] != "user-b" || inv.Recipients[1] != "user-c" {
		t.Fatalf("expected sorted recipients, got %v", inv.Recipients)
	}
	if inv.Status != InvitationStatusPending {
		t.Fatalf("expected pending status, got %s", InvitationStatusLabel(inv.Status))
	}
	if !inv.ExpiresAt.Equal(createdAt.Add(10 * time.Minute)) {
		t.Fatalf("expected expiry at created+10m, got %v", inv.ExpiresAt)
	}
}

func TestCreateInvitationDefaultTTL(t *testing.T) {
	createdAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	inv, err := CreateInvitation(CreateInvitationInput{
		FromUser:   "user-a",
		Recipients: []string{"user-b"},
	}, fixedClock(createdAt), sequenceIDs("inv-1"))
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	if !inv.ExpiresAt.Equal(createdAt.Add(DefaultInvitationTTL)) {
		t.Fatalf("expected default ttl expiry, got %v", inv.ExpiresAt)
	}
}

func TestWithAcceptTracksFullAcceptance(t *testing.T) {
	inv := Invitation{
		ID:         "inv-1",
		FromUser:   "user-a",
		Recipients: []string{"user-b", "user-c"},
		Status:     InvitationStatusPending,
	}

	inv, err := inv.WithAccept("user-b")
	if err != nil {
		t.Fatalf("accept user-b: %v", err)
	}
	if inv.Status != InvitationStatusPending {
		t.Fatalf("expected still pending after partial accept, got %s", InvitationStatusLabel(inv.Status))
	}
	if inv.Resolution() != ResolutionPartiallyAccepted {
		t.Fatalf("expected partially accepted resolution, got %s", inv.Resolution())
	}

	inv, err = inv.WithAccept("user-c")
	if err != nil {
		t.Fatalf("accept user-c: %v", err)
	}
	if inv.Status != InvitationStatusFullyAccepted {
		t.Fatalf("expected fully accepted, got %s", InvitationStatusLabel(inv.Status))
	}
	if inv.Resolution() != ResolutionFullyAccepted {
		t.Fatalf("expected fully accepted resolution, got %s", inv.Resolution())
	}
}

func TestWithDeclineTracksFullDecline(t *testing.T) {
	inv := Invitation{
		ID:         "inv-1",
		FromUser:   "user-a",
		Recipients: []string{"user-b", "user-c"},
		Status:     InvitationStatusPending,
	}

	inv, err := inv.WithDecline("user-b")
	if err != nil {
		t.Fatalf("decline user-b: %v", err)
	}
	if inv.Status != InvitationStatusPending {
		t.Fatalf("expected still pending, got %s", InvitationStatusLabel(inv.Status))
	}
	if inv.Resolution() != ResolutionPending {
		t.Fatalf("expected pending resolution, got %s", inv.Resolution())
	}

	inv, err = inv.WithDecline("user-c")
	if err != nil {
		t.Fatalf("decline user-c: %v", err)
	}
	if inv.Status != InvitationStatusDeclined {
		t.Fatalf("expected declined, got %s", InvitationStatusLabel(inv.Status))
	}
}

func TestMixedResponsesKeepPendingStatusWithDerivedResolution(t *testing.T) {
	inv := Invitation{
		ID:         "inv-1",
		FromUser:   "user-s",
		Recipients: []string{"user-a", "user-b", "user-c"},
		Status:     InvitationStatusPending,
	}

	inv, err := inv.WithAccept("user-a")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	inv, err = inv.WithDecline("user-c")
	if err != nil {
		t.Fatalf("decline: %v", err)
	}

	if inv.Status != InvitationStatusPending {
		t.Fatalf("expected stored status pending, got %s", InvitationStatusLabel(inv.Status))
	}
	if inv.Resolution() != ResolutionPartiallyAccepted {
		t.Fatalf("expected partially accepted resolution, got %s", inv.Resolution())
	}
	remaining := inv.Unresponded()
	if len(remaining) != 1 || remaining[0] != "user-b" {
		t.Fatalf("expected user-b unresponded, got %v", remaining)
	}
}

func TestResponseGuards(t *testing.T) {
	inv := Invitation{
		ID:         "inv-1",
		FromUser:   "user-a",
		Recipients: []string{"user-b"},
		AcceptedBy: []string{"user-b"},
		Status:     InvitationStatusPending,
	}

	if _, err := inv.WithAccept("user-z"); !apperrors.IsCode(err, apperrors.CodeNotARecipient) {
		t.Fatalf("expected not-a-recipient error, got %v", err)
	}
	if _, err := inv.WithAccept("user-b"); !apperrors.IsCode(err, apperrors.CodeAlreadyResponded) {
		t.Fatalf("expected already-responded error, got %v", err)
	}
	if _, err := inv.WithDecline("user-b"); !apperrors.IsCode(err, apperrors.CodeAlreadyResponded) {
		t.Fatalf("expected already-responded error for decline, got %v", err)
	}
}

func TestAcceptedAndDeclinedStayDisjoint(t *testing.T) {
	inv := Invitation{
		ID:         "inv-1",
		FromUser:   "user-a",
		Recipients: []string{"user-b", "user-c"},
		Status:     InvitationStatusPending,
	}
	inv, err := inv.WithAccept("user-b")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	inv, err = inv.WithDecline("user-c")
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	for _, accepted := range inv.AcceptedBy {
		for _, declined := range inv.DeclinedBy {
			if accepted == declined {
				t.Fatalf("user %s appears in both accepted and declined sets", accepted)
			}
		}
	}
}

func TestInvitationStatusLabelRoundTrip(t *testing.T) {
	statuses := []InvitationStatus{
		InvitationStatusPending,
		InvitationStatusFullyAccepted,
		InvitationStatusDeclined,
		InvitationStatusExpired,
		InvitationStatusAutoDeclined,
		InvitationStatusCancelled,
	}
	for _, status := range statuses {
		if got := InvitationStatusFromLabel(InvitationStatusLabel(status)); got != status {
			t.Fatalf("round trip for %s: got %s", InvitationStatusLabel(status), InvitationStatusLabel(got))
		}
	}
}

func TestIsExpired(t *testing.T) {
	deadline := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	inv := Invitation{ExpiresAt: deadline}
	if inv.IsExpired(deadline.Add(-time.Second)) {
		t.Fatal("expected not expired before deadline")
	}
	if !inv.IsExpired(deadline) {
		t.Fatal("expected expired at deadline")
	}
}
