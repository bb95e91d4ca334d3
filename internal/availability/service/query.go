package service

import (
	"context"

	"github.com/libresocial/engine/internal/availability/domain"
	apperrors "github.com/libresocial/engine/internal/errors"
)

// Availability labels returned by Describe.
const (
	LabelAvailable            = "available"
	LabelBusy                 = "busy"
	LabelUnavailable          = "unavailable"
	LabelInvitationPendingYou = "invitation_pending_with_you"
	LabelInvitationFromYou    = "invitation_sent_by_you"
	LabelSharingWithYou       = "sharing_with_you"
	LabelViewingSharedWithYou = "shared_availability_with_you"
)

// Availability is the viewer-specific answer to "can I invite this person
// right now".
type Availability struct {
	Label       string
	IsInvitable bool
	ReasonCode  apperrors.Code
}

type queryKey struct {
	subject string
	viewer  string
}

// Describe composes the stores into one availability answer for the viewer.
//
// Priority order, first match wins: a direct relationship between the pair,
// then the subject being generically busy, then the subject's stored status.
// The relationship answer comes first because it is actionable for the viewer
// where a generic busy label is not.
func (s *Service) Describe(ctx context.Context, subjectID, viewerID string) (Availability, error) {
	key := queryKey{subject: subjectID, viewer: viewerID}
	s.queryMu.Lock()
	cached, ok := s.queryCache[key]
	s.queryMu.Unlock()
	if ok {
		return cached, nil
	}

	answer, err := s.describe(ctx, subjectID, viewerID)
	if err != nil {
		return Availability{}, err
	}

	s.queryMu.Lock()
	s.queryCache[key] = answer
	s.queryMu.Unlock()
	return answer, nil
}

func (s *Service) describe(ctx context.Context, subjectID, viewerID string) (Availability, error) {
	relationship, err := s.relationshipBetween(ctx, subjectID, viewerID)
	if err != nil {
		return Availability{}, err
	}
	if relationship.Linked() {
		return Availability{
			Label:      relationshipLabel(relationship),
			ReasonCode: apperrors.CodeRelationshipConflict,
		}, nil
	}

	busy, err := s.isBusy(ctx, subjectID)
	if err != nil {
		return Availability{}, err
	}
	if busy {
		return Availability{Label: LabelBusy, ReasonCode: apperrors.CodeTargetBusy}, nil
	}

	status, err := s.GetStatus(ctx, subjectID)
	if err != nil {
		return Availability{}, err
	}
	if status.Status == domain.StatusLibre {
		return Availability{Label: LabelAvailable, IsInvitable: true}, nil
	}
	return Availability{Label: LabelUnavailable, ReasonCode: apperrors.CodeTargetBusy}, nil
}

func relationshipLabel(relationship domain.RelationshipSnapshot) string {
	switch relationship.Kind {
	case domain.RelationshipInvitationPending:
		// SubjectIsSender means the subject invited the viewer.
		if relationship.SubjectIsSender {
			return LabelInvitationPendingYou
		}
		return LabelInvitationFromYou
	case domain.RelationshipSessionShared:
		if relationship.SubjectIsSender {
			return LabelSharingWithYou
		}
		return LabelViewingSharedWithYou
	}
	return LabelBusy
}

// invalidateQueryCache drops every cached answer that involves the user whose
// status changed, on either side of the pair.
func (s *Service) invalidateQueryCache(event StatusEvent) {
	s.queryMu.Lock()
	for key := range s.queryCache {
		if key.subject == event.UserID || key.viewer == event.UserID {
			delete(s.queryCache, key)
		}
	}
	s.queryMu.Unlock()
}
