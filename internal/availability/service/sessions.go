package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/libresocial/engine/internal/availability/domain"
	apperrors "github.com/libresocial/engine/internal/errors"
)

// StartAvailabilityInput describes one "go available" request.
type StartAvailabilityInput struct {
	UserID     string
	Activity   string
	Location   json.RawMessage
	SharedWith []string
	// TTL overrides the configured session TTL when positive.
	TTL time.Duration
}

// StartAvailability opens an availability broadcast for the user. The user
// must be LIBRE and must not already have an active session; the session
// becomes their current engagement.
func (s *Service) StartAvailability(ctx context.Context, input StartAvailabilityInput) (domain.AvailabilitySession, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return domain.AvailabilitySession{}, apperrors.New(apperrors.CodeInvalidArgument, "session user id is required")
	}

	existing, err := s.activeSession(ctx, userID)
	if err != nil {
		return domain.AvailabilitySession{}, err
	}
	if existing != nil {
		return domain.AvailabilitySession{}, apperrors.WithMetadata(
			apperrors.CodeSessionAlreadyActive,
			"user already has an active availability session",
			map[string]string{"session_id": existing.ID},
		)
	}

	status, err := s.GetStatus(ctx, userID)
	if err != nil {
		return domain.AvailabilitySession{}, err
	}
	if status.Status != domain.StatusLibre {
		return domain.AvailabilitySession{}, apperrors.WithMetadata(
			apperrors.CodeInvalidTransition,
			"availability can only be broadcast while libre",
			map[string]string{"status": domain.StatusLabel(status.Status)},
		)
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.sessionTTL
	}
	session, err := domain.CreateSession(domain.CreateSessionInput{
		UserID:     userID,
		Activity:   input.Activity,
		Location:   input.Location,
		SharedWith: input.SharedWith,
		TTL:        ttl,
	}, s.now, s.newID)
	if err != nil {
		return domain.AvailabilitySession{}, err
	}
	if err := s.store.PutSession(ctx, session); err != nil {
		return domain.AvailabilitySession{}, err
	}
	if s.timers != nil {
		s.timers.ArmSession(session.ID, session.ExpiresAt)
	}

	if _, err := s.transitionStatus(ctx, userID, domain.StatusEngaged, domain.StatusPatch{
		EngagementID: session.ID,
	}); err != nil {
		return domain.AvailabilitySession{}, err
	}
	return session, nil
}

// StopAvailability closes an active broadcast. Only the owner may stop it;
// the owner returns to LIBRE when the session was their engagement.
func (s *Service) StopAvailability(ctx context.Context, sessionID, byUser string) error {
	byUser = strings.TrimSpace(byUser)
	if byUser == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "stopping user id is required")
	}

	session, err := s.store.UpdateSession(ctx, sessionID, func(current domain.AvailabilitySession) (domain.AvailabilitySession, error) {
		if current.UserID != byUser {
			return domain.AvailabilitySession{}, apperrors.New(apperrors.CodeNotSender, "only the owner may stop a session")
		}
		if !current.Active {
			return domain.AvailabilitySession{}, apperrors.New(apperrors.CodeInvalidTransition, "session is not active")
		}
		current.Active = false
		// An explicit stop is not an expiry; pre-claiming keeps the
		// scheduler from notifying about a session the owner closed.
		current.NotifiedOfExpiry = true
		return current, nil
	})
	if err != nil {
		return mapLookupError(err, "session")
	}

	return s.releaseSessionOwner(ctx, session)
}

// GetAvailability returns the user's active session.
func (s *Service) GetAvailability(ctx context.Context, userID string) (domain.AvailabilitySession, error) {
	session, err := s.store.GetActiveSessionByOwner(ctx, userID)
	if err != nil {
		return domain.AvailabilitySession{}, mapLookupError(err, "session")
	}
	return session, nil
}

// releaseSessionOwner returns the owner to LIBRE when the closed session was
// their current engagement.
func (s *Service) releaseSessionOwner(ctx context.Context, session domain.AvailabilitySession) error {
	_, err := s.updateStatus(ctx, session.UserID, func(current domain.UserStatus) (domain.UserStatus, error) {
		if current.Status != domain.StatusEngaged || current.CurrentEngagementID != session.ID {
			return current, nil
		}
		return domain.Transition(current, domain.StatusLibre, domain.StatusPatch{}, s.now())
	})
	return err
}
