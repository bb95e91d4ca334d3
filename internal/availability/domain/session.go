package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/libresocial/engine/internal/errors"
	"github.com/libresocial/engine/internal/platform/id"
)

// DefaultSessionTTL bounds how long an availability broadcast stays open.
const DefaultSessionTTL = 45 * time.Minute

// AvailabilitySession is a user's open "I am free for X" broadcast,
// independent of any specific invitation. At most one session per user is
// active at any time.
type AvailabilitySession struct {
	ID        string
	UserID    string
	Activity  string
	Location  json.RawMessage
	StartedAt time.Time
	ExpiresAt time.Time
	Active    bool
	// SharedWith lists users this broadcast is directed at. A shared active
	// session links the owner and a listed user as a relationship.
	SharedWith []string
	// NotifiedOfExpiry prevents duplicate expiry notifications when both
	// reclamation paths observe the same transition.
	NotifiedOfExpiry bool
}

// CreateSessionInput describes the metadata needed to open a broadcast.
type CreateSessionInput struct {
	UserID     string
	Activity   string
	Location   json.RawMessage
	SharedWith []string
	TTL        time.Duration
}

// CreateSession validates input and builds an active session with a generated
// ID and a fixed TTL.
func CreateSession(input CreateSessionInput, now func() time.Time, idGenerator func() (string, error)) (AvailabilitySession, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return AvailabilitySession{}, apperrors.New(apperrors.CodeInvalidArgument, "session user id is required")
	}
	sharedWith := dedupeUserIDs(input.SharedWith)
	for _, shared := range sharedWith {
		if shared == userID {
			return AvailabilitySession{}, apperrors.New(apperrors.CodeInvalidArgument, "session cannot be shared with its owner")
		}
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	sessionID, err := idGenerator()
	if err != nil {
		return AvailabilitySession{}, fmt.Errorf("generate session id: %w", err)
	}

	startedAt := now().UTC()
	return AvailabilitySession{
		ID:         sessionID,
		UserID:     userID,
		Activity:   strings.TrimSpace(input.Activity),
		Location:   input.Location,
		StartedAt:  startedAt,
		ExpiresAt:  startedAt.Add(ttl),
		Active:     true,
		SharedWith: sharedWith,
	}, nil
}

// IsExpired reports whether the session deadline has passed.
func (s AvailabilitySession) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// IsSharedWith reports whether the broadcast is directed at the user.
func (s AvailabilitySession) IsSharedWith(userID string) bool {
	for _, shared := range s.SharedWith {
		if shared == userID {
			return true
		}
	}
	return false
}
