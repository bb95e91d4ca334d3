// Package service implements the availability engine's operations on top of
// the durable stores: invitation fan-out and responses, availability
// broadcasts, conflict resolution, expiry, and the read-side status query.
package service

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/libresocial/engine/internal/availability/domain"
	"github.com/libresocial/engine/internal/availability/storage"
	apperrors "github.com/libresocial/engine/internal/errors"
	"github.com/libresocial/engine/internal/notify"
	"github.com/libresocial/engine/internal/platform/id"
)

// StatusEvent describes one user's committed status transition.
type StatusEvent struct {
	UserID       string
	Status       domain.Status
	EngagementID string
	At           time.Time
}

// TimerArmer arms one-shot expiry timers for newly created records. The
// scheduler implements it; a nil armer leaves reclamation to the sweep alone.
type TimerArmer interface {
	ArmInvitation(id string, expiresAt time.Time)
	ArmSession(id string, expiresAt time.Time)
}

// Options configures a Service. Store is required; everything else has a
// working default.
type Options struct {
	Store    storage.Store
	Notifier notify.Dispatcher
	Timers   TimerArmer
	Now      func() time.Time
	NewID    func() (string, error)

	MaxRecipients int
	InvitationTTL time.Duration
	SessionTTL    time.Duration
}

// Service coordinates engagement state, invitations, and availability
// sessions. All mutations go through per-document atomic read-modify-write on
// the store; multi-document operations run as sequential idempotent steps.
type Service struct {
	store    storage.Store
	notifier notify.Dispatcher
	timers   TimerArmer
	now      func() time.Time
	newID    func() (string, error)

	maxRecipients int
	invitationTTL time.Duration
	sessionTTL    time.Duration

	listenerMu sync.Mutex
	listeners  []func(StatusEvent)

	queryMu    sync.Mutex
	queryCache map[queryKey]Availability
}

// New builds a Service from options.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("service: store is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = id.NewID
	}
	if opts.MaxRecipients <= 0 {
		opts.MaxRecipients = domain.DefaultMaxRecipients
	}
	if opts.InvitationTTL <= 0 {
		opts.InvitationTTL = domain.DefaultInvitationTTL
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = domain.DefaultSessionTTL
	}

	svc := &Service{
		store:         opts.Store,
		notifier:      opts.Notifier,
		timers:        opts.Timers,
		now:           opts.Now,
		newID:         opts.NewID,
		maxRecipients: opts.MaxRecipients,
		invitationTTL: opts.InvitationTTL,
		sessionTTL:    opts.SessionTTL,
		queryCache:    make(map[queryKey]Availability),
	}
	svc.OnStatusChanged(svc.invalidateQueryCache)
	return svc, nil
}

// OnStatusChanged registers a listener for committed status transitions.
// Listeners run synchronously after the store write succeeds.
func (s *Service) OnStatusChanged(fn func(StatusEvent)) {
	if fn == nil {
		return
	}
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenerMu.Unlock()
}

func (s *Service) emitStatusChanged(record domain.UserStatus) {
	event := StatusEvent{
		UserID:       record.UserID,
		Status:       record.Status,
		EngagementID: record.CurrentEngagementID,
		At:           record.LastTransitionAt,
	}
	s.listenerMu.Lock()
	listeners := append(([]func(StatusEvent))(nil), s.listeners...)
	s.listenerMu.Unlock()
	for _, fn := range listeners {
		fn(event)
	}
}

// GetStatus returns the user's engagement-state record. Users with no history
// read as the default LIBRE record.
func (s *Service) GetStatus(ctx context.Context, userID string) (domain.UserStatus, error) {
	record, err := s.store.GetUserStatus(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.NewUserStatus(userID, s.now()), nil
	}
	if err != nil {
		return domain.UserStatus{}, err
	}
	return record, nil
}

// transitionStatus applies one validated status change and emits the
// status-changed event on success.
func (s *Service) transitionStatus(ctx context.Context, userID string, to domain.Status, patch domain.StatusPatch) (domain.UserStatus, error) {
	return s.updateStatus(ctx, userID, func(current domain.UserStatus) (domain.UserStatus, error) {
		return domain.Transition(current, to, patch, s.now())
	})
}

// updateStatus runs mutate inside the store's atomic read-modify-write and
// emits the status-changed event when the write commits.
func (s *Service) updateStatus(ctx context.Context, userID string, mutate func(domain.UserStatus) (domain.UserStatus, error)) (domain.UserStatus, error) {
	record, err := s.store.UpdateUserStatus(ctx, userID, mutate)
	if err != nil {
		return domain.UserStatus{}, err
	}
	s.emitStatusChanged(record)
	return record, nil
}

// releasePendingInvitation drops one invitation from a user's pending set,
// returning them to LIBRE when nothing else holds them in INVITATION_RECEIVED.
func (s *Service) releasePendingInvitation(ctx context.Context, userID, invitationID string) error {
	_, err := s.updateStatus(ctx, userID, func(current domain.UserStatus) (domain.UserStatus, error) {
		remaining := 0
		for _, pending := range current.PendingInvitationIDs {
			if pending != invitationID {
				remaining++
			}
		}
		target := current.Status
		if current.Status == domain.StatusInvitationReceived && remaining == 0 {
			target = domain.StatusLibre
		}
		return domain.Transition(current, target, domain.StatusPatch{
			RemovePendingInvitations: []string{invitationID},
		}, s.now())
	})
	return err
}

// releaseSenderIfIdle returns a sender to LIBRE once they have no pending
// outgoing invitations left. Senders engaged elsewhere are left alone.
func (s *Service) releaseSenderIfIdle(ctx context.Context, senderID string) error {
	pending, err := s.store.ListPendingInvitationsByUser(ctx, senderID)
	if err != nil {
		return err
	}
	for _, inv := range pending {
		if inv.FromUser == senderID {
			return nil
		}
	}
	_, err = s.updateStatus(ctx, senderID, func(current domain.UserStatus) (domain.UserStatus, error) {
		if current.Status != domain.StatusInvitationSent {
			return current, nil
		}
		return domain.Transition(current, domain.StatusLibre, domain.StatusPatch{}, s.now())
	})
	return err
}

// releaseSenderFromInvitation undoes the sender's link to a retracted
// invitation: a sender engaged through it returns to LIBRE, and a sender
// still in INVITATION_SENT is released once no outgoing invitation remains.
func (s *Service) releaseSenderFromInvitation(ctx context.Context, invitation domain.Invitation) error {
	_, err := s.updateStatus(ctx, invitation.FromUser, func(current domain.UserStatus) (domain.UserStatus, error) {
		if current.Status == domain.StatusEngaged && current.CurrentEngagementID == invitation.ID {
			return domain.Transition(current, domain.StatusLibre, domain.StatusPatch{}, s.now())
		}
		return current, nil
	})
	if err != nil {
		return err
	}
	return s.releaseSenderIfIdle(ctx, invitation.FromUser)
}

// mapLookupError translates the storage missing-record sentinel into the
// caller-facing NOT_FOUND code, leaving other errors untouched.
func mapLookupError(err error, entity string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.Wrap(apperrors.CodeNotFound, entity+" not found", err)
	}
	return err
}

func sortInvitationsNewestFirst(invitations []domain.Invitation) {
	sort.SliceStable(invitations, func(i, j int) bool {
		return invitations[i].CreatedAt.After(invitations[j].CreatedAt)
	})
}

// dispatch sends one notification, logging failures instead of surfacing them.
func (s *Service) dispatch(ctx context.Context, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Dispatch(ctx, msg); err != nil {
		log.Printf("notification dispatch failed recipient=%s kind=%s err=%v", msg.RecipientUserID, msg.Kind, err)
	}
}
