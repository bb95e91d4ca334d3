package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/libresocial/engine/internal/availability/domain"
	"github.com/libresocial/engine/internal/availability/storage"
	"github.com/libresocial/engine/internal/notify"
)

// memStore is an in-memory storage.Store for service tests.
type memStore struct {
	mu          sync.Mutex
	statuses    map[string]domain.UserStatus
	invitations map[string]domain.Invitation
	sessions    map[string]domain.AvailabilitySession
}

var _ storage.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		statuses:    make(map[string]domain.UserStatus),
		invitations: make(map[string]domain.Invitation),
		sessions:    make(map[string]domain.AvailabilitySession),
	}
}

func (m *memStore) GetUserStatus(_ context.Context, userID string) (domain.UserStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.statuses[userID]
	if !ok {
		return domain.UserStatus{}, storage.ErrNotFound
	}
	return record, nil
}

func (m *memStore) PutUserStatus(_ context.Context, record domain.UserStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[record.UserID] = record
	return nil
}

func (m *memStore) UpdateUserStatus(_ context.Context, userID string, mutate func(domain.UserStatus) (domain.UserStatus, error)) (domain.UserStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.statuses[userID]
	if !ok {
		current = domain.NewUserStatus(userID, time.Time{})
	}
	next, err := mutate(current)
	if err != nil {
		return domain.UserStatus{}, err
	}
	m.statuses[userID] = next
	return next, nil
}

func (m *memStore) PutInvitation(_ context.Context, invitation domain.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invitations[invitation.ID] = invitation
	return nil
}

func (m *memStore) GetInvitation(_ context.Context, id string) (domain.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.invitations[id]
	if !ok {
		return domain.Invitation{}, storage.ErrNotFound
	}
	return record, nil
}

func (m *memStore) UpdateInvitation(_ context.Context, id string, mutate func(domain.Invitation) (domain.Invitation, error)) (domain.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.invitations[id]
	if !ok {
		return domain.Invitation{}, storage.ErrNotFound
	}
	next, err := mutate(current)
	if err != nil {
		return domain.Invitation{}, err
	}
	m.invitations[id] = next
	return next, nil
}

func (m *memStore) ListInvitationsByUser(_ context.Context, userID string) ([]domain.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Invitation
	for _, inv := range m.invitations {
		if inv.FromUser == userID || inv.IsRecipient(userID) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memStore) ListPendingInvitationsByUser(_ context.Context, userID string) ([]domain.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Invitation
	for _, inv := range m.invitations {
		if inv.Status != domain.InvitationStatusPending {
			continue
		}
		if inv.FromUser == userID || inv.IsRecipient(userID) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memStore) ListExpiredPendingInvitations(_ context.Context, now time.Time) ([]domain.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Invitation
	for _, inv := range m.invitations {
		if inv.Status == domain.InvitationStatusPending && inv.IsExpired(now) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memStore) PutSession(_ context.Context, session domain.AvailabilitySession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (domain.AvailabilitySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.sessions[id]
	if !ok {
		return domain.AvailabilitySession{}, storage.ErrNotFound
	}
	return record, nil
}

func (m *memStore) UpdateSession(_ context.Context, id string, mutate func(domain.AvailabilitySession) (domain.AvailabilitySession, error)) (domain.AvailabilitySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[id]
	if !ok {
		return domain.AvailabilitySession{}, storage.ErrNotFound
	}
	next, err := mutate(current)
	if err != nil {
		return domain.AvailabilitySession{}, err
	}
	m.sessions[id] = next
	return next, nil
}

func (m *memStore) GetActiveSessionByOwner(_ context.Context, userID string) (domain.AvailabilitySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.UserID == userID && session.Active {
			return session, nil
		}
	}
	return domain.AvailabilitySession{}, storage.ErrNotFound
}

func (m *memStore) ListExpiredActiveSessions(_ context.Context, now time.Time) ([]domain.AvailabilitySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AvailabilitySession
	for _, session := range m.sessions {
		if session.Active && session.IsExpired(now) {
			out = append(out, session)
		}
	}
	return out, nil
}

// testClock is a mutable fake clock shared by a test and the service.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder captures dispatched notifications.
type recorder struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (r *recorder) Dispatch(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count(kind, recipient string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, msg := range r.messages {
		if msg.Kind == kind && (recipient == "" || msg.RecipientUserID == recipient) {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T) (*Service, *memStore, *testClock, *recorder) {
	t.Helper()
	store := newMemStore()
	clock := newTestClock(time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC))
	notifier := &recorder{}

	counter := 0
	svc, err := New(Options{
		Store:    store,
		Notifier: notifier,
		Now:      clock.Now,
		NewID: func() (string, error) {
			counter++
			return fmt.Sprintf("id-%d", counter), nil
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store, clock, notifier
}

func mustStatus(t *testing.T, svc *Service, userID string, want domain.Status) domain.UserStatus {
	t.Helper()
	record, err := svc.GetStatus(context.Background(), userID)
	if err != nil {
		t.Fatalf("get status %s: %v", userID, err)
	}
	if record.Status != want {
		t.Fatalf("user %s status = %s, want %s", userID, domain.StatusLabel(record.Status), domain.StatusLabel(want))
	}
	if record.Status == domain.StatusLibre {
		if record.CurrentEngagementID != "" || len(record.PendingInvitationIDs) != 0 {
			t.Fatalf("libre user %s still references engagement=%q pending=%v", userID, record.CurrentEngagementID, record.PendingInvitationIDs)
		}
	}
	return record
}

func mustSend(t *testing.T, svc *Service, fromUser string, recipients ...string) domain.Invitation {
	t.Helper()
	result, err := svc.SendInvitation(context.Background(), SendInvitationInput{
		FromUser:   fromUser,
		Recipients: recipients,
		Activity:   "coffee",
	})
	if err != nil {
		t.Fatalf("send invitation from %s: %v", fromUser, err)
	}
	return result.Invitation
}
