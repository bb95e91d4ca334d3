// Package bbolt provides a BoltDB-backed document store for engine state.
//
// Each entity lives in its own bucket as a JSON document keyed by id. Every
// mutation runs inside one bolt write transaction, which gives the
// per-document atomic read-modify-write the engine's precondition checks rely
// on.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/libresocial/engine/internal/availability/domain"
	"github.com/libresocial/engine/internal/availability/storage"
)

const (
	userStatusBucket = "user_status"
	invitationBucket = "invitation"
	sessionBucket    = "session"
)

// Store provides a BoltDB-backed engine store.
type Store struct {
	db *bbolt.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{userStatusBucket, invitationBucket, sessionBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// GetUserStatus fetches one engagement-state record by user id.
func (s *Store) GetUserStatus(ctx context.Context, userID string) (domain.UserStatus, error) {
	var record domain.UserStatus
	err := s.view(ctx, userStatusBucket, userID, &record)
	if err != nil {
		return domain.UserStatus{}, err
	}
	return record, nil
}

// PutUserStatus persists one engagement-state record.
func (s *Store) PutUserStatus(ctx context.Context, record domain.UserStatus) error {
	return s.put(ctx, userStatusBucket, record.UserID, record)
}

// UpdateUserStatus applies mutate to the user's record inside one write
// transaction. A missing record starts from the default LIBRE state.
func (s *Store) UpdateUserStatus(ctx context.Context, userID string, mutate func(domain.UserStatus) (domain.UserStatus, error)) (domain.UserStatus, error) {
	if err := s.ready(ctx); err != nil {
		return domain.UserStatus{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserStatus{}, fmt.Errorf("user id is required")
	}
	if mutate == nil {
		return domain.UserStatus{}, fmt.Errorf("mutate function is required")
	}

	var updated domain.UserStatus
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(userStatusBucket))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", userStatusBucket)
		}
		current := domain.NewUserStatus(userID, time.Time{})
		if payload := bucket.Get([]byte(userID)); payload != nil {
			if err := json.Unmarshal(payload, &current); err != nil {
				return fmt.Errorf("unmarshal user status: %w", err)
			}
		}
		next, err := mutate(current)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal user status: %w", err)
		}
		updated = next
		return bucket.Put([]byte(userID), payload)
	})
	if err != nil {
		return domain.UserStatus{}, err
	}
	return updated, nil
}

// PutInvitation persists one invitation record.
func (s *Store) PutInvitation(ctx context.Context, invitation domain.Invitation) error {
	return s.put(ctx, invitationBucket, invitation.ID, invitation)
}

// GetInvitation fetches one invitation record by id.
func (s *Store) GetInvitation(ctx context.Context, id string) (domain.Invitation, error) {
	var record domain.Invitation
	if err := s.view(ctx, invitationBucket, id, &record); err != nil {
		return domain.Invitation{}, err
	}
	return record, nil
}

// UpdateInvitation applies mutate to one invitation inside one write transaction.
func (s *Store) UpdateInvitation(ctx context.Context, id string, mutate func(domain.Invitation) (domain.Invitation, error)) (domain.Invitation, error) {
	var updated domain.Invitation
	err := s.update(ctx, invitationBucket, id, func(payload []byte) ([]byte, error) {
		var current domain.Invitation
		if err := json.Unmarshal(payload, &current); err != nil {
			return nil, fmt.Errorf("unmarshal invitation: %w", err)
		}
		next, err := mutate(current)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("marshal invitation: %w", err)
		}
		updated = next
		return out, nil
	})
	if err != nil {
		return domain.Invitation{}, err
	}
	return updated, nil
}

// ListInvitationsByUser returns invitations the user sent or received.
func (s *Store) ListInvitationsByUser(ctx context.Context, userID string) ([]domain.Invitation, error) {
	return s.scanInvitations(ctx, func(inv domain.Invitation) bool {
		return inv.FromUser == userID || inv.IsRecipient(userID)
	})
}

// ListPendingInvitationsByUser returns still-pending invitations the user
// sent or received.
func (s *Store) ListPendingInvitationsByUser(ctx context.Context, userID string) ([]domain.Invitation, error) {
	return s.scanInvitations(ctx, func(inv domain.Invitation) bool {
		if inv.Status != domain.InvitationStatusPending {
			return false
		}
		return inv.FromUser == userID || inv.IsRecipient(userID)
	})
}

// ListExpiredPendingInvitations returns pending invitations past their deadline.
func (s *Store) ListExpiredPendingInvitations(ctx context.Context, now time.Time) ([]domain.Invitation, error) {
	return s.scanInvitations(ctx, func(inv domain.Invitation) bool {
		return inv.Status == domain.InvitationStatusPending && inv.IsExpired(now)
	})
}

// PutSession persists one availability session record.
func (s *Store) PutSession(ctx context.Context, session domain.AvailabilitySession) error {
	return s.put(ctx, sessionBucket, session.ID, session)
}

// GetSession fetches one availability session record by id.
func (s *Store) GetSession(ctx context.Context, id string) (domain.AvailabilitySession, error) {
	var record domain.AvailabilitySession
	if err := s.view(ctx, sessionBucket, id, &record); err != nil {
		return domain.AvailabilitySession{}, err
	}
	return record, nil
}

// UpdateSession applies mutate to one session inside one write transaction.
func (s *Store) UpdateSession(ctx context.Context, id string, mutate func(domain.AvailabilitySession) (domain.AvailabilitySession, error)) (domain.AvailabilitySession, error) {
	var updated domain.AvailabilitySession
	err := s.update(ctx, sessionBucket, id, func(payload []byte) ([]byte, error) {
		var current domain.AvailabilitySession
		if err := json.Unmarshal(payload, &current); err != nil {
			return nil, fmt.Errorf("unmarshal session: %w", err)
		}
		next, err := mutate(current)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("marshal session: %w", err)
		}
		updated = next
		return out, nil
	})
	if err != nil {
		return domain.AvailabilitySession{}, err
	}
	return updated, nil
}

// GetActiveSessionByOwner returns the owner's single active session.
func (s *Store) GetActiveSessionByOwner(ctx context.Context, userID string) (domain.AvailabilitySession, error) {
	sessions, err := s.scanSessions(ctx, func(session domain.AvailabilitySession) bool {
		return session.Active && session.UserID == userID
	})
	if err != nil {
		return domain.AvailabilitySession{}, err
	}
	if len(sessions) == 0 {
		return domain.AvailabilitySession{}, storage.ErrNotFound
	}
	return sessions[0], nil
}

// ListExpiredActiveSessions returns active sessions past their deadline.
func (s *Store) ListExpiredActiveSessions(ctx context.Context, now time.Time) ([]domain.AvailabilitySession, error) {
	return s.scanSessions(ctx, func(session domain.AvailabilitySession) bool {
		return session.Active && session.IsExpired(now)
	})
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func (s *Store) put(ctx context.Context, bucketName, key string, value any) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("record id is required")
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", bucketName, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", bucketName)
		}
		return bucket.Put([]byte(key), payload)
	})
}

func (s *Store) view(ctx context.Context, bucketName, key string, target any) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("record id is required")
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", bucketName)
		}
		payload := bucket.Get([]byte(key))
		if payload == nil {
			return storage.ErrNotFound
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("unmarshal %s record: %w", bucketName, err)
		}
		return nil
	})
}

func (s *Store) update(ctx context.Context, bucketName, key string, apply func([]byte) ([]byte, error)) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("record id is required")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", bucketName)
		}
		payload := bucket.Get([]byte(key))
		if payload == nil {
			return storage.ErrNotFound
		}
		next, err := apply(payload)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), next)
	})
}

func (s *Store) scanInvitations(ctx context.Context, keep func(domain.Invitation) bool) ([]domain.Invitation, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	var out []domain.Invitation
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invitationBucket))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", invitationBucket)
		}
		return bucket.ForEach(func(_, payload []byte) error {
			var inv domain.Invitation
			if err := json.Unmarshal(payload, &inv); err != nil {
				return fmt.Errorf("unmarshal invitation: %w", err)
			}
			if keep(inv) {
				out = append(out, inv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) scanSessions(ctx context.Context, keep func(domain.AvailabilitySession) bool) ([]domain.AvailabilitySession, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	var out []domain.AvailabilitySession
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucket))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", sessionBucket)
		}
		return bucket.ForEach(func(_, payload []byte) error {
			var session domain.AvailabilitySession
			if err := json.Unmarshal(payload, &session); err != nil {
				return fmt.Errorf("unmarshal session: %w", err)
			}
			if keep(session) {
				out = append(out, session)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
