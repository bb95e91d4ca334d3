// Package storage defines persistence contracts for the notification inbox.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested notification is missing.
var ErrNotFound = errors.New("notification not found")

// NotificationRecord is one persisted inbox entry.
type NotificationRecord struct {
	ID              string
	RecipientUserID string
	Kind            string
	PayloadJSON     string
	DedupeKey       string
	CreatedAt       time.Time
	ReadAt          *time.Time
}

// Store persists per-user inbox entries.
type Store interface {
	PutNotification(ctx context.Context, record NotificationRecord) error
	// GetNotificationByDedupeKey returns the recipient's entry carrying the
	// dedupe key, or ErrNotFound.
	GetNotificationByDedupeKey(ctx context.Context, recipientUserID, dedupeKey string) (NotificationRecord, error)
	// ListNotificationsByRecipient returns the recipient's inbox newest-first,
	// at most limit entries.
	ListNotificationsByRecipient(ctx context.Context, recipientUserID string, limit int) ([]NotificationRecord, error)
	// MarkNotificationRead stamps the entry's read time. Already-read entries
	// keep their original stamp.
	MarkNotificationRead(ctx context.Context, recipientUserID, notificationID string, readAt time.Time) (NotificationRecord, error)
	CountUnreadByRecipient(ctx context.Context, recipientUserID string) (int, error)
}
