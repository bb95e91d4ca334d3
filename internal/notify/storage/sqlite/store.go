// Package sqlite provides the SQLite-backed notification inbox store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/libresocial/engine/internal/notify/storage"
	"github.com/libresocial/engine/internal/notify/storage/sqlite/migrations"
	"github.com/libresocial/engine/internal/platform/storage/sqlitemigrate"
)

// Store is a SQLite-backed inbox store.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the inbox store at path, creating the schema when needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutNotification persists one inbox entry.
func (s *Store) PutNotification(ctx context.Context, record storage.NotificationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	record.ID = strings.TrimSpace(record.ID)
	record.RecipientUserID = strings.TrimSpace(record.RecipientUserID)
	if record.ID == "" {
		return fmt.Errorf("notification id is required")
	}
	if record.RecipientUserID == "" {
		return fmt.Errorf("recipient user id is required")
	}
	if record.PayloadJSON == "" {
		record.PayloadJSON = "{}"
	}

	var readAt any
	if record.ReadAt != nil {
		readAt = toMillis(*record.ReadAt)
	}
	// INSERT OR IGNORE also absorbs a concurrent dedupe-key race: the second
	// writer silently loses and the inbox keeps a single entry.
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO notifications (id, recipient_user_id, kind, payload_json, dedupe_key, created_at, read_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, record.ID, record.RecipientUserID, record.Kind, record.PayloadJSON, record.DedupeKey, toMillis(record.CreatedAt), readAt)
	if err != nil {
		return fmt.Errorf("put notification: %w", err)
	}
	return nil
}

// GetNotificationByDedupeKey loads one recipient entry by dedupe key.
func (s *Store) GetNotificationByDedupeKey(ctx context.Context, recipientUserID, dedupeKey string) (storage.NotificationRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.NotificationRecord{}, err
	}
	if strings.TrimSpace(dedupeKey) == "" {
		return storage.NotificationRecord{}, storage.ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `
SELECT id, recipient_user_id, kind, payload_json, dedupe_key, created_at, read_at
FROM notifications
WHERE recipient_user_id = ? AND dedupe_key = ?
`, strings.TrimSpace(recipientUserID), strings.TrimSpace(dedupeKey))
	return scanNotification(row.Scan)
}

// ListNotificationsByRecipient returns the recipient's inbox newest-first.
func (s *Store) ListNotificationsByRecipient(ctx context.Context, recipientUserID string, limit int) ([]storage.NotificationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, recipient_user_id, kind, payload_json, dedupe_key, created_at, read_at
FROM notifications
WHERE recipient_user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`, strings.TrimSpace(recipientUserID), limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var records []storage.NotificationRecord
	for rows.Next() {
		record, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return records, nil
}

// MarkNotificationRead stamps one entry's read time exactly once.
func (s *Store) MarkNotificationRead(ctx context.Context, recipientUserID, notificationID string, readAt time.Time) (storage.NotificationRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.NotificationRecord{}, err
	}

	_, err := s.db.ExecContext(ctx, `
UPDATE notifications
SET read_at = ?
WHERE recipient_user_id = ? AND id = ? AND read_at IS NULL
`, toMillis(readAt), strings.TrimSpace(recipientUserID), strings.TrimSpace(notificationID))
	if err != nil {
		return storage.NotificationRecord{}, fmt.Errorf("mark notification read: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
SELECT id, recipient_user_id, kind, payload_json, dedupe_key, created_at, read_at
FROM notifications
WHERE recipient_user_id = ? AND id = ?
`, strings.TrimSpace(recipientUserID), strings.TrimSpace(notificationID))
	return scanNotification(row.Scan)
}

// CountUnreadByRecipient counts the recipient's unread entries.
func (s *Store) CountUnreadByRecipient(ctx context.Context, recipientUserID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM notifications
WHERE recipient_user_id = ? AND read_at IS NULL
`, strings.TrimSpace(recipientUserID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func scanNotification(scan func(...any) error) (storage.NotificationRecord, error) {
	var record storage.NotificationRecord
	var dedupeKey sql.NullString
	var createdAt int64
	var readAt sql.NullInt64
	err := scan(&record.ID, &record.RecipientUserID, &record.Kind, &record.PayloadJSON, &dedupeKey, &createdAt, &readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.NotificationRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.NotificationRecord{}, fmt.Errorf("scan notification: %w", err)
	}
	record.DedupeKey = dedupeKey.String
	record.CreatedAt = fromMillis(createdAt)
	if readAt.Valid {
		stamp := fromMillis(readAt.Int64)
		record.ReadAt = &stamp
	}
	return record, nil
}
