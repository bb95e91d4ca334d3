package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/libresocial/engine/internal/notify/storage"
	"github.com/libresocial/engine/internal/platform/id"
)

// Notification is one inbox entry as surfaced to readers.
type Notification struct {
	ID        string
	Kind      string
	Payload   map[string]string
	CreatedAt time.Time
	ReadAt    *time.Time
}

// InboxOptions configures an Inbox. Store is required.
type InboxOptions struct {
	Store storage.Store
	Now   func() time.Time
	NewID func() (string, error)
}

// Inbox is the persisted Dispatcher: every dispatched message lands in the
// recipient's inbox, with dedupe keys collapsing repeated dispatch of the same
// logical event to one entry.
type Inbox struct {
	store storage.Store
	now   func() time.Time
	newID func() (string, error)
}

var _ Dispatcher = (*Inbox)(nil)

// NewInbox builds an Inbox from options.
func NewInbox(opts InboxOptions) (*Inbox, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("inbox: store is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = id.NewID
	}
	return &Inbox{store: opts.Store, now: opts.Now, newID: opts.NewID}, nil
}

// Dispatch persists the message as an inbox entry. A message whose dedupe key
// already exists for the recipient is dropped silently.
func (i *Inbox) Dispatch(ctx context.Context, msg Message) error {
	recipient := strings.TrimSpace(msg.RecipientUserID)
	if recipient == "" {
		return fmt.Errorf("inbox: recipient user id is required")
	}
	if strings.TrimSpace(msg.Kind) == "" {
		return fmt.Errorf("inbox: message kind is required")
	}

	if msg.DedupeKey != "" {
		_, err := i.store.GetNotificationByDedupeKey(ctx, recipient, msg.DedupeKey)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("inbox: check dedupe key: %w", err)
		}
	}

	payload := "{}"
	if len(msg.Payload) > 0 {
		encoded, err := json.Marshal(msg.Payload)
		if err != nil {
			return fmt.Errorf("inbox: encode payload: %w", err)
		}
		payload = string(encoded)
	}

	notificationID, err := i.newID()
	if err != nil {
		return fmt.Errorf("inbox: generate id: %w", err)
	}
	return i.store.PutNotification(ctx, storage.NotificationRecord{
		ID:              notificationID,
		RecipientUserID: recipient,
		Kind:            msg.Kind,
		PayloadJSON:     payload,
		DedupeKey:       msg.DedupeKey,
		CreatedAt:       i.now().UTC(),
	})
}

// List returns the user's inbox newest-first, at most limit entries.
func (i *Inbox) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	records, err := i.store.ListNotificationsByRecipient(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	notifications := make([]Notification, 0, len(records))
	for _, record := range records {
		notifications = append(notifications, toNotification(record))
	}
	return notifications, nil
}

// MarkRead stamps one entry as read. Marking an already-read entry keeps the
// original stamp.
func (i *Inbox) MarkRead(ctx context.Context, userID, notificationID string) (Notification, error) {
	record, err := i.store.MarkNotificationRead(ctx, userID, notificationID, i.now().UTC())
	if err != nil {
		return Notification{}, err
	}
	return toNotification(record), nil
}

// CountUnread counts the user's unread entries.
func (i *Inbox) CountUnread(ctx context.Context, userID string) (int, error) {
	return i.store.CountUnreadByRecipient(ctx, userID)
}

func toNotification(record storage.NotificationRecord) Notification {
	notification := Notification{
		ID:        record.ID,
		Kind:      record.Kind,
		CreatedAt: record.CreatedAt,
		ReadAt:    record.ReadAt,
	}
	if record.PayloadJSON != "" {
		// A payload that fails to decode still surfaces the entry itself.
		_ = json.Unmarshal([]byte(record.PayloadJSON), &notification.Payload)
	}
	return notification
}
