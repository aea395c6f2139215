// Package store is the local mirror of the remote mailbox: the durable copy
// of message headers, lazily loaded bodies and attachments, and per-message
// lifecycle state. It is the only component the rest of the system queries
// directly.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/achzod/achzodyt-bilans-coaching/internal/models"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

// ListFilter narrows ListSince results. The zero value matches everything.
type ListFilter struct {
	Direction   models.Direction
	State       models.LifecycleState
	CheckinOnly bool
}

// Store is the persistence contract the sync engine writes through. Keyed by
// Message-ID with insert-if-absent upsert semantics: no multi-message
// transaction ever spans rows, so per-row atomicity is all that is required.
type Store interface {
	// UpsertHeader inserts a header row if no message with the same
	// Message-ID exists. Re-syncing an already-present id is a no-op and
	// reports inserted=false, which protects lazily loaded bodies from being
	// reset by later header passes.
	UpsertHeader(ctx context.Context, msg *models.Message) (inserted bool, err error)

	// GetByMessageID returns the full mirrored message including attachment
	// payloads, or ErrMessageNotFound.
	GetByMessageID(ctx context.Context, messageID string) (*models.Message, error)

	// SetBody stores the decoded body and attachments and flips body_loaded
	// in the same atomic write: a reader never observes body_loaded=true with
	// a half-applied update.
	SetBody(ctx context.Context, messageID, body string, attachments []models.Attachment) error

	// SetLifecycleState moves a message through new -> read -> replied.
	SetLifecycleState(ctx context.Context, messageID string, state models.LifecycleState) error

	// SetCheckin records the check-in classification once the full scoring
	// rule has run against a loaded body.
	SetCheckin(ctx context.Context, messageID string, isCheckin bool) error

	// ListSince returns mirrored messages sent at or after the given time,
	// newest first, without attachment payloads.
	ListSince(ctx context.Context, since time.Time, f ListFilter) ([]*models.Message, error)
}
