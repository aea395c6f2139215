package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/achzod/achzodyt-bilans-coaching/internal/models"
)

// runStoreTests exercises the mirror contract shared by every Store
// implementation.
func runStoreTests(t *testing.T, st Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	newHeader := func(id string, sentAt time.Time) *models.Message {
		return &models.Message{
			MessageID:       id,
			FromAddress:     "jean@example.com",
			FromDisplayName: "Jean Client",
			ToAddress:       "coach@example.com",
			Subject:         "Bilan semaine 3",
			SentAt:          sentAt,
			Direction:       models.DirectionReceived,
			LifecycleState:  models.StateNew,
		}
	}

	t.Run("upsert inserts once", func(t *testing.T) {
		inserted, err := st.UpsertHeader(ctx, newHeader("<dup@example.com>", base))
		if err != nil {
			t.Fatalf("UpsertHeader failed: %v", err)
		}
		if !inserted {
			t.Error("Expected first upsert to insert")
		}

		inserted, err = st.UpsertHeader(ctx, newHeader("<dup@example.com>", base))
		if err != nil {
			t.Fatalf("UpsertHeader failed: %v", err)
		}
		if inserted {
			t.Error("Expected second upsert to be a no-op")
		}
	})

	t.Run("upsert never downgrades a loaded body", func(t *testing.T) {
		if _, err := st.UpsertHeader(ctx, newHeader("<keep@example.com>", base)); err != nil {
			t.Fatalf("UpsertHeader failed: %v", err)
		}
		if err := st.SetBody(ctx, "<keep@example.com>", "Contenu charge.", nil); err != nil {
			t.Fatalf("SetBody failed: %v", err)
		}

		// A later header pass sees the same message again.
		if _, err := st.UpsertHeader(ctx, newHeader("<keep@example.com>", base)); err != nil {
			t.Fatalf("UpsertHeader failed: %v", err)
		}

		msg, err := st.GetByMessageID(ctx, "<keep@example.com>")
		if err != nil {
			t.Fatalf("GetByMessageID failed: %v", err)
		}
		if !msg.BodyLoaded || msg.Body != "Contenu charge." {
			t.Errorf("Expected loaded body to survive re-sync, got %+v", msg)
		}
	})

	t.Run("get unknown message", func(t *testing.T) {
		if _, err := st.GetByMessageID(ctx, "<ghost@example.com>"); !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("Expected ErrMessageNotFound, got %v", err)
		}
	})

	t.Run("set body with attachments", func(t *testing.T) {
		if _, err := st.UpsertHeader(ctx, newHeader("<att@example.com>", base)); err != nil {
			t.Fatalf("UpsertHeader failed: %v", err)
		}

		attachments := []models.Attachment{
			{Filename: "front.jpg", ContentType: "image/jpeg", Payload: []byte{0xFF, 0xD8}, SizeBytes: 2, IsImage: true},
			{Filename: "plan.pdf", ContentType: "application/pdf", Payload: []byte("%PDF"), SizeBytes: 4},
		}
		if err := st.SetBody(ctx, "<att@example.com>", "Photos jointes.", attachments); err != nil {
			t.Fatalf("SetBody failed: %v", err)
		}

		msg, err := st.GetByMessageID(ctx, "<att@example.com>")
		if err != nil {
			t.Fatalf("GetByMessageID failed: %v", err)
		}
		if !msg.BodyLoaded || msg.Body != "Photos jointes." {
			t.Errorf("Unexpected body state: %+v", msg)
		}
		if len(msg.Attachments) != 2 {
			t.Fatalf("Expected 2 attachments, got %d", len(msg.Attachments))
		}
		if msg.Attachments[0].Filename != "front.jpg" || !msg.Attachments[0].IsImage {
			t.Errorf("Unexpected first attachment: %+v", msg.Attachments[0])
		}
		if string(msg.Attachments[1].Payload) != "%PDF" {
			t.Errorf("Expected payload round-trip, got %q", msg.Attachments[1].Payload)
		}

		// A re-load replaces attachments instead of appending.
		if err := st.SetBody(ctx, "<att@example.com>", "Photos jointes.", attachments[:1]); err != nil {
			t.Fatalf("SetBody failed: %v", err)
		}
		msg, err = st.GetByMessageID(ctx, "<att@example.com>")
		if err != nil {
			t.Fatalf("GetByMessageID failed: %v", err)
		}
		if len(msg.Attachments) != 1 {
			t.Errorf("Expected attachments replaced, got %d", len(msg.Attachments))
		}
	})

	t.Run("set body on unknown message", func(t *testing.T) {
		if err := st.SetBody(ctx, "<ghost@example.com>", "x", nil); !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("Expected ErrMessageNotFound, got %v", err)
		}
	})

	t.Run("lifecycle transitions", func(t *testing.T) {
		if _, err := st.UpsertHeader(ctx, newHeader("<life@example.com>", base)); err != nil {
			t.Fatalf("UpsertHeader failed: %v", err)
		}

		for _, state := range []models.LifecycleState{models.StateRead, models.StateReplied, models.StateNew} {
			if err := st.SetLifecycleState(ctx, "<life@example.com>", state); err != nil {
				t.Fatalf("SetLifecycleState(%s) failed: %v", state, err)
			}
			msg, err := st.GetByMessageID(ctx, "<life@example.com>")
			if err != nil {
				t.Fatalf("GetByMessageID failed: %v", err)
			}
			if msg.LifecycleState != state {
				t.Errorf("Expected state %s, got %s", state, msg.LifecycleState)
			}
		}

		if err := st.SetLifecycleState(ctx, "<ghost@example.com>", models.StateRead); !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("Expected ErrMessageNotFound, got %v", err)
		}
	})

	t.Run("check-in flag", func(t *testing.T) {
		if _, err := st.UpsertHeader(ctx, newHeader("<checkin@example.com>", base)); err != nil {
			t.Fatalf("UpsertHeader failed: %v", err)
		}
		if err := st.SetCheckin(ctx, "<checkin@example.com>", true); err != nil {
			t.Fatalf("SetCheckin failed: %v", err)
		}
		msg, err := st.GetByMessageID(ctx, "<checkin@example.com>")
		if err != nil {
			t.Fatalf("GetByMessageID failed: %v", err)
		}
		if !msg.IsCheckin {
			t.Error("Expected IsCheckin true")
		}

		// The full-body score can also clear a header-time guess.
		if err := st.SetCheckin(ctx, "<checkin@example.com>", false); err != nil {
			t.Fatalf("SetCheckin failed: %v", err)
		}
		msg, err = st.GetByMessageID(ctx, "<checkin@example.com>")
		if err != nil {
			t.Fatalf("GetByMessageID failed: %v", err)
		}
		if msg.IsCheckin {
			t.Error("Expected IsCheckin cleared")
		}
	})

	t.Run("list since with filters", func(t *testing.T) {
		old := newHeader("<list-old@example.com>", base.AddDate(0, 0, -30))
		recent := newHeader("<list-recent@example.com>", base.AddDate(0, 0, -1))
		newest := newHeader("<list-newest@example.com>", base)
		newest.IsCheckin = true
		sent := newHeader("<list-sent@example.com>", base.AddDate(0, 0, -2))
		sent.Direction = models.DirectionSent

		for _, msg := range []*models.Message{old, recent, newest, sent} {
			if _, err := st.UpsertHeader(ctx, msg); err != nil {
				t.Fatalf("UpsertHeader failed: %v", err)
			}
		}
		if err := st.SetLifecycleState(ctx, "<list-recent@example.com>", models.StateRead); err != nil {
			t.Fatalf("SetLifecycleState failed: %v", err)
		}

		since := base.AddDate(0, 0, -7)

		listed, err := st.ListSince(ctx, since, ListFilter{Direction: models.DirectionReceived})
		if err != nil {
			t.Fatalf("ListSince failed: %v", err)
		}
		for _, msg := range listed {
			if msg.MessageID == "<list-old@example.com>" {
				t.Error("Expected out-of-window message excluded")
			}
			if msg.MessageID == "<list-sent@example.com>" {
				t.Error("Expected sent message excluded by direction filter")
			}
		}
		// Newest first.
		for i := 1; i < len(listed); i++ {
			if listed[i].SentAt.After(listed[i-1].SentAt) {
				t.Error("Expected newest-first ordering")
			}
		}

		listed, err = st.ListSince(ctx, since, ListFilter{State: models.StateNew, CheckinOnly: true})
		if err != nil {
			t.Fatalf("ListSince failed: %v", err)
		}
		if len(listed) != 1 || listed[0].MessageID != "<list-newest@example.com>" {
			t.Errorf("Expected only the flagged new check-in, got %+v", listed)
		}
	})
}
