package models

import (
	"strings"
	"time"
)

// Direction indicates whether a message was received from a client or sent by the coach.
type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionSent     Direction = "sent"
)

// LifecycleState is the triage status of a message, tracked independently of
// the IMAP server's own flags.
type LifecycleState string

const (
	StateNew     LifecycleState = "new"
	StateRead    LifecycleState = "read"
	StateReplied LifecycleState = "replied"
)

// Message is a mirrored mailbox message. MessageID (the Message-ID header) is
// the durable key; the IMAP UID is only a short-lived fetch handle and is
// never persisted.
type Message struct {
	MessageID       string         `json:"message_id"`
	FromAddress     string         `json:"from_address"`
	FromDisplayName string         `json:"from_display_name"`
	ToAddress       string         `json:"to_address"`
	Subject         string         `json:"subject"`
	SentAt          time.Time      `json:"sent_at"`
	Direction       Direction      `json:"direction"`
	BodyLoaded      bool           `json:"body_loaded"`
	Body            string         `json:"body"`
	Attachments     []Attachment   `json:"attachments,omitempty"`
	LifecycleState  LifecycleState `json:"lifecycle_state"`
	IsCheckin       bool           `json:"is_checkin"`
}

// Attachment belongs to exactly one message. Created during full-body decode,
// never mutated afterward.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Payload     []byte `json:"-"`
	SizeBytes   int64  `json:"size_bytes"`
	IsImage     bool   `json:"is_image"`
}

// IsImageContentType reports whether a MIME content type is an image subtype.
func IsImageContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "image/")
}

// HasImageAttachment reports whether any attachment is an image.
func (m *Message) HasImageAttachment() bool {
	for _, att := range m.Attachments {
		if att.IsImage {
			return true
		}
	}
	return false
}
