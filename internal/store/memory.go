package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/achzod/achzodyt-bilans-coaching/internal/models"
)

// Memory is an in-memory mirror with the same contract as Postgres. Used by
// tests and useful for running the sync engine without a database.
type Memory struct {
	mu       sync.RWMutex
	messages map[string]*models.Message
}

func NewMemory() *Memory {
	return &Memory{messages: make(map[string]*models.Message)}
}

func (m *Memory) UpsertHeader(_ context.Context, msg *models.Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.messages[msg.MessageID]; exists {
		return false, nil
	}

	m.messages[msg.MessageID] = copyMessage(msg)
	return true, nil
}

func (m *Memory) GetByMessageID(_ context.Context, messageID string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, exists := m.messages[messageID]
	if !exists {
		return nil, ErrMessageNotFound
	}
	return copyMessage(msg), nil
}

func (m *Memory) SetBody(_ context.Context, messageID, body string, attachments []models.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, exists := m.messages[messageID]
	if !exists {
		return ErrMessageNotFound
	}

	msg.Body = body
	msg.Attachments = append([]models.Attachment(nil), attachments...)
	msg.BodyLoaded = true
	return nil
}

func (m *Memory) SetLifecycleState(_ context.Context, messageID string, state models.LifecycleState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, exists := m.messages[messageID]
	if !exists {
		return ErrMessageNotFound
	}
	msg.LifecycleState = state
	return nil
}

func (m *Memory) SetCheckin(_ context.Context, messageID string, isCheckin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, exists := m.messages[messageID]
	if !exists {
		return ErrMessageNotFound
	}
	msg.IsCheckin = isCheckin
	return nil
}

func (m *Memory) ListSince(_ context.Context, since time.Time, f ListFilter) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*models.Message
	for _, msg := range m.messages {
		if msg.SentAt.Before(since) {
			continue
		}
		if f.Direction != "" && msg.Direction != f.Direction {
			continue
		}
		if f.State != "" && msg.LifecycleState != f.State {
			continue
		}
		if f.CheckinOnly && !msg.IsCheckin {
			continue
		}
		result = append(result, copyMessage(msg))
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].SentAt.After(result[j].SentAt)
	})

	return result, nil
}

// Count returns the number of mirrored messages. Test helper.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

func copyMessage(msg *models.Message) *models.Message {
	clone := *msg
	clone.Attachments = append([]models.Attachment(nil), msg.Attachments...)
	return &clone
}
