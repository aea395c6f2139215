package imap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/achzod/achzodyt-bilans-coaching/internal/config"
	"github.com/achzod/achzodyt-bilans-coaching/internal/filter"
	"github.com/achzod/achzodyt-bilans-coaching/internal/models"
	"github.com/achzod/achzodyt-bilans-coaching/internal/store"
)

// loadRetries is the number of whole-operation attempts (fresh session each)
// the content loader makes before surfacing ErrLoadFailed.
const loadRetries = 3

// Service is the mailbox sync engine: header synchronization, unanswered
// resolution and lazy content loading against one coach mailbox. It has no
// internal scheduler; every method runs synchronously in the caller.
type Service struct {
	factory     SessionFactory
	store       store.Store
	blocklist   filter.Blocklist
	inboxFolder string
	sentFolders []string
	maxMessages int

	// loadLocks serializes content loads per message id so a loader cannot
	// race with itself; loads for different ids run concurrently on their
	// own sessions.
	loadLocks sync.Map
}

// Options tune a Service beyond the session factory and store.
type Options struct {
	InboxFolder string
	SentFolders []string
	MaxMessages int
	Blocklist   filter.Blocklist
}

// SyncStats summarizes one header sync pass. A pass always completes with
// counts instead of failing on the first bad message.
type SyncStats struct {
	Saved    int
	Filtered int
	Errors   int
}

// NewService creates a sync engine from explicit options.
func NewService(factory SessionFactory, st store.Store, opts Options) *Service {
	if opts.InboxFolder == "" {
		opts.InboxFolder = "INBOX"
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 50
	}

	return &Service{
		factory:     factory,
		store:       st,
		blocklist:   opts.Blocklist,
		inboxFolder: opts.InboxFolder,
		sentFolders: opts.SentFolders,
		maxMessages: opts.MaxMessages,
	}
}

// NewServiceFromConfig wires a Service from application configuration.
func NewServiceFromConfig(cfg *config.Config, st store.Store) *Service {
	factory := SessionFactory{
		Address:  cfg.IMAPAddress(),
		Username: cfg.MailUser,
		Password: cfg.MailPass,
		UseTLS:   cfg.Environment != "test",
	}

	return NewService(factory, st, Options{
		SentFolders: cfg.SentFolders,
		MaxMessages: cfg.SyncMaxMessages,
		Blocklist: filter.Blocklist{
			Senders:  cfg.SpamSenders,
			Subjects: cfg.SpamSubjects,
		},
	})
}

// SyncHeaders discovers inbox messages newer than the window that are not yet
// mirrored, fetching headers only. Re-running the same window is safe:
// already-present message ids are never overwritten.
func (s *Service) SyncHeaders(ctx context.Context, windowDays int, mode SearchMode) (SyncStats, error) {
	sess, err := s.factory.Open()
	if err != nil {
		return SyncStats{}, err
	}
	defer sess.Close()

	if err := sess.SelectFolder(s.inboxFolder); err != nil {
		return SyncStats{}, err
	}

	since := windowStart(windowDays)
	_, stats, err := s.syncInboxHeaders(ctx, sess, since, mode)
	return stats, err
}

// syncInboxHeaders runs the header pass on an already-selected inbox and
// returns the full in-window received set (new and already-known), sorted by
// sent time descending with server arrival order breaking ties.
func (s *Service) syncInboxHeaders(ctx context.Context, sess *Session, since time.Time, mode SearchMode) ([]*models.Message, SyncStats, error) {
	var stats SyncStats

	uids, serverSorted, err := sess.searchSorted(since, mode)
	if err != nil {
		return nil, stats, err
	}
	uids = capUIDs(uids, s.maxMessages, serverSorted)

	imapMsgs, err := sess.FetchHeaders(uids)
	if err != nil {
		return nil, stats, err
	}

	headers := make([]*models.Message, 0, len(imapMsgs))
	for _, imapMsg := range imapMsgs {
		msg, err := ParseHeader(imapMsg, models.DirectionReceived)
		if err != nil {
			log.Printf("Warning: skipping message UID %d: %v", imapMsg.Uid, err)
			stats.Errors++
			continue
		}

		if s.blocklist.IsSpam(msg.FromAddress, msg.Subject) {
			stats.Filtered++
			continue
		}

		msg.IsCheckin = filter.IsPotentialCheckin(msg.Subject)

		inserted, err := s.store.UpsertHeader(ctx, msg)
		if err != nil {
			log.Printf("Warning: failed to mirror message %s: %v", msg.MessageID, err)
			stats.Errors++
			continue
		}
		if inserted {
			stats.Saved++
		}

		headers = append(headers, msg)
	}

	sort.SliceStable(headers, func(i, j int) bool {
		return headers[i].SentAt.After(headers[j].SentAt)
	})

	return headers, stats, nil
}

// LoadFullMessage fetches the full body and attachments of one mirrored
// message on demand, over a fresh session, and backfills the mirror. The
// whole operation is retried on transport failures; a parse failure is a data
// problem and is returned immediately.
func (s *Service) LoadFullMessage(ctx context.Context, messageID string) (*models.Message, error) {
	unlock := s.lockMessage(messageID)
	defer unlock()

	msg, err := s.store.GetByMessageID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if !msg.BodyLoaded {
		body, attachments, err := s.loadWithRetries(messageID, msg.Direction)
		if err != nil {
			return nil, err
		}

		if err := s.store.SetBody(ctx, messageID, body, attachments); err != nil {
			return nil, err
		}

		msg.Body = body
		msg.Attachments = attachments
		msg.BodyLoaded = true

		isCheckin := filter.ScoreCheckin(msg.Subject, body, msg.HasImageAttachment())
		if isCheckin != msg.IsCheckin {
			if err := s.store.SetCheckin(ctx, messageID, isCheckin); err != nil {
				log.Printf("Warning: failed to update check-in flag for %s: %v", messageID, err)
			}
		}

		if msg.LifecycleState == models.StateNew {
			if err := s.store.SetLifecycleState(ctx, messageID, models.StateRead); err != nil {
				log.Printf("Warning: failed to mark %s read: %v", messageID, err)
			}
		}
	}

	return s.store.GetByMessageID(ctx, messageID)
}

func (s *Service) loadWithRetries(messageID string, direction models.Direction) (string, []models.Attachment, error) {
	var lastErr error

	for attempt := 1; attempt <= loadRetries; attempt++ {
		body, attachments, err := s.fetchAndDecode(messageID, direction)
		if err == nil {
			return body, attachments, nil
		}
		if errors.Is(err, ErrDecodeFailure) {
			return "", nil, err
		}

		lastErr = err
		log.Printf("Warning: load attempt %d/%d for %s failed: %v", attempt, loadRetries, messageID, err)
	}

	return "", nil, fmt.Errorf("%w: %s: %v", ErrLoadFailed, messageID, lastErr)
}

// fetchAndDecode opens a fresh session, re-resolves the message's transient
// UID from its durable Message-ID, and decodes the full body. The UID is only
// valid within this session and is never stored.
func (s *Service) fetchAndDecode(messageID string, direction models.Direction) (string, []models.Attachment, error) {
	sess, err := s.factory.Open()
	if err != nil {
		return "", nil, err
	}
	defer sess.Close()

	if err := s.selectForDirection(sess, direction); err != nil {
		return "", nil, err
	}

	uids, err := sess.SearchHeader("Message-ID", messageID, time.Time{})
	if err != nil {
		return "", nil, err
	}
	if len(uids) == 0 {
		return "", nil, fmt.Errorf("message %s not found on server", messageID)
	}

	full, err := sess.FetchFull(uids[len(uids)-1])
	if err != nil {
		return "", nil, err
	}

	return DecodeBody(full)
}

func (s *Service) selectForDirection(sess *Session, direction models.Direction) error {
	if direction == models.DirectionSent {
		_, err := sess.SelectFirst(s.sentFolders)
		return err
	}
	return sess.SelectFolder(s.inboxFolder)
}

// MarkRead sets the remote \Seen flag and transitions the mirror new -> read.
func (s *Service) MarkRead(ctx context.Context, messageID string) error {
	if err := s.storeSeenFlag(messageID, true); err != nil {
		return err
	}

	msg, err := s.store.GetByMessageID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.LifecycleState == models.StateNew {
		return s.store.SetLifecycleState(ctx, messageID, models.StateRead)
	}
	return nil
}

// MarkUnread clears the remote \Seen flag and moves a read message back to
// new. A replied message keeps its state.
func (s *Service) MarkUnread(ctx context.Context, messageID string) error {
	if err := s.storeSeenFlag(messageID, false); err != nil {
		return err
	}

	msg, err := s.store.GetByMessageID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.LifecycleState == models.StateRead {
		return s.store.SetLifecycleState(ctx, messageID, models.StateNew)
	}
	return nil
}

// MarkReplied records that the coach sent a reply. Called back by the
// outbound sender after a successful submission.
func (s *Service) MarkReplied(ctx context.Context, messageID string) error {
	return s.store.SetLifecycleState(ctx, messageID, models.StateReplied)
}

func (s *Service) storeSeenFlag(messageID string, seen bool) error {
	sess, err := s.factory.Open()
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.SelectFolder(s.inboxFolder); err != nil {
		return err
	}

	uids, err := sess.SearchHeader("Message-ID", messageID, time.Time{})
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		return fmt.Errorf("message %s not found on server", messageID)
	}

	if seen {
		return sess.MarkSeen(uids[len(uids)-1])
	}
	return sess.MarkUnseen(uids[len(uids)-1])
}

// ConversationHistory returns the full exchange with one counterparty inside
// the window: received messages from the inbox and sent messages from the
// Sent folder, in chronological order. Results are backfilled into the
// mirror as a side effect.
func (s *Service) ConversationHistory(ctx context.Context, counterparty string, windowDays int) ([]*models.Message, error) {
	sess, err := s.factory.Open()
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	since := windowStart(windowDays)
	var history []*models.Message

	if err := sess.SelectFolder(s.inboxFolder); err != nil {
		return nil, err
	}
	received, err := s.fetchConversationSide(ctx, sess, "From", counterparty, since, models.DirectionReceived)
	if err != nil {
		return nil, err
	}
	history = append(history, received...)

	if _, err := sess.SelectFirst(s.sentFolders); err != nil {
		log.Printf("Warning: no Sent folder available, history limited to received messages: %v", err)
	} else {
		sent, err := s.fetchConversationSide(ctx, sess, "To", counterparty, since, models.DirectionSent)
		if err != nil {
			return nil, err
		}
		history = append(history, sent...)
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].SentAt.Before(history[j].SentAt)
	})

	return history, nil
}

func (s *Service) fetchConversationSide(ctx context.Context, sess *Session, header, counterparty string, since time.Time, direction models.Direction) ([]*models.Message, error) {
	uids, err := sess.SearchHeader(header, counterparty, since)
	if err != nil {
		return nil, err
	}

	var messages []*models.Message
	for _, uid := range uids {
		full, err := sess.FetchFull(uid)
		if err != nil {
			log.Printf("Warning: failed to fetch UID %d: %v", uid, err)
			continue
		}

		msg, err := ParseHeader(full, direction)
		if err != nil {
			log.Printf("Warning: skipping message UID %d: %v", uid, err)
			continue
		}

		body, attachments, err := DecodeBody(full)
		if err != nil {
			// Headers are still worth keeping; the body stays an empty placeholder.
			log.Printf("Warning: failed to decode body of %s: %v", msg.MessageID, err)
		} else {
			msg.Body = body
			msg.Attachments = attachments
			msg.BodyLoaded = true
		}

		if _, err := s.store.UpsertHeader(ctx, msg); err != nil {
			log.Printf("Warning: failed to mirror message %s: %v", msg.MessageID, err)
		} else if msg.BodyLoaded {
			if err := s.store.SetBody(ctx, msg.MessageID, msg.Body, msg.Attachments); err != nil {
				log.Printf("Warning: failed to mirror body of %s: %v", msg.MessageID, err)
			}
		}

		messages = append(messages, msg)
	}

	return messages, nil
}

func (s *Service) lockMessage(messageID string) func() {
	v, _ := s.loadLocks.LoadOrStore(messageID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func windowStart(windowDays int) time.Time {
	return time.Now().AddDate(0, 0, -windowDays)
}

// capUIDs bounds a sync pass to the most recent limit messages. Server-sorted
// results are newest first, plain search results come in ascending UID order
// where the highest UIDs are the most recent arrivals.
func capUIDs(uids []uint32, limit int, newestFirst bool) []uint32 {
	if len(uids) <= limit {
		return uids
	}
	if newestFirst {
		return uids[:limit]
	}
	return uids[len(uids)-limit:]
}
