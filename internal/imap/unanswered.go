package imap

import (
	"context"
	"log"
	"time"

	"github.com/achzod/achzodyt-bilans-coaching/internal/models"
)

// ReplyIndex maps a counterparty address to the latest time the coach sent
// that counterparty a message. Ephemeral: rebuilt from the Sent folder on
// every resolver pass, never persisted.
type ReplyIndex map[string]time.Time

// Record keeps only the maximum timestamp per counterparty, so an older sent
// message can never downgrade a "replied" classification.
func (idx ReplyIndex) Record(counterparty string, sentAt time.Time) {
	if counterparty == "" {
		return
	}
	if existing, ok := idx[counterparty]; !ok || sentAt.After(existing) {
		idx[counterparty] = sentAt
	}
}

// Answered reports whether a message received from counterparty at receivedAt
// has a reply strictly newer than its receipt time. Correlation is by
// counterparty and timestamp only: thread headers are frequently missing or
// rewritten by mail clients, so they are deliberately ignored.
func (idx ReplyIndex) Answered(counterparty string, receivedAt time.Time) bool {
	lastReply, ok := idx[counterparty]
	return ok && lastReply.After(receivedAt)
}

// FindUnanswered returns the received messages in the window that still need
// a reply, newest first. The server's own \Answered flag is not trusted; the
// answer is derived from the Sent folder. If no Sent folder can be selected
// the resolver degrades to treating every received message as unanswered:
// under-filtering is safe, over-filtering would silently hide clients.
func (s *Service) FindUnanswered(ctx context.Context, windowDays int) ([]*models.Message, error) {
	sess, err := s.factory.Open()
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	since := windowStart(windowDays)
	index := s.buildReplyIndex(sess, since)

	if err := sess.SelectFolder(s.inboxFolder); err != nil {
		return nil, err
	}

	received, _, err := s.syncInboxHeaders(ctx, sess, since, ModeAll)
	if err != nil {
		return nil, err
	}

	unanswered := make([]*models.Message, 0, len(received))
	for _, msg := range received {
		if index.Answered(msg.FromAddress, msg.SentAt) {
			continue
		}
		unanswered = append(unanswered, msg)
	}

	return unanswered, nil
}

// buildReplyIndex scans the Sent folder within the window. Any failure
// returns a partial (possibly empty) index rather than an error, which can
// only make the resolver more conservative.
func (s *Service) buildReplyIndex(sess *Session, since time.Time) ReplyIndex {
	index := make(ReplyIndex)

	folder, err := sess.SelectFirst(s.sentFolders)
	if err != nil {
		log.Printf("Warning: treating all received messages as unanswered: %v", err)
		return index
	}

	uids, err := sess.SearchSince(since, ModeAll)
	if err != nil {
		log.Printf("Warning: search of %s failed, reply index incomplete: %v", folder, err)
		return index
	}

	sentMsgs, err := sess.FetchHeaders(uids)
	if err != nil {
		log.Printf("Warning: header fetch from %s failed, reply index incomplete: %v", folder, err)
		return index
	}

	for _, imapMsg := range sentMsgs {
		msg, err := ParseHeader(imapMsg, models.DirectionSent)
		if err != nil {
			continue
		}
		index.Record(msg.ToAddress, msg.SentAt)
	}

	return index
}
