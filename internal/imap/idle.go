package imap

import (
	"context"
	"log"
	"time"

	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"
)

const (
	// watchRetrySleep is the backoff after a watch session dies before a new
	// one is opened.
	watchRetrySleep = 10 * time.Second
	// watchPollInterval is the polling fallback for servers without IDLE.
	watchPollInterval = 1 * time.Minute
)

// WatchInbox holds a dedicated listener session on the inbox and invokes
// onChange whenever the mailbox reports new messages, so the caller can
// trigger a sync pass. The listener session is the one exception to the
// short-lived session rule: IDLE exists precisely to keep a connection warm.
// Blocks until the context is cancelled.
func (s *Service) WatchInbox(ctx context.Context, onChange func()) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sess, err := s.factory.Open()
		if err != nil {
			log.Printf("Warning: watch session failed to open: %v", err)
		} else {
			s.runIdleLoop(ctx, sess, onChange)
			sess.Close()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(watchRetrySleep):
		}
	}
}

func (s *Service) runIdleLoop(ctx context.Context, sess *Session, onChange func()) {
	if err := sess.SelectFolder(s.inboxFolder); err != nil {
		log.Printf("Warning: watch could not select %s: %v", s.inboxFolder, err)
		return
	}

	// IDLE keeps the connection open far longer than any single command.
	sess.c.Timeout = 0

	idleClient := idle.NewClient(sess.c)
	updates := make(chan imapclient.Update, 10)
	sess.c.Updates = updates

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idleClient.IdleWithFallback(stop, watchPollInterval)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			<-done
			return
		case err := <-done:
			if err != nil {
				log.Printf("Warning: idle loop ended: %v", err)
			}
			return
		case update := <-updates:
			mboxUpdate, ok := update.(*imapclient.MailboxUpdate)
			if !ok || mboxUpdate.Mailbox == nil || mboxUpdate.Mailbox.Messages == 0 {
				continue
			}
			onChange()
		}
	}
}
