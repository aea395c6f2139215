package imap

import (
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

const (
	// connectRetries is the number of connection attempts before giving up.
	connectRetries = 3
	// connectBackoff is the pause between connection attempts.
	connectBackoff = 1 * time.Second
	// dialTimeout bounds the TCP/TLS handshake.
	dialTimeout = 15 * time.Second
	// commandTimeout bounds every IMAP command on an open session.
	commandTimeout = 30 * time.Second
)

// SearchMode selects which received messages a search matches.
type SearchMode int

const (
	// ModeAll matches every message in the window.
	ModeAll SearchMode = iota
	// ModeUnseen matches messages without the \Seen flag.
	ModeUnseen
	// ModeUnanswered matches messages without the \Answered flag. The flag is
	// a hint only: other mail clients leave it stale or unset, so the reply
	// index re-derives the same answer independently.
	ModeUnanswered
)

// SessionFactory opens short-lived authenticated IMAP sessions. Sessions are
// never pooled or reused across calls more than a few seconds apart: the
// remote server silently drops idle connections and a no-op ping is not a
// reliable liveness check after a long gap.
type SessionFactory struct {
	Address  string
	Username string
	Password string
	// UseTLS is true in production; tests run against a plain-text server.
	UseTLS bool
}

// Session is one connected, authenticated IMAP session. The protocol is
// stateful per connection and does not support concurrent commands, so a
// Session must not be shared between goroutines.
type Session struct {
	c *client.Client
}

// Open dials and authenticates a brand-new session, retrying up to three
// times with a short fixed backoff. Returns ErrConnectionFailed after the
// last attempt fails.
func (f *SessionFactory) Open() (*Session, error) {
	var lastErr error

	for attempt := 1; attempt <= connectRetries; attempt++ {
		c, err := f.dial()
		if err == nil {
			if err = c.Login(f.Username, f.Password); err == nil {
				c.Timeout = commandTimeout
				return &Session{c: c}, nil
			}
			_ = c.Logout()
			lastErr = fmt.Errorf("failed to authenticate: %w", err)
		} else {
			lastErr = err
		}

		if attempt < connectRetries {
			log.Printf("Warning: IMAP connect attempt %d/%d failed: %v", attempt, connectRetries, lastErr)
			time.Sleep(connectBackoff)
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, lastErr)
}

func (f *SessionFactory) dial() (*client.Client, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}

	if f.UseTLS {
		c, err := client.DialWithDialerTLS(dialer, f.Address, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return c, nil
	}

	c, err := client.DialWithDialer(dialer, f.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return c, nil
}

// SelectFolder selects a folder for subsequent search/fetch commands.
func (s *Session) SelectFolder(name string) error {
	if _, err := s.c.Select(name, false); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFolderUnavailable, name, err)
	}
	return nil
}

// SelectFirst selects the first folder from candidates that exists on the
// server and returns its name. Server variants disagree on Sent folder
// naming, so callers probe a list.
func (s *Session) SelectFirst(candidates []string) (string, error) {
	for _, name := range candidates {
		if _, err := s.c.Select(name, false); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: none of %s", ErrFolderUnavailable, strings.Join(candidates, ", "))
}

// SearchSince returns the UIDs of messages in the selected folder received
// since the given date, narrowed by mode.
func (s *Session) SearchSince(since time.Time, mode SearchMode) ([]uint32, error) {
	uids, err := s.c.UidSearch(s.searchCriteria(since, mode))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	return uids, nil
}

// SearchHeader returns the UIDs of messages whose named header contains the
// given value, optionally bounded by a date.
func (s *Session) SearchHeader(name, value string, since time.Time) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add(name, value)
	if !since.IsZero() {
		criteria.Since = since
	}

	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search by header %s: %w", name, err)
	}
	return uids, nil
}

// MarkSeen sets the \Seen flag on one message.
func (s *Session) MarkSeen(uid uint32) error {
	return s.storeFlag(uid, imap.AddFlags)
}

// MarkUnseen clears the \Seen flag on one message.
func (s *Session) MarkUnseen(uid uint32) error {
	return s.storeFlag(uid, imap.RemoveFlags)
}

func (s *Session) storeFlag(uid uint32, op imap.FlagsOp) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(op, true)
	if err := s.c.UidStore(seqSet, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("failed to store flags: %w", err)
	}
	return nil
}

// Close logs out best-effort. The session is discarded regardless of the
// outcome, so failures are swallowed.
func (s *Session) Close() {
	if err := s.c.Logout(); err != nil {
		log.Printf("Warning: IMAP logout failed: %v", err)
	}
}
