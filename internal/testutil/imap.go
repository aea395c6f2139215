// Package testutil provides an in-memory IMAP server for exercising the sync
// engine without a network, plus a containerized Postgres for store tests.
package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// MailServer is a test IMAP server backed by the go-imap in-memory backend.
// The backend creates a default user with username "username" and password
// "password" whose INBOX holds one canned message; NewMailServer wipes it so
// tests start from an empty mailbox.
type MailServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	username string
	password string
}

// NewMailServer starts a fresh test server on a random local port. The
// server is shut down automatically when the test finishes.
func NewMailServer(t *testing.T) *MailServer {
	t.Helper()

	be := memory.New()
	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		if err := s.Serve(listener); err != nil {
			t.Logf("IMAP server error: %v", err)
		}
	}()

	// Give the server time to start accepting.
	time.Sleep(100 * time.Millisecond)

	t.Cleanup(func() {
		_ = s.Close()
	})

	ms := &MailServer{
		Server:   s,
		Address:  listener.Addr().String(),
		Backend:  be,
		username: "username",
		password: "password",
	}

	ms.WipeFolder(t, "INBOX")
	return ms
}

// Username returns the default test username.
func (s *MailServer) Username() string {
	return s.username
}

// Password returns the default test password.
func (s *MailServer) Password() string {
	return s.password
}

// Connect creates a logged-in client connection to the test server.
func (s *MailServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	client, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	if err := client.Login(s.username, s.password); err != nil {
		_ = client.Logout()
		t.Fatalf("Failed to login: %v", err)
	}

	return client, func() { _ = client.Logout() }
}

// CreateFolder creates a folder if it does not already exist.
func (s *MailServer) CreateFolder(t *testing.T, name string) {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select(name, false); err != nil {
		if err := client.Create(name); err != nil {
			t.Fatalf("Failed to create folder %s: %v", name, err)
		}
	}
}

// WipeFolder deletes every message in a folder, including the canned message
// the memory backend seeds INBOX with.
func (s *MailServer) WipeFolder(t *testing.T, name string) {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	mbox, err := client.Select(name, false)
	if err != nil {
		t.Fatalf("Failed to select folder %s: %v", name, err)
	}
	if mbox.Messages == 0 {
		return
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(1, mbox.Messages)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := client.Store(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		t.Fatalf("Failed to flag messages deleted: %v", err)
	}
	if err := client.Expunge(nil); err != nil {
		t.Fatalf("Failed to expunge folder %s: %v", name, err)
	}
}

// TestMessage describes a message to add to the test server.
type TestMessage struct {
	Folder    string
	MessageID string
	Subject   string
	From      string
	To        string
	SentAt    time.Time
	Body      string
	// Raw overrides the generated RFC 822 text entirely when set.
	Raw string
	// Seen controls the \Seen flag on append.
	Seen bool
}

// Add appends the message and returns its UID in the folder.
func (s *MailServer) Add(t *testing.T, msg TestMessage) uint32 {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select(msg.Folder, false); err != nil {
		t.Fatalf("Failed to select folder %s: %v", msg.Folder, err)
	}

	raw := msg.Raw
	if raw == "" {
		body := msg.Body
		if body == "" {
			body = "Test message body."
		}
		raw = fmt.Sprintf(`Message-ID: %s
Date: %s
From: %s
To: %s
Subject: %s
Content-Type: text/plain; charset=utf-8

%s
`, msg.MessageID, msg.SentAt.Format(time.RFC1123Z), msg.From, msg.To, msg.Subject, body)
	}

	var flags []string
	if msg.Seen {
		flags = append(flags, imap.SeenFlag)
	}

	if err := client.Append(msg.Folder, flags, msg.SentAt, strings.NewReader(raw)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", msg.MessageID)
	uids, err := client.UidSearch(criteria)
	if err != nil {
		t.Fatalf("Failed to search for message: %v", err)
	}
	if len(uids) == 0 {
		t.Fatalf("Message not found after append")
	}

	return uids[len(uids)-1]
}
