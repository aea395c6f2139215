package imap

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/achzod/achzodyt-bilans-coaching/internal/testutil"
)

func testFactory(s *testutil.MailServer) *SessionFactory {
	return &SessionFactory{
		Address:  s.Address,
		Username: s.Username(),
		Password: s.Password(),
		UseTLS:   false,
	}
}

// flakyProxy forwards TCP connections to target but kills the first
// failures connections immediately, simulating a server that recovers.
func flakyProxy(t *testing.T, target string, failures int32) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	var count int32
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			if atomic.AddInt32(&count, 1) <= failures {
				_ = conn.Close()
				continue
			}
			upstream, err := net.Dial("tcp", target)
			if err != nil {
				_ = conn.Close()
				continue
			}
			go func() { _, _ = io.Copy(upstream, conn); _ = upstream.Close() }()
			go func() { _, _ = io.Copy(conn, upstream); _ = conn.Close() }()
		}
	}()

	return listener.Addr().String()
}

func TestOpen(t *testing.T) {
	t.Run("connects and authenticates", func(t *testing.T) {
		server := testutil.NewMailServer(t)

		sess, err := testFactory(server).Open()
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer sess.Close()
	})

	t.Run("recovers after transient connection failures", func(t *testing.T) {
		server := testutil.NewMailServer(t)
		factory := testFactory(server)
		factory.Address = flakyProxy(t, server.Address, 2)

		sess, err := factory.Open()
		if err != nil {
			t.Fatalf("Expected third attempt to succeed, got: %v", err)
		}
		defer sess.Close()
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		// A freshly closed listener leaves a port nothing accepts on.
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("Failed to listen: %v", err)
		}
		address := listener.Addr().String()
		_ = listener.Close()

		factory := &SessionFactory{Address: address, Username: "u", Password: "p"}
		if _, err := factory.Open(); !errors.Is(err, ErrConnectionFailed) {
			t.Errorf("Expected ErrConnectionFailed, got %v", err)
		}
	})

	t.Run("rejects bad credentials", func(t *testing.T) {
		server := testutil.NewMailServer(t)
		factory := testFactory(server)
		factory.Password = "wrong"

		if _, err := factory.Open(); !errors.Is(err, ErrConnectionFailed) {
			t.Errorf("Expected ErrConnectionFailed, got %v", err)
		}
	})
}

func TestSelectFolder(t *testing.T) {
	server := testutil.NewMailServer(t)
	sess, err := testFactory(server).Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer sess.Close()

	if err := sess.SelectFolder("INBOX"); err != nil {
		t.Errorf("Expected INBOX to select, got: %v", err)
	}

	if err := sess.SelectFolder("NoSuchFolder"); !errors.Is(err, ErrFolderUnavailable) {
		t.Errorf("Expected ErrFolderUnavailable, got %v", err)
	}
}

func TestSelectFirst(t *testing.T) {
	server := testutil.NewMailServer(t)
	server.CreateFolder(t, "Sent")

	sess, err := testFactory(server).Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer sess.Close()

	t.Run("picks the first existing candidate", func(t *testing.T) {
		name, err := sess.SelectFirst([]string{"[Gmail]/Sent Mail", "Sent"})
		if err != nil {
			t.Fatalf("SelectFirst failed: %v", err)
		}
		if name != "Sent" {
			t.Errorf("Expected 'Sent', got %s", name)
		}
	})

	t.Run("fails when no candidate exists", func(t *testing.T) {
		if _, err := sess.SelectFirst([]string{"Nope", "AlsoNope"}); !errors.Is(err, ErrFolderUnavailable) {
			t.Errorf("Expected ErrFolderUnavailable, got %v", err)
		}
	})
}

func TestSearchSince(t *testing.T) {
	server := testutil.NewMailServer(t)
	now := time.Now()

	server.Add(t, testutil.TestMessage{
		Folder:    "INBOX",
		MessageID: "<seen@example.com>",
		Subject:   "Deja lu",
		From:      "jean@example.com",
		To:        "coach@example.com",
		SentAt:    now.Add(-2 * time.Hour),
		Seen:      true,
	})
	server.Add(t, testutil.TestMessage{
		Folder:    "INBOX",
		MessageID: "<fresh@example.com>",
		Subject:   "Nouveau bilan",
		From:      "marie@example.com",
		To:        "coach@example.com",
		SentAt:    now.Add(-1 * time.Hour),
	})

	sess, err := testFactory(server).Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer sess.Close()

	if err := sess.SelectFolder("INBOX"); err != nil {
		t.Fatalf("SelectFolder failed: %v", err)
	}

	since := now.Add(-48 * time.Hour)

	t.Run("all messages in the window", func(t *testing.T) {
		uids, err := sess.SearchSince(since, ModeAll)
		if err != nil {
			t.Fatalf("SearchSince failed: %v", err)
		}
		if len(uids) != 2 {
			t.Errorf("Expected 2 UIDs, got %d", len(uids))
		}
	})

	t.Run("unseen only", func(t *testing.T) {
		uids, err := sess.SearchSince(since, ModeUnseen)
		if err != nil {
			t.Fatalf("SearchSince failed: %v", err)
		}
		if len(uids) != 1 {
			t.Errorf("Expected 1 unseen UID, got %d", len(uids))
		}
	})
}

func TestSearchHeader(t *testing.T) {
	server := testutil.NewMailServer(t)
	uid := server.Add(t, testutil.TestMessage{
		Folder:    "INBOX",
		MessageID: "<findme@example.com>",
		Subject:   "Retrouve-moi",
		From:      "jean@example.com",
		To:        "coach@example.com",
		SentAt:    time.Now(),
	})

	sess, err := testFactory(server).Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer sess.Close()

	if err := sess.SelectFolder("INBOX"); err != nil {
		t.Fatalf("SelectFolder failed: %v", err)
	}

	uids, err := sess.SearchHeader("Message-ID", "<findme@example.com>", time.Time{})
	if err != nil {
		t.Fatalf("SearchHeader failed: %v", err)
	}
	if len(uids) != 1 || uids[0] != uid {
		t.Errorf("Expected [%d], got %v", uid, uids)
	}
}

func TestMarkSeen(t *testing.T) {
	server := testutil.NewMailServer(t)
	now := time.Now()
	uid := server.Add(t, testutil.TestMessage{
		Folder:    "INBOX",
		MessageID: "<flagme@example.com>",
		Subject:   "Flag",
		From:      "jean@example.com",
		To:        "coach@example.com",
		SentAt:    now,
	})

	sess, err := testFactory(server).Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer sess.Close()

	if err := sess.SelectFolder("INBOX"); err != nil {
		t.Fatalf("SelectFolder failed: %v", err)
	}

	since := now.Add(-time.Hour)

	if err := sess.MarkSeen(uid); err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	uids, err := sess.SearchSince(since, ModeUnseen)
	if err != nil {
		t.Fatalf("SearchSince failed: %v", err)
	}
	if len(uids) != 0 {
		t.Errorf("Expected no unseen messages after MarkSeen, got %v", uids)
	}

	if err := sess.MarkUnseen(uid); err != nil {
		t.Fatalf("MarkUnseen failed: %v", err)
	}
	uids, err = sess.SearchSince(since, ModeUnseen)
	if err != nil {
		t.Fatalf("SearchSince failed: %v", err)
	}
	if len(uids) != 1 {
		t.Errorf("Expected 1 unseen message after MarkUnseen, got %v", uids)
	}
}
