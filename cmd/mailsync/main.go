// mailsync is the operational entry point of the mailbox sync core: the sync
// trigger, inbox triage and lazy loading are invoked from here (or from the
// web layer, which consumes the same service).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/achzod/achzodyt-bilans-coaching/internal/config"
	"github.com/achzod/achzodyt-bilans-coaching/internal/imap"
	"github.com/achzod/achzodyt-bilans-coaching/internal/models"
	"github.com/achzod/achzodyt-bilans-coaching/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := store.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	mirror := store.NewPostgres(pool)
	if err := mirror.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	service := imap.NewServiceFromConfig(cfg, mirror)

	switch os.Args[1] {
	case "sync":
		cmd := flag.NewFlagSet("sync", flag.ExitOnError)
		days := cmd.Int("days", cfg.SyncWindowDays, "lookback window in days")
		unseenOnly := cmd.Bool("unseen", false, "only sync unseen messages")
		_ = cmd.Parse(os.Args[2:])

		mode := imap.ModeAll
		if *unseenOnly {
			mode = imap.ModeUnseen
		}

		stats, err := service.SyncHeaders(ctx, *days, mode)
		if err != nil {
			log.Fatalf("sync: %v", err)
		}
		log.Printf("Sync complete: %d saved, %d filtered, %d errors", stats.Saved, stats.Filtered, stats.Errors)

	case "unanswered":
		cmd := flag.NewFlagSet("unanswered", flag.ExitOnError)
		days := cmd.Int("days", cfg.SyncWindowDays, "lookback window in days")
		_ = cmd.Parse(os.Args[2:])

		messages, err := service.FindUnanswered(ctx, *days)
		if err != nil {
			log.Fatalf("unanswered: %v", err)
		}
		for _, msg := range messages {
			printListing(msg)
		}
		log.Printf("%d messages awaiting a reply", len(messages))

	case "load":
		cmd := flag.NewFlagSet("load", flag.ExitOnError)
		id := cmd.String("id", "", "Message-ID to load")
		_ = cmd.Parse(os.Args[2:])
		if *id == "" {
			log.Fatal("load: --id is required")
		}

		msg, err := service.LoadFullMessage(ctx, *id)
		if err != nil {
			log.Fatalf("load: %v", err)
		}
		fmt.Printf("From: %s\nSubject: %s\nDate: %s\nAttachments: %d\n\n%s\n",
			msg.FromAddress, msg.Subject, msg.SentAt.Format("2006-01-02 15:04"), len(msg.Attachments), msg.Body)

	case "history":
		cmd := flag.NewFlagSet("history", flag.ExitOnError)
		addr := cmd.String("addr", "", "counterparty address")
		days := cmd.Int("days", 90, "lookback window in days")
		_ = cmd.Parse(os.Args[2:])
		if *addr == "" {
			log.Fatal("history: --addr is required")
		}

		messages, err := service.ConversationHistory(ctx, *addr, *days)
		if err != nil {
			log.Fatalf("history: %v", err)
		}
		for _, msg := range messages {
			printListing(msg)
		}

	case "list":
		cmd := flag.NewFlagSet("list", flag.ExitOnError)
		days := cmd.Int("days", cfg.SyncWindowDays, "lookback window in days")
		state := cmd.String("state", "", "filter by state (new, read, replied)")
		checkins := cmd.Bool("checkins", false, "only show check-ins")
		_ = cmd.Parse(os.Args[2:])

		messages, err := mirror.ListSince(ctx, time.Now().AddDate(0, 0, -*days), store.ListFilter{
			Direction:   models.DirectionReceived,
			State:       models.LifecycleState(*state),
			CheckinOnly: *checkins,
		})
		if err != nil {
			log.Fatalf("list: %v", err)
		}
		for _, msg := range messages {
			printListing(msg)
		}

	case "watch":
		log.Printf("Watching inbox for new messages")
		service.WatchInbox(ctx, func() {
			stats, err := service.SyncHeaders(ctx, cfg.SyncWindowDays, imap.ModeAll)
			if err != nil {
				log.Printf("Warning: triggered sync failed: %v", err)
				return
			}
			log.Printf("Triggered sync: %d saved, %d filtered, %d errors", stats.Saved, stats.Filtered, stats.Errors)
		})

	case "help", "-h", "--help":
		usage()

	default:
		usage()
		os.Exit(2)
	}
}

func printListing(msg *models.Message) {
	marker := " "
	if msg.IsCheckin {
		marker = "*"
	}
	fmt.Printf("%s [%s] %-10s %-30s %s (%s)\n",
		marker, msg.SentAt.Format("2006-01-02 15:04"), msg.Direction, msg.FromAddress, msg.Subject, msg.LifecycleState)
}

func usage() {
	log.Println("Usage: mailsync <command> [options]")
	log.Println("Commands:")
	log.Println("  sync        sync inbox headers into the local mirror")
	log.Println("  unanswered  list received messages still awaiting a reply")
	log.Println("  load        load the full body of one message (--id)")
	log.Println("  list        list mirrored messages (--state, --checkins)")
	log.Println("  history     show the full exchange with one client (--addr)")
	log.Println("  watch       watch the inbox and sync on new mail")
}
