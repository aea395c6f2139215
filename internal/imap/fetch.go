package imap

import (
	"fmt"
	"log"

	"github.com/emersion/go-imap"
)

// headerItems is the minimal fetch set for listing: envelope metadata, flags
// and the UID handle, no body transfer.
var headerItems = []imap.FetchItem{
	imap.FetchEnvelope,
	imap.FetchFlags,
	imap.FetchUid,
}

// FetchHeaders fetches envelope headers for the given UIDs in one round trip.
// If the batch fetch fails, it falls back to fetching one UID at a time so a
// single malformed message cannot abort the whole batch.
func (s *Session) FetchHeaders(uids []uint32) ([]*imap.Message, error) {
	if len(uids) == 0 {
		return []*imap.Message{}, nil
	}

	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	result, err := s.fetch(seqSet, headerItems, len(uids))
	if err == nil {
		return result, nil
	}

	log.Printf("Warning: batch header fetch failed (%v), falling back to per-message fetch", err)
	return s.fetchHeadersOneByOne(uids), nil
}

// fetchHeadersOneByOne is the recovery path for a failed batch fetch.
// Individual failures are logged and skipped.
func (s *Session) fetchHeadersOneByOne(uids []uint32) []*imap.Message {
	result := make([]*imap.Message, 0, len(uids))
	for _, uid := range uids {
		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uid)

		messages, err := s.fetch(seqSet, headerItems, 1)
		if err != nil {
			log.Printf("Warning: header fetch failed for UID %d: %v", uid, err)
			continue
		}
		result = append(result, messages...)
	}
	return result
}

// FetchFull fetches the complete raw message for one UID, including the body
// section needed by the codec.
func (s *Session) FetchFull(uid uint32) (*imap.Message, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages, err := s.fetch(seqSet, items, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message %d: %w", uid, err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("server did not return message %d", uid)
	}

	return messages[0], nil
}

func (s *Session) fetch(seqSet *imap.SeqSet, items []imap.FetchItem, capacity int) ([]*imap.Message, error) {
	messages := make(chan *imap.Message, capacity)
	done := make(chan error, 1)

	go func() {
		done <- s.c.UidFetch(seqSet, items, messages)
	}()

	var result []*imap.Message
	for msg := range messages {
		result = append(result, msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch command failed: %w", err)
	}

	return result, nil
}
