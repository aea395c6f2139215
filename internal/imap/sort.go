package imap

import (
	"log"
	"time"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
)

// searchSorted asks the server to sort the window by date, newest first, when
// it advertises the SORT extension; otherwise it falls back to a plain UID
// search whose results the caller sorts after parsing. The second return
// value reports which path produced the UIDs.
func (s *Session) searchSorted(since time.Time, mode SearchMode) ([]uint32, bool, error) {
	sortClient := sortthread.NewSortClient(s.c)

	if ok, err := sortClient.SupportSort(); err == nil && ok {
		sortCriteria := []sortthread.SortCriterion{
			{Field: sortthread.SortDate, Reverse: true},
		}
		uids, err := sortClient.UidSort(sortCriteria, s.searchCriteria(since, mode))
		if err == nil {
			return uids, true, nil
		}
		log.Printf("Warning: UID SORT failed, falling back to plain search: %v", err)
	}

	uids, err := s.SearchSince(since, mode)
	return uids, false, err
}

func (s *Session) searchCriteria(since time.Time, mode SearchMode) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	switch mode {
	case ModeUnseen:
		criteria.WithoutFlags = []string{imap.SeenFlag}
	case ModeUnanswered:
		criteria.WithoutFlags = []string{imap.AnsweredFlag}
	}

	return criteria
}
