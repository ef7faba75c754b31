package ledger

import (
	"context"
	"fmt"

	"github.com/clinicore/caretrace/internal/domain"
)

// defaultPageSize bounds one repository round trip per iterator fill.
const defaultPageSize = 200

// Query returns a lazy, finite, restartable iterator over matching entries in
// sequence order. Entries are fetched page by page; Reset rewinds to the
// filter's starting cursor.
func (s *Service) Query(f domain.AuditFilter) *Iterator {
	pageSize := f.Limit
	if pageSize <= 0 || pageSize > defaultPageSize {
		pageSize = defaultPageSize
	}
	return &Iterator{
		repo:     s.repo,
		filter:   f,
		pageSize: pageSize,
		cursor:   f.AfterSequence,
	}
}

// Iterator walks a ledger query one entry at a time, in the style of
// bufio.Scanner: Next advances, Entry returns the current entry, Err reports
// a terminal failure.
type Iterator struct {
	repo     domain.AuditRepository
	filter   domain.AuditFilter
	pageSize int

	cursor  int64 // last sequence handed out
	buf     []*domain.AuditEntry
	idx     int
	done    bool
	current *domain.AuditEntry
	err     error
}

// Next advances to the next entry, fetching the next page when the buffer is
// exhausted. Returns false at the end of the result set or on error.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.err != nil || it.done && it.idx >= len(it.buf) {
		return false
	}

	if it.idx >= len(it.buf) {
		if !it.fill(ctx) {
			return false
		}
	}

	it.current = it.buf[it.idx]
	it.cursor = it.current.Sequence
	it.idx++
	return true
}

func (it *Iterator) fill(ctx context.Context) bool {
	f := it.filter
	f.AfterSequence = it.cursor
	f.Limit = it.pageSize

	page, err := it.repo.List(ctx, f)
	if err != nil {
		it.err = fmt.Errorf("ledger.Iterator: %w", err)
		return false
	}

	it.buf = page
	it.idx = 0
	if len(page) < it.pageSize {
		it.done = true
	}
	return len(page) > 0
}

// Entry returns the entry produced by the last successful Next.
func (it *Iterator) Entry() *domain.AuditEntry { return it.current }

// Err returns the first error encountered, nil on clean exhaustion.
func (it *Iterator) Err() error { return it.err }

// Reset rewinds the iterator to the filter's original cursor so the sequence
// can be replayed.
func (it *Iterator) Reset() {
	it.cursor = it.filter.AfterSequence
	it.buf = nil
	it.idx = 0
	it.done = false
	it.current = nil
	it.err = nil
}
