package model

import (
	"time"

	"github.com/google/uuid"
)

// Cursor is a keyset pagination position. Ordering is (updated_at, id)
// descending; the id component breaks ties between rows sharing the same
// update timestamp so no row is skipped or re-delivered across pages.
type Cursor struct {
	UpdatedAt time.Time `json:"updated_at"`
	ID        uuid.UUID `json:"id"`
}

// Page is one cursor-delimited slice of tracked candidates. A nil
// NextCursor means pagination is exhausted.
type Page struct {
	Items      []TrackedCandidate `json:"items"`
	NextCursor *Cursor            `json:"next_cursor,omitempty"`
}

// Clone returns a deep copy of the page.
func (p Page) Clone() Page {
	out := Page{}
	if p.NextCursor != nil {
		c := *p.NextCursor
		out.NextCursor = &c
	}
	if p.Items != nil {
		out.Items = make([]TrackedCandidate, len(p.Items))
		for i, it := range p.Items {
			out.Items[i] = it.Clone()
		}
	}
	return out
}

// NextCursorFor derives the continuation cursor for a fetched page: the
// (updated_at, id) of the last row when the page is full, nil when the page
// came back short and pagination is exhausted.
func NextCursorFor(items []TrackedCandidate) *Cursor {
	if len(items) < PageSize {
		return nil
	}
	last := items[len(items)-1]
	return &Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
}

// Snapshot is the capped per-user serialization of the most recently
// fetched first page. It is advisory only and always superseded by a live
// fetch.
type Snapshot struct {
	UserID    uuid.UUID          `json:"user_id"`
	WrittenAt time.Time          `json:"written_at"`
	Items     []TrackedCandidate `json:"items"`
}
