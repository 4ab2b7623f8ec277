// Package cache holds the synchronizer's client-side state: the in-memory
// paginated query cache that every read and optimistic write targets, the
// durable local snapshot used for first paint, and the derived grouping of
// candidates into board buckets.
package cache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hirewire/pipeline-server/internal/model"
)

// Key addresses one paginated cache entry: the recruiter plus the active
// free-text query (empty for the default listing).
type Key struct {
	RecruiterID uuid.UUID
	Search      string
}

type entry struct {
	pages      []model.Page
	generation uint64
	stale      bool
}

// EntrySnapshot is a deep copy of one cache entry, taken before an
// optimistic mutation so the pre-mutation state can be restored on failure.
type EntrySnapshot struct {
	key   Key
	pages []model.Page
	stale bool
}

// QueryCache is the single shared mutable structure of the synchronizer.
// Mutations, realtime patches and reads all serialize through its lock.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[Key]*entry
}

// NewQueryCache returns an empty cache.
func NewQueryCache() *QueryCache {
	return &QueryCache{entries: make(map[Key]*entry)}
}

func (c *QueryCache) get(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

// SetFirstPage replaces the entry's pages with the given first page. A
// stale page (snapshot paint) keeps the entry marked for refetch.
func (c *QueryCache) SetFirstPage(key Key, page model.Page, stale bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.get(key)
	e.pages = []model.Page{page}
	e.stale = stale
	e.generation++
}

// AppendPage adds one fetched page to the end of the entry, provided the
// entry is still at generation gen. A page fetched against a view that
// changed while the fetch was in flight continues from a cursor that no
// longer matches the loaded pages, so it is discarded and false returned;
// the caller re-reads the cursor and fetches again.
func (c *QueryCache) AppendPage(key Key, page model.Page, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.get(key)
	if e.generation != gen {
		return false
	}
	e.pages = append(e.pages, page)
	e.generation++
	return true
}

// Flatten returns the loaded pages as one ordered candidate sequence. The
// result is a copy and safe to retain across cache writes.
func (c *QueryCache) Flatten(key Key) []model.TrackedCandidate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	var out []model.TrackedCandidate
	for _, p := range e.pages {
		for _, it := range p.Items {
			out = append(out, it.Clone())
		}
	}
	return out
}

// PageCount returns the number of loaded pages.
func (c *QueryCache) PageCount(key Key) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[key]; ok {
		return len(e.pages)
	}
	return 0
}

// NextCursor returns the continuation cursor of the last loaded page, or
// nil when no pages are loaded or pagination is exhausted.
func (c *QueryCache) NextCursor(key Key) *model.Cursor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || len(e.pages) == 0 {
		return nil
	}
	last := e.pages[len(e.pages)-1].NextCursor
	if last == nil {
		return nil
	}
	cur := *last
	return &cur
}

// PatchItem applies fn to the tracking row with the given id, in place,
// inside whichever page contains it. Returns false when the row is not
// loaded.
func (c *QueryCache) PatchItem(key Key, id uuid.UUID, fn func(*model.TrackedCandidate)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	for pi := range e.pages {
		items := e.pages[pi].Items
		for ii := range items {
			if items[ii].ID == id {
				fn(&items[ii])
				e.generation++
				return true
			}
		}
	}
	return false
}

// PatchByApplicant applies fn to every loaded row belonging to the given
// applicant, across all pages, and returns the number of rows touched.
func (c *QueryCache) PatchByApplicant(key Key, applicantID uuid.UUID, fn func(*model.TrackedCandidate)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0
	}
	n := 0
	for pi := range e.pages {
		items := e.pages[pi].Items
		for ii := range items {
			if items[ii].ApplicantID == applicantID {
				fn(&items[ii])
				n++
			}
		}
	}
	if n > 0 {
		e.generation++
	}
	return n
}

// PatchByApplication applies fn to every loaded row referencing the given
// application and returns the number of rows touched.
func (c *QueryCache) PatchByApplication(key Key, applicationID uuid.UUID, fn func(*model.TrackedCandidate)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0
	}
	n := 0
	for pi := range e.pages {
		items := e.pages[pi].Items
		for ii := range items {
			if items[ii].ApplicationID == applicationID {
				fn(&items[ii])
				n++
			}
		}
	}
	if n > 0 {
		e.generation++
	}
	return n
}

// ContainsApplicant reports whether any loaded row belongs to the applicant.
func (c *QueryCache) ContainsApplicant(key Key, applicantID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	for _, p := range e.pages {
		for _, it := range p.Items {
			if it.ApplicantID == applicantID {
				return true
			}
		}
	}
	return false
}

// RemoveItem deletes the row with the given id from whichever page holds
// it. Returns false when the row is not loaded.
func (c *QueryCache) RemoveItem(key Key, id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	for pi := range e.pages {
		items := e.pages[pi].Items
		for ii := range items {
			if items[ii].ID == id {
				e.pages[pi].Items = append(items[:ii:ii], items[ii+1:]...)
				e.generation++
				return true
			}
		}
	}
	return false
}

// PrependItems inserts items at the head of the first page, the position
// newly added candidates occupy until the next reconciling refetch.
func (c *QueryCache) PrependItems(key Key, items ...model.TrackedCandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.get(key)
	if len(e.pages) == 0 {
		e.pages = []model.Page{{}}
	}
	clones := make([]model.TrackedCandidate, len(items))
	for i, it := range items {
		clones[i] = it.Clone()
	}
	e.pages[0].Items = append(clones, e.pages[0].Items...)
	e.generation++
}

// Invalidate marks the entry stale so the next read path triggers a
// reconciling refetch. Loaded pages remain visible until it lands.
func (c *QueryCache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.get(key)
	e.stale = true
	e.generation++
}

// Stale reports whether the entry is marked for refetch.
func (c *QueryCache) Stale(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[key]; ok {
		return e.stale
	}
	return true
}

// Generation returns the entry's write counter, usable by callers to
// detect concurrent cache changes.
func (c *QueryCache) Generation(key Key) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[key]; ok {
		return e.generation
	}
	return 0
}

// Snapshot deep-copies the entry for optimistic rollback.
func (c *QueryCache) Snapshot(key Key) *EntrySnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := &EntrySnapshot{key: key}
	e, ok := c.entries[key]
	if !ok {
		return snap
	}
	snap.stale = e.stale
	snap.pages = make([]model.Page, len(e.pages))
	for i, p := range e.pages {
		snap.pages[i] = p.Clone()
	}
	return snap
}

// Restore puts a previously taken snapshot back, discarding every write
// made since. Used only on mutation failure.
func (c *QueryCache) Restore(snap *EntrySnapshot) {
	if snap == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.get(snap.key)
	e.pages = make([]model.Page, len(snap.pages))
	for i, p := range snap.pages {
		e.pages[i] = p.Clone()
	}
	e.stale = snap.stale
	e.generation++
}

// Drop removes every entry belonging to the recruiter, search views
// included. Used when the synchronizer rebinds to a different user.
func (c *QueryCache) Drop(recruiterID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.RecruiterID == recruiterID {
			delete(c.entries, k)
		}
	}
}
