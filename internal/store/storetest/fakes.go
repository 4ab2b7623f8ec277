// Package storetest provides in-memory implementations of the store
// contracts for tests. The fakes mimic backend behavior closely enough to
// exercise the synchronizer end to end: keyset ordering, the uniqueness
// constraint, null-gated viewed writes and durable annotation semantics.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hirewire/pipeline-server/internal/model"
	"github.com/hirewire/pipeline-server/internal/store"
)

// Fixture bundles one fake of every store contract sharing a clock.
type Fixture struct {
	Clock        func() time.Time
	Tracking     *FakeTracking
	Applications *FakeApplications
	Media        *FakeMedia
	Activity     *FakeActivity
	Ratings      *FakeRatings
	Notes        *FakeNotes
	Search       *FakeSearch
	Stages       *FakeStages
}

// NewFixture creates a fixture. A nil clock defaults to time.Now.
func NewFixture(clock func() time.Time) *Fixture {
	if clock == nil {
		clock = time.Now
	}
	f := &Fixture{Clock: clock}
	f.Tracking = &FakeTracking{clock: clock, Rows: map[uuid.UUID]store.TrackingRow{}, Errs: map[string]error{}}
	f.Applications = &FakeApplications{clock: clock, Apps: map[uuid.UUID]store.Application{}, Errs: map[string]error{}}
	f.Media = &FakeMedia{Media: map[uuid.UUID]store.ProfileMedia{}, Errs: map[string]error{}}
	f.Activity = &FakeActivity{Activity: map[uuid.UUID]store.Activity{}, Errs: map[string]error{}}
	f.Ratings = &FakeRatings{Ratings: map[annotationKey]int{}, Errs: map[string]error{}}
	f.Notes = &FakeNotes{Notes: map[annotationKey]string{}, Errs: map[string]error{}}
	f.Search = &FakeSearch{}
	f.Stages = &FakeStages{}
	return f
}

// Stores returns the fixture as the store bundle the synchronizer takes.
func (f *Fixture) Stores() store.Stores {
	return store.Stores{
		Tracking:     f.Tracking,
		Applications: f.Applications,
		Media:        f.Media,
		Activity:     f.Activity,
		Ratings:      f.Ratings,
		Notes:        f.Notes,
		Search:       f.Search,
		Stages:       f.Stages,
	}
}

type annotationKey struct {
	Owner     uuid.UUID
	Applicant uuid.UUID
}

// FakeTracking is an in-memory TrackingStore. Errs maps a method name to
// an error that method should return, for failure-path tests.
type FakeTracking struct {
	mu    sync.Mutex
	clock func() time.Time
	Rows  map[uuid.UUID]store.TrackingRow
	Errs  map[string]error

	// ListPageHook, when set, runs before each ListPage query, outside the
	// lock so it may block. Used to stage interleavings.
	ListPageHook func(cursor *model.Cursor)
}

var _ store.TrackingStore = (*FakeTracking)(nil)

// Seed inserts a row directly, bypassing constraints, for test setup.
func (f *FakeTracking) Seed(row store.TrackingRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Rows[row.ID] = row
}

// ListPage implements the keyset query: (updated_at, id) descending,
// strictly before the cursor, at most model.PageSize rows.
func (f *FakeTracking) ListPage(_ context.Context, recruiterID uuid.UUID, cursor *model.Cursor) ([]store.TrackingRow, error) {
	if f.ListPageHook != nil {
		f.ListPageHook(cursor)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["ListPage"]; err != nil {
		return nil, err
	}

	var rows []store.TrackingRow
	for _, r := range f.Rows {
		if r.RecruiterID != recruiterID {
			continue
		}
		if cursor != nil && !beforeCursor(r, cursor) {
			continue
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].UpdatedAt.Equal(rows[j].UpdatedAt) {
			return rows[i].UpdatedAt.After(rows[j].UpdatedAt)
		}
		return rows[i].ID.String() > rows[j].ID.String()
	})
	if len(rows) > model.PageSize {
		rows = rows[:model.PageSize]
	}
	return rows, nil
}

func beforeCursor(r store.TrackingRow, c *model.Cursor) bool {
	if !r.UpdatedAt.Equal(c.UpdatedAt) {
		return r.UpdatedAt.Before(c.UpdatedAt)
	}
	return r.ID.String() < c.ID.String()
}

func (f *FakeTracking) GetByIDs(_ context.Context, ids []uuid.UUID) ([]store.TrackingRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["GetByIDs"]; err != nil {
		return nil, err
	}
	var rows []store.TrackingRow
	for _, id := range ids {
		if r, ok := f.Rows[id]; ok {
			rows = append(rows, r)
		}
	}
	return rows, nil
}

func (f *FakeTracking) Insert(_ context.Context, row store.NewTracking) (*store.TrackingRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["Insert"]; err != nil {
		return nil, err
	}
	for _, r := range f.Rows {
		if r.RecruiterID == row.RecruiterID && r.ApplicationID == row.ApplicationID {
			return nil, store.ErrAlreadyTracked
		}
	}
	now := f.clock()
	r := store.TrackingRow{
		ID:            uuid.New(),
		RecruiterID:   row.RecruiterID,
		ApplicantID:   row.ApplicantID,
		ApplicationID: row.ApplicationID,
		JobID:         row.JobID,
		Stage:         row.Stage,
		Rating:        row.Rating,
		Notes:         row.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	f.Rows[r.ID] = r
	return &r, nil
}

func (f *FakeTracking) BulkInsert(ctx context.Context, rows []store.NewTracking) ([]store.TrackingRow, error) {
	if err := f.Errs["BulkInsert"]; err != nil {
		return nil, err
	}
	out := make([]store.TrackingRow, 0, len(rows))
	for _, row := range rows {
		r, err := f.Insert(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

func (f *FakeTracking) ExistingApplicationIDs(_ context.Context, recruiterID uuid.UUID, applicationIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["ExistingApplicationIDs"]; err != nil {
		return nil, err
	}
	wanted := make(map[uuid.UUID]bool, len(applicationIDs))
	for _, id := range applicationIDs {
		wanted[id] = true
	}
	out := make(map[uuid.UUID]bool)
	for _, r := range f.Rows {
		if r.RecruiterID == recruiterID && wanted[r.ApplicationID] {
			out[r.ApplicationID] = true
		}
	}
	return out, nil
}

func (f *FakeTracking) update(id uuid.UUID, method string, fn func(*store.TrackingRow)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs[method]; err != nil {
		return err
	}
	r, ok := f.Rows[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&r)
	r.UpdatedAt = f.clock()
	f.Rows[id] = r
	return nil
}

func (f *FakeTracking) UpdateStage(_ context.Context, id uuid.UUID, stage string) error {
	return f.update(id, "UpdateStage", func(r *store.TrackingRow) { r.Stage = stage })
}

func (f *FakeTracking) UpdateNotes(_ context.Context, id uuid.UUID, notes *string) error {
	return f.update(id, "UpdateNotes", func(r *store.TrackingRow) { r.Notes = notes })
}

func (f *FakeTracking) UpdateRating(_ context.Context, id uuid.UUID, rating int) error {
	return f.update(id, "UpdateRating", func(r *store.TrackingRow) { r.Rating = rating })
}

func (f *FakeTracking) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["Delete"]; err != nil {
		return err
	}
	if _, ok := f.Rows[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.Rows, id)
	return nil
}

// FakeApplications is an in-memory ApplicationStore.
type FakeApplications struct {
	mu    sync.Mutex
	clock func() time.Time
	Apps  map[uuid.UUID]store.Application
	Errs  map[string]error
}

var _ store.ApplicationStore = (*FakeApplications)(nil)

func (f *FakeApplications) BatchGet(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]store.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["BatchGet"]; err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]store.Application)
	for _, id := range ids {
		if a, ok := f.Apps[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (f *FakeApplications) MarkViewed(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["MarkViewed"]; err != nil {
		return false, err
	}
	a, ok := f.Apps[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if a.ViewedAt != nil {
		return false, nil
	}
	now := f.clock()
	a.ViewedAt = &now
	f.Apps[id] = a
	return true, nil
}

// FakeMedia is an in-memory ProfileMediaStore. Applicants without an
// entry are simply absent from the result, as the contract allows.
type FakeMedia struct {
	mu    sync.Mutex
	Media map[uuid.UUID]store.ProfileMedia
	Errs  map[string]error
}

var _ store.ProfileMediaStore = (*FakeMedia)(nil)

func (f *FakeMedia) BatchGet(_ context.Context, _ uuid.UUID, applicantIDs []uuid.UUID) (map[uuid.UUID]store.ProfileMedia, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["BatchGet"]; err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]store.ProfileMedia)
	for _, id := range applicantIDs {
		if m, ok := f.Media[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

// FakeActivity is an in-memory ActivityStore.
type FakeActivity struct {
	mu       sync.Mutex
	Activity map[uuid.UUID]store.Activity
	Errs     map[string]error
}

var _ store.ActivityStore = (*FakeActivity)(nil)

func (f *FakeActivity) BatchGet(_ context.Context, _ uuid.UUID, applicantIDs []uuid.UUID) (map[uuid.UUID]store.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["BatchGet"]; err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]store.Activity)
	for _, id := range applicantIDs {
		if a, ok := f.Activity[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

// FakeRatings is an in-memory durable RatingStore keyed by
// (owner, applicant); the optional job id is accepted and ignored, as the
// global (nil job) scope is the one the synchronizer uses.
type FakeRatings struct {
	mu      sync.Mutex
	Ratings map[annotationKey]int
	Errs    map[string]error
}

var _ store.RatingStore = (*FakeRatings)(nil)

func (f *FakeRatings) Get(_ context.Context, ownerID, applicantID uuid.UUID) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["Get"]; err != nil {
		return 0, false, err
	}
	v, ok := f.Ratings[annotationKey{ownerID, applicantID}]
	return v, ok, nil
}

func (f *FakeRatings) BatchGet(_ context.Context, ownerID uuid.UUID, applicantIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["BatchGet"]; err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]int)
	for _, id := range applicantIDs {
		if v, ok := f.Ratings[annotationKey{ownerID, id}]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *FakeRatings) Upsert(_ context.Context, ownerID, applicantID uuid.UUID, _ *uuid.UUID, rating int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["Upsert"]; err != nil {
		return err
	}
	f.Ratings[annotationKey{ownerID, applicantID}] = rating
	return nil
}

// FakeNotes is an in-memory durable NoteStore. An empty note clears an
// existing entry but never creates one.
type FakeNotes struct {
	mu    sync.Mutex
	Notes map[annotationKey]string
	Errs  map[string]error
}

var _ store.NoteStore = (*FakeNotes)(nil)

func (f *FakeNotes) Get(_ context.Context, ownerID, applicantID uuid.UUID) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["Get"]; err != nil {
		return nil, err
	}
	if v, ok := f.Notes[annotationKey{ownerID, applicantID}]; ok && v != "" {
		return &v, nil
	}
	return nil, nil
}

func (f *FakeNotes) BatchGet(_ context.Context, ownerID uuid.UUID, applicantIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["BatchGet"]; err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]string)
	for _, id := range applicantIDs {
		if v, ok := f.Notes[annotationKey{ownerID, id}]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *FakeNotes) Upsert(_ context.Context, ownerID, applicantID uuid.UUID, _ *uuid.UUID, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["Upsert"]; err != nil {
		return err
	}
	key := annotationKey{ownerID, applicantID}
	if note == "" {
		if _, ok := f.Notes[key]; ok {
			f.Notes[key] = ""
		}
		return nil
	}
	f.Notes[key] = note
	return nil
}

// FakeSearch delegates to SearchFunc when set and matches nothing
// otherwise.
type FakeSearch struct {
	SearchFunc func(ctx context.Context, recruiterID uuid.UUID, query string, cursor *model.Cursor) ([]uuid.UUID, error)
}

var _ store.SearchIndex = (*FakeSearch)(nil)

func (f *FakeSearch) Search(ctx context.Context, recruiterID uuid.UUID, query string, cursor *model.Cursor) ([]uuid.UUID, error) {
	if f.SearchFunc == nil {
		return nil, nil
	}
	return f.SearchFunc(ctx, recruiterID, query, cursor)
}

// FakeStages returns Configured when set, the built-in vocabulary
// otherwise.
type FakeStages struct {
	Configured []model.Stage
	Err        error
}

var _ store.StageStore = (*FakeStages)(nil)

func (f *FakeStages) List(_ context.Context, _ uuid.UUID) ([]model.Stage, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.Configured) > 0 {
		return f.Configured, nil
	}
	return model.BuiltinStages(), nil
}
