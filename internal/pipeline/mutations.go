package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hirewire/pipeline-server/internal/cache"
	"github.com/hirewire/pipeline-server/internal/model"
	"github.com/hirewire/pipeline-server/internal/store"
)

// Every mutation follows the same pattern: check the connectivity signal,
// snapshot the cache entry, apply the change optimistically before the
// first store call, then either keep the optimistic state or invalidate
// for a reconciling refetch on success, and restore the snapshot on
// failure.

// AddCandidateInput identifies the application to start tracking.
type AddCandidateInput struct {
	ApplicantID   uuid.UUID
	ApplicationID uuid.UUID
	JobID         *uuid.UUID
}

// BulkAddResult reports the outcome of AddBulk.
type BulkAddResult struct {
	Added          int
	AlreadyExisted int
}

// Add starts tracking a single application. Rating and notes are seeded
// from the durable per-(recruiter, applicant) stores so a re-added
// candidate keeps their earlier annotation.
func (s *Synchronizer) Add(ctx context.Context, in AddCandidateInput) (*model.TrackedCandidate, error) {
	recruiterID, firstStage, err := s.mutationPreamble()
	if err != nil {
		return nil, err
	}
	key := s.key()

	rating, _, err := s.stores.Ratings.Get(ctx, recruiterID, in.ApplicantID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up saved rating: %w", err)
	}
	notes, err := s.stores.Notes.Get(ctx, recruiterID, in.ApplicantID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up saved notes: %w", err)
	}

	provisional := model.TrackedCandidate{
		ID:            uuid.New(),
		RecruiterID:   recruiterID,
		ApplicantID:   in.ApplicantID,
		ApplicationID: in.ApplicationID,
		JobID:         in.JobID,
		Stage:         firstStage.Key,
		Rating:        rating,
		Notes:         notes,
		CreatedAt:     s.clock(),
		UpdatedAt:     s.clock(),
	}

	snap := s.cache.Snapshot(key)
	s.cache.PrependItems(key, provisional)

	row, err := s.stores.Tracking.Insert(ctx, store.NewTracking{
		RecruiterID:   recruiterID,
		ApplicantID:   in.ApplicantID,
		ApplicationID: in.ApplicationID,
		JobID:         in.JobID,
		Stage:         firstStage.Key,
		Rating:        rating,
		Notes:         notes,
	})
	if err != nil {
		s.rollback(snap)
		if errors.Is(err, store.ErrAlreadyTracked) {
			return nil, ErrAlreadyInList
		}
		return nil, fmt.Errorf("failed to add candidate: %w", err)
	}

	// Swap the provisional row for the server's, then invalidate: the
	// server-computed fields are authoritative.
	added := provisional
	added.ID = row.ID
	added.CreatedAt = row.CreatedAt
	added.UpdatedAt = row.UpdatedAt
	s.cache.RemoveItem(key, provisional.ID)
	s.cache.PrependItems(key, added)
	s.invalidate(key)

	s.bus.Publish(CandidateAdded{ApplicationIDs: []uuid.UUID{in.ApplicationID}})
	return &added, nil
}

// AddBulk starts tracking several applications at once. Applications the
// recruiter already tracks are filtered out first and reported, not
// treated as an error; an insert failure aborts the whole batch.
func (s *Synchronizer) AddBulk(ctx context.Context, ins []AddCandidateInput) (BulkAddResult, error) {
	recruiterID, firstStage, err := s.mutationPreamble()
	if err != nil {
		return BulkAddResult{}, err
	}
	if len(ins) == 0 {
		return BulkAddResult{}, nil
	}
	key := s.key()

	applicationIDs := make([]uuid.UUID, len(ins))
	applicantIDs := make([]uuid.UUID, len(ins))
	for i, in := range ins {
		applicationIDs[i] = in.ApplicationID
		applicantIDs[i] = in.ApplicantID
	}

	existing, err := s.stores.Tracking.ExistingApplicationIDs(ctx, recruiterID, applicationIDs)
	if err != nil {
		return BulkAddResult{}, fmt.Errorf("failed to check existing candidates: %w", err)
	}

	remainder := make([]AddCandidateInput, 0, len(ins))
	for _, in := range ins {
		if !existing[in.ApplicationID] {
			remainder = append(remainder, in)
		}
	}
	result := BulkAddResult{AlreadyExisted: len(ins) - len(remainder)}
	if len(remainder) == 0 {
		return result, nil
	}

	ratings, err := s.stores.Ratings.BatchGet(ctx, recruiterID, applicantIDs)
	if err != nil {
		return result, fmt.Errorf("failed to look up saved ratings: %w", err)
	}
	notes, err := s.stores.Notes.BatchGet(ctx, recruiterID, applicantIDs)
	if err != nil {
		return result, fmt.Errorf("failed to look up saved notes: %w", err)
	}

	rows := make([]store.NewTracking, len(remainder))
	for i, in := range remainder {
		rows[i] = store.NewTracking{
			RecruiterID:   recruiterID,
			ApplicantID:   in.ApplicantID,
			ApplicationID: in.ApplicationID,
			JobID:         in.JobID,
			Stage:         firstStage.Key,
			Rating:        ratings[in.ApplicantID],
		}
		if n, ok := notes[in.ApplicantID]; ok && n != "" {
			nn := n
			rows[i].Notes = &nn
		}
	}

	if _, err := s.stores.Tracking.BulkInsert(ctx, rows); err != nil {
		return result, fmt.Errorf("failed to add candidates: %w", err)
	}
	result.Added = len(remainder)

	s.invalidate(key)
	added := make([]uuid.UUID, len(remainder))
	for i, in := range remainder {
		added[i] = in.ApplicationID
	}
	s.bus.Publish(CandidateAdded{ApplicationIDs: added})
	return result, nil
}

// MoveStage moves one tracked candidate to another stage. The optimistic
// patch is kept on success; while the call is in flight all tracking-table
// realtime events are suppressed via the mutation guard.
func (s *Synchronizer) MoveStage(ctx context.Context, id uuid.UUID, stage string) error {
	if err := s.offlineGate(); err != nil {
		return err
	}
	key := s.key()

	snap := s.cache.Snapshot(key)
	s.cache.PatchItem(key, id, func(t *model.TrackedCandidate) {
		t.Stage = stage
		t.UpdatedAt = s.clock()
	})

	mutationID := s.guard.begin()
	defer s.guard.end(mutationID)

	if err := s.stores.Tracking.UpdateStage(ctx, id, stage); err != nil {
		s.rollback(snap)
		return fmt.Errorf("failed to move candidate: %w", err)
	}

	s.bus.Publish(StageMoved{TrackingID: id, Stage: stage})
	return nil
}

// Remove stops tracking a candidate. The row disappears optimistically;
// on success the view is invalidated so pagination cursors reconcile.
func (s *Synchronizer) Remove(ctx context.Context, id uuid.UUID) error {
	if err := s.offlineGate(); err != nil {
		return err
	}
	key := s.key()

	snap := s.cache.Snapshot(key)
	s.cache.RemoveItem(key, id)

	if err := s.stores.Tracking.Delete(ctx, id); err != nil {
		s.rollback(snap)
		return fmt.Errorf("failed to remove candidate: %w", err)
	}

	s.invalidate(key)
	s.bus.Publish(CandidateRemoved{TrackingID: id})
	return nil
}

// UpdateNotes sets the tracking row's notes and upserts the durable
// per-(recruiter, applicant) note. An empty string clears the note.
func (s *Synchronizer) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error {
	if err := s.offlineGate(); err != nil {
		return err
	}
	key := s.key()

	item, ok := s.loadedItem(key, id)
	if !ok {
		return store.ErrNotFound
	}

	snap := s.cache.Snapshot(key)
	s.cache.PatchItem(key, id, func(t *model.TrackedCandidate) {
		if notes == "" {
			t.Notes = nil
		} else {
			n := notes
			t.Notes = &n
		}
		t.UpdatedAt = s.clock()
	})

	var notesPtr *string
	if notes != "" {
		n := notes
		notesPtr = &n
	}
	if err := s.stores.Tracking.UpdateNotes(ctx, id, notesPtr); err != nil {
		s.rollback(snap)
		return fmt.Errorf("failed to update notes: %w", err)
	}
	if err := s.stores.Notes.Upsert(ctx, item.RecruiterID, item.ApplicantID, item.JobID, notes); err != nil {
		return fmt.Errorf("failed to save durable note: %w", err)
	}

	s.bus.Publish(NotesChanged{ApplicantID: item.ApplicantID, Notes: notes})
	return nil
}

// UpdateRating sets the tracking row's rating, upserts the durable rating
// and publishes RatingChanged so sibling caches (applications list, team
// aggregates) patch themselves without waiting for their own refetch.
func (s *Synchronizer) UpdateRating(ctx context.Context, id uuid.UUID, rating int) error {
	if err := s.offlineGate(); err != nil {
		return err
	}
	if rating < 0 {
		return fmt.Errorf("rating must not be negative, got %d", rating)
	}
	key := s.key()

	item, ok := s.loadedItem(key, id)
	if !ok {
		return store.ErrNotFound
	}

	snap := s.cache.Snapshot(key)
	s.cache.PatchItem(key, id, func(t *model.TrackedCandidate) {
		t.Rating = rating
		t.UpdatedAt = s.clock()
	})

	if err := s.stores.Tracking.UpdateRating(ctx, id, rating); err != nil {
		s.rollback(snap)
		return fmt.Errorf("failed to update rating: %w", err)
	}
	if err := s.stores.Ratings.Upsert(ctx, item.RecruiterID, item.ApplicantID, item.JobID, rating); err != nil {
		return fmt.Errorf("failed to save durable rating: %w", err)
	}

	s.bus.Publish(RatingChanged{ApplicantID: item.ApplicantID, Value: rating})
	return nil
}

// MarkViewed records that the recruiter opened the underlying application.
// The write is gated server-side on the viewed timestamp still being null,
// so a concurrent viewing event is never clobbered. The optimistic patch
// stands even when the call fails; the next invalidate reconciles it.
func (s *Synchronizer) MarkViewed(ctx context.Context, applicationID uuid.UUID) error {
	if err := s.offlineGate(); err != nil {
		return err
	}
	key := s.key()

	now := s.clock()
	s.cache.PatchByApplication(key, applicationID, func(t *model.TrackedCandidate) {
		if t.Candidate.ViewedAt == nil {
			t.Candidate.ViewedAt = &now
		}
	})

	if _, err := s.stores.Applications.MarkViewed(ctx, applicationID); err != nil {
		return fmt.Errorf("failed to mark application viewed: %w", err)
	}
	return nil
}

// mutationPreamble runs the offline gate and resolves the landing stage
// for new candidates.
func (s *Synchronizer) mutationPreamble() (uuid.UUID, model.Stage, error) {
	if err := s.offlineGate(); err != nil {
		return uuid.Nil, model.Stage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return uuid.Nil, model.Stage{}, ErrNotStarted
	}
	first, ok := model.FirstActiveStage(s.stages)
	if !ok {
		return s.recruiterID, model.Stage{}, ErrNoStages
	}
	return s.recruiterID, first, nil
}

// offlineGate fails fast before any network call when offline.
func (s *Synchronizer) offlineGate() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if !s.conn.Online() {
		return ErrOffline
	}
	return nil
}

func (s *Synchronizer) rollback(snap *cache.EntrySnapshot) {
	s.cache.Restore(snap)
	s.metrics.incOptimisticRollbacks()
}

func (s *Synchronizer) loadedItem(key cache.Key, id uuid.UUID) (model.TrackedCandidate, bool) {
	for _, it := range s.cache.Flatten(key) {
		if it.ID == id {
			return it, true
		}
	}
	return model.TrackedCandidate{}, false
}
