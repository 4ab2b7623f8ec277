// Package store defines the boundary contracts the pipeline synchronizer
// consumes: the tracking-row store, application and profile lookups, the
// durable annotation stores and the full-text search procedure. Postgres
// implementations live in the postgres subpackage; in-memory fakes for
// tests live in storetest.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hirewire/pipeline-server/internal/model"
)

var (
	// ErrAlreadyTracked is returned by Insert when the (recruiter,
	// application) pair already has a tracking row.
	ErrAlreadyTracked = errors.New("application already tracked")

	// ErrNotFound is returned when an update or delete targets a tracking
	// row that does not exist.
	ErrNotFound = errors.New("tracked candidate not found")
)

// TrackingRow is one persisted tracking relationship, without hydration.
type TrackingRow struct {
	ID            uuid.UUID
	RecruiterID   uuid.UUID
	ApplicantID   uuid.UUID
	ApplicationID uuid.UUID
	JobID         *uuid.UUID
	Stage         string
	Rating        int
	Notes         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewTracking is the insert payload for a tracking row. Rating and Notes
// carry the values seeded from the durable annotation stores.
type NewTracking struct {
	RecruiterID   uuid.UUID
	ApplicantID   uuid.UUID
	ApplicationID uuid.UUID
	JobID         *uuid.UUID
	Stage         string
	Rating        int
	Notes         *string
}

// TrackingStore persists tracking rows. ListPage is a keyset query ordered
// by (updated_at, id) descending, returning at most model.PageSize rows
// strictly before the cursor position when one is supplied.
type TrackingStore interface {
	ListPage(ctx context.Context, recruiterID uuid.UUID, cursor *model.Cursor) ([]TrackingRow, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]TrackingRow, error)
	Insert(ctx context.Context, row NewTracking) (*TrackingRow, error)
	BulkInsert(ctx context.Context, rows []NewTracking) ([]TrackingRow, error)
	ExistingApplicationIDs(ctx context.Context, recruiterID uuid.UUID, applicationIDs []uuid.UUID) (map[uuid.UUID]bool, error)
	UpdateStage(ctx context.Context, id uuid.UUID, stage string) error
	UpdateNotes(ctx context.Context, id uuid.UUID, notes *string) error
	UpdateRating(ctx context.Context, id uuid.UUID, rating int) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Application is the batch-read projection of an application row, with the
// job title joined in.
type Application struct {
	ID          uuid.UUID
	ApplicantID uuid.UUID
	JobID       *uuid.UUID
	Name        string
	Email       string
	Phone       string
	ResumeURL   string
	JobTitle    string
	Answers     map[string]string
	SubmittedAt time.Time
	ViewedAt    *time.Time
}

// ApplicationStore reads application rows in batch and records viewing.
// MarkViewed sets the viewed timestamp only when it is still null; it
// reports false without error when a concurrent viewing already won.
type ApplicationStore interface {
	BatchGet(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Application, error)
	MarkViewed(ctx context.Context, id uuid.UUID) (bool, error)
}

// ProfileMedia is the per-applicant media lookup result.
type ProfileMedia struct {
	ImageURL     string
	VideoURL     string
	IsVideo      bool
	LastActiveAt *time.Time
}

// ProfileMediaStore resolves profile media for a set of applicants.
// Applicants with no media simply have no map entry; that is not an error.
type ProfileMediaStore interface {
	BatchGet(ctx context.Context, recruiterID uuid.UUID, applicantIDs []uuid.UUID) (map[uuid.UUID]ProfileMedia, error)
}

// Activity is the per-applicant activity lookup result.
type Activity struct {
	LatestApplicationAt *time.Time
	LastActiveAt        *time.Time
}

// ActivityStore resolves activity timestamps for a set of applicants, with
// the same missing-entry tolerance as ProfileMediaStore.
type ActivityStore interface {
	BatchGet(ctx context.Context, recruiterID uuid.UUID, applicantIDs []uuid.UUID) (map[uuid.UUID]Activity, error)
}

// RatingStore is the durable per-(owner, applicant) rating, keyed with an
// optional job id (nil meaning global). Ratings survive removal of the
// tracking relationship and are re-seeded on re-add.
type RatingStore interface {
	Get(ctx context.Context, ownerID, applicantID uuid.UUID) (int, bool, error)
	BatchGet(ctx context.Context, ownerID uuid.UUID, applicantIDs []uuid.UUID) (map[uuid.UUID]int, error)
	Upsert(ctx context.Context, ownerID, applicantID uuid.UUID, jobID *uuid.UUID, rating int) error
}

// NoteStore is the durable per-(owner, applicant) note. Upserting an empty
// note clears an existing row but never creates a new one.
type NoteStore interface {
	Get(ctx context.Context, ownerID, applicantID uuid.UUID) (*string, error)
	BatchGet(ctx context.Context, ownerID uuid.UUID, applicantIDs []uuid.UUID) (map[uuid.UUID]string, error)
	Upsert(ctx context.Context, ownerID, applicantID uuid.UUID, jobID *uuid.UUID, note string) error
}

// SearchIndex delegates free-text matching and ranking to the server-side
// search procedure. It returns tracking-row ids for one page, ordered for
// pagination with the same cursor semantics as TrackingStore.ListPage.
type SearchIndex interface {
	Search(ctx context.Context, recruiterID uuid.UUID, query string, cursor *model.Cursor) ([]uuid.UUID, error)
}

// StageStore returns the recruiter's ordered stage configuration, seeding
// the built-in vocabulary when the recruiter has none.
type StageStore interface {
	List(ctx context.Context, recruiterID uuid.UUID) ([]model.Stage, error)
}

// Stores bundles every collaborator the synchronizer needs.
type Stores struct {
	Tracking     TrackingStore
	Applications ApplicationStore
	Media        ProfileMediaStore
	Activity     ActivityStore
	Ratings      RatingStore
	Notes        NoteStore
	Search       SearchIndex
	Stages       StageStore
}

// Validate checks that every required collaborator is present.
func (s Stores) Validate() error {
	switch {
	case s.Tracking == nil:
		return errors.New("tracking store is required")
	case s.Applications == nil:
		return errors.New("application store is required")
	case s.Media == nil:
		return errors.New("profile media store is required")
	case s.Activity == nil:
		return errors.New("activity store is required")
	case s.Ratings == nil:
		return errors.New("rating store is required")
	case s.Notes == nil:
		return errors.New("note store is required")
	case s.Search == nil:
		return errors.New("search index is required")
	case s.Stages == nil:
		return errors.New("stage store is required")
	}
	return nil
}
