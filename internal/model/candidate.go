// Package model defines the domain types shared across the pipeline
// synchronizer: tracked candidates, pages, stages and change events.
package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	// PageSize is the fixed number of tracked candidates per fetched page.
	PageSize = 50

	// SnapshotCap is the maximum number of items persisted in a local snapshot.
	SnapshotCap = 100
)

// TrackedCandidate is one (recruiter, applicant, application) tracking
// relationship together with the denormalized read-only fields hydrated
// from the application and profile records.
type TrackedCandidate struct {
	ID            uuid.UUID  `json:"id"`
	RecruiterID   uuid.UUID  `json:"recruiter_id"`
	ApplicantID   uuid.UUID  `json:"applicant_id"`
	ApplicationID uuid.UUID  `json:"application_id"`
	JobID         *uuid.UUID `json:"job_id,omitempty"`

	Stage  string  `json:"stage"`
	Rating int     `json:"rating"`
	Notes  *string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Candidate CandidateDetails `json:"candidate"`
}

// CandidateDetails is the hydration bundle joined from the application and
// profile stores. All fields are read-only from the synchronizer's point of
// view except the activity timestamps, which realtime events patch in place.
type CandidateDetails struct {
	Name      string            `json:"name"`
	Email     string            `json:"email"`
	Phone     string            `json:"phone,omitempty"`
	ResumeURL string            `json:"resume_url,omitempty"`
	JobTitle  string            `json:"job_title,omitempty"`
	Answers   map[string]string `json:"answers,omitempty"`

	Media ProfileMedia `json:"media"`

	LastActiveAt        *time.Time `json:"last_active_at,omitempty"`
	LatestApplicationAt *time.Time `json:"latest_application_at,omitempty"`
	ViewedAt            *time.Time `json:"viewed_at,omitempty"`
}

// ProfileMedia describes the applicant's profile media. A zero value means
// the media lookup had no entry for the applicant, which is not an error.
type ProfileMedia struct {
	ImageURL string `json:"image_url,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
	IsVideo  bool   `json:"is_video"`
}

// Clone returns a deep copy of the tracked candidate. Pointer and map
// fields are duplicated so optimistic-rollback snapshots cannot alias the
// live cache entry.
func (t TrackedCandidate) Clone() TrackedCandidate {
	out := t
	out.JobID = cloneUUIDPtr(t.JobID)
	out.Notes = cloneStringPtr(t.Notes)
	out.Candidate.LastActiveAt = cloneTimePtr(t.Candidate.LastActiveAt)
	out.Candidate.LatestApplicationAt = cloneTimePtr(t.Candidate.LatestApplicationAt)
	out.Candidate.ViewedAt = cloneTimePtr(t.Candidate.ViewedAt)
	if t.Candidate.Answers != nil {
		out.Candidate.Answers = make(map[string]string, len(t.Candidate.Answers))
		for k, v := range t.Candidate.Answers {
			out.Candidate.Answers[k] = v
		}
	}
	return out
}

func cloneUUIDPtr(p *uuid.UUID) *uuid.UUID {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
