package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hirewire/pipeline-server/internal/model"
	"github.com/hirewire/pipeline-server/internal/store"
)

// fetcher retrieves pages of tracked candidates and hydrates them with
// application, media and activity data. The two query paths (free-text
// search vs. default keyset listing) share the hydration step: exactly
// three batched lookups keyed by the distinct ids in the page, never one
// lookup per row.
type fetcher struct {
	stores store.Stores
}

// FetchPage returns one page for the given recruiter, query and cursor.
func (f *fetcher) FetchPage(
	ctx context.Context, recruiterID uuid.UUID, search string, cursor *model.Cursor,
) (model.Page, error) {
	var (
		rows []store.TrackingRow
		err  error
	)

	if search != "" {
		rows, err = f.searchPath(ctx, recruiterID, search, cursor)
	} else {
		rows, err = f.stores.Tracking.ListPage(ctx, recruiterID, cursor)
	}
	if err != nil {
		return model.Page{}, err
	}

	items, err := f.hydrate(ctx, recruiterID, rows)
	if err != nil {
		return model.Page{}, err
	}

	return model.Page{Items: items, NextCursor: model.NextCursorFor(items)}, nil
}

// searchPath resolves matching tracking-row ids via the server-side search
// procedure, then loads the rows preserving the procedure's ordering.
func (f *fetcher) searchPath(
	ctx context.Context, recruiterID uuid.UUID, query string, cursor *model.Cursor,
) ([]store.TrackingRow, error) {
	ids, err := f.stores.Search.Search(ctx, recruiterID, query, cursor)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := f.stores.Tracking.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load search results: %w", err)
	}

	byID := make(map[uuid.UUID]store.TrackingRow, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	ordered := make([]store.TrackingRow, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered, nil
}

// hydrate joins the page's rows against application, media and activity
// data. The three lookups run concurrently; media and activity gaps are
// filled with zero values rather than failing the page.
func (f *fetcher) hydrate(
	ctx context.Context, recruiterID uuid.UUID, rows []store.TrackingRow,
) ([]model.TrackedCandidate, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	applicationIDs := make([]uuid.UUID, 0, len(rows))
	applicantIDs := make([]uuid.UUID, 0, len(rows))
	seenApp := make(map[uuid.UUID]bool, len(rows))
	seenApplicant := make(map[uuid.UUID]bool, len(rows))
	for _, r := range rows {
		if !seenApp[r.ApplicationID] {
			seenApp[r.ApplicationID] = true
			applicationIDs = append(applicationIDs, r.ApplicationID)
		}
		if !seenApplicant[r.ApplicantID] {
			seenApplicant[r.ApplicantID] = true
			applicantIDs = append(applicantIDs, r.ApplicantID)
		}
	}

	var (
		applications map[uuid.UUID]store.Application
		media        map[uuid.UUID]store.ProfileMedia
		activity     map[uuid.UUID]store.Activity
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		applications, err = f.stores.Applications.BatchGet(gctx, applicationIDs)
		if err != nil {
			return fmt.Errorf("application lookup failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		media, err = f.stores.Media.BatchGet(gctx, recruiterID, applicantIDs)
		if err != nil {
			return fmt.Errorf("profile media lookup failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		activity, err = f.stores.Activity.BatchGet(gctx, recruiterID, applicantIDs)
		if err != nil {
			return fmt.Errorf("activity lookup failed: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := make([]model.TrackedCandidate, 0, len(rows))
	for _, r := range rows {
		item := model.TrackedCandidate{
			ID:            r.ID,
			RecruiterID:   r.RecruiterID,
			ApplicantID:   r.ApplicantID,
			ApplicationID: r.ApplicationID,
			JobID:         r.JobID,
			Stage:         r.Stage,
			Rating:        r.Rating,
			Notes:         r.Notes,
			CreatedAt:     r.CreatedAt,
			UpdatedAt:     r.UpdatedAt,
		}

		if app, ok := applications[r.ApplicationID]; ok {
			item.Candidate.Name = app.Name
			item.Candidate.Email = app.Email
			item.Candidate.Phone = app.Phone
			item.Candidate.ResumeURL = app.ResumeURL
			item.Candidate.JobTitle = app.JobTitle
			item.Candidate.Answers = app.Answers
			item.Candidate.ViewedAt = app.ViewedAt
		}
		if m, ok := media[r.ApplicantID]; ok {
			item.Candidate.Media = model.ProfileMedia{
				ImageURL: m.ImageURL,
				VideoURL: m.VideoURL,
				IsVideo:  m.IsVideo,
			}
			item.Candidate.LastActiveAt = m.LastActiveAt
		}
		if a, ok := activity[r.ApplicantID]; ok {
			item.Candidate.LatestApplicationAt = a.LatestApplicationAt
			if a.LastActiveAt != nil {
				item.Candidate.LastActiveAt = a.LastActiveAt
			}
		}

		items = append(items, item)
	}
	return items, nil
}
