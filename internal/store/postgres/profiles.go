package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirewire/pipeline-server/internal/store"
)

// The media and activity lookups call server-side procedures rather than
// joining tables directly: visibility rules (which recruiter may see whose
// media) live behind them.

type pgMedia struct {
	pool *pgxpool.Pool
}

var _ store.ProfileMediaStore = (*pgMedia)(nil)

// BatchGet resolves profile media for a set of applicants. Applicants the
// procedure returns no row for are simply absent from the result.
func (s *pgMedia) BatchGet(ctx context.Context, recruiterID uuid.UUID, applicantIDs []uuid.UUID) (map[uuid.UUID]store.ProfileMedia, error) {
	if len(applicantIDs) == 0 {
		return map[uuid.UUID]store.ProfileMedia{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT applicant_id, image_url, video_url, is_video, last_active_at
		   FROM profile_media_for_recruiter($1, $2)`,
		recruiterID, applicantIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to batch-get profile media: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]store.ProfileMedia, len(applicantIDs))
	for rows.Next() {
		var (
			id uuid.UUID
			m  store.ProfileMedia
		)
		if err := rows.Scan(&id, &m.ImageURL, &m.VideoURL, &m.IsVideo, &m.LastActiveAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile media: %w", err)
		}
		out[id] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile media iteration: %w", err)
	}
	return out, nil
}

type pgActivity struct {
	pool *pgxpool.Pool
}

var _ store.ActivityStore = (*pgActivity)(nil)

// BatchGet resolves activity timestamps for a set of applicants, with the
// same missing-entry tolerance as the media lookup.
func (s *pgActivity) BatchGet(ctx context.Context, recruiterID uuid.UUID, applicantIDs []uuid.UUID) (map[uuid.UUID]store.Activity, error) {
	if len(applicantIDs) == 0 {
		return map[uuid.UUID]store.Activity{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT applicant_id, latest_application_at, last_active_at
		   FROM applicant_activity_for_recruiter($1, $2)`,
		recruiterID, applicantIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to batch-get activity: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]store.Activity, len(applicantIDs))
	for rows.Next() {
		var (
			id uuid.UUID
			a  store.Activity
		)
		if err := rows.Scan(&id, &a.LatestApplicationAt, &a.LastActiveAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		out[id] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("activity iteration: %w", err)
	}
	return out, nil
}
