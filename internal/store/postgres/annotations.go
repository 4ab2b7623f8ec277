package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirewire/pipeline-server/internal/store"
)

// Durable annotations are keyed (owner_id, applicant_id, job_id) with a
// null job id meaning the global scope. They outlive the tracking row, so
// removing and re-adding a candidate restores their rating and notes.

type pgRatings struct {
	pool *pgxpool.Pool
}

var _ store.RatingStore = (*pgRatings)(nil)

func (s *pgRatings) Get(ctx context.Context, ownerID, applicantID uuid.UUID) (int, bool, error) {
	var rating int
	err := s.pool.QueryRow(ctx,
		`SELECT rating FROM candidate_ratings
		  WHERE owner_id = $1 AND applicant_id = $2 AND job_id IS NULL`,
		ownerID, applicantID,
	).Scan(&rating)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get rating: %w", err)
	}
	return rating, true, nil
}

func (s *pgRatings) BatchGet(ctx context.Context, ownerID uuid.UUID, applicantIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	if len(applicantIDs) == 0 {
		return map[uuid.UUID]int{}, nil
	}
	sqlStr, args, err := psql.Select("applicant_id", "rating").
		From("candidate_ratings").
		Where(sq.Eq{"owner_id": ownerID, "applicant_id": applicantIDs}).
		Where("job_id IS NULL").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build ratings query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to batch-get ratings: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			id     uuid.UUID
			rating int
		)
		if err := rows.Scan(&id, &rating); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		out[id] = rating
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ratings iteration: %w", err)
	}
	return out, nil
}

func (s *pgRatings) Upsert(ctx context.Context, ownerID, applicantID uuid.UUID, jobID *uuid.UUID, rating int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO candidate_ratings (owner_id, applicant_id, job_id, rating)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_id, applicant_id, COALESCE(job_id, '00000000-0000-0000-0000-000000000000'::uuid))
		 DO UPDATE SET rating = EXCLUDED.rating, updated_at = now()`,
		ownerID, applicantID, jobID, rating,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert rating: %w", err)
	}
	return nil
}

type pgNotes struct {
	pool *pgxpool.Pool
}

var _ store.NoteStore = (*pgNotes)(nil)

func (s *pgNotes) Get(ctx context.Context, ownerID, applicantID uuid.UUID) (*string, error) {
	var note string
	err := s.pool.QueryRow(ctx,
		`SELECT note FROM candidate_notes
		  WHERE owner_id = $1 AND applicant_id = $2 AND job_id IS NULL`,
		ownerID, applicantID,
	).Scan(&note)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && note == "") {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return &note, nil
}

func (s *pgNotes) BatchGet(ctx context.Context, ownerID uuid.UUID, applicantIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	if len(applicantIDs) == 0 {
		return map[uuid.UUID]string{}, nil
	}
	sqlStr, args, err := psql.Select("applicant_id", "note").
		From("candidate_notes").
		Where(sq.Eq{"owner_id": ownerID, "applicant_id": applicantIDs}).
		Where("job_id IS NULL").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build notes query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to batch-get notes: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]string)
	for rows.Next() {
		var (
			id   uuid.UUID
			note string
		)
		if err := rows.Scan(&id, &note); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		if note != "" {
			out[id] = note
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notes iteration: %w", err)
	}
	return out, nil
}

// Upsert writes the durable note. An empty note clears an existing row
// but never creates a new one.
func (s *pgNotes) Upsert(ctx context.Context, ownerID, applicantID uuid.UUID, jobID *uuid.UUID, note string) error {
	if note == "" {
		_, err := s.pool.Exec(ctx,
			`UPDATE candidate_notes SET note = '', updated_at = now()
			  WHERE owner_id = $1 AND applicant_id = $2
			    AND job_id IS NOT DISTINCT FROM $3`,
			ownerID, applicantID, jobID,
		)
		if err != nil {
			return fmt.Errorf("failed to clear note: %w", err)
		}
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO candidate_notes (owner_id, applicant_id, job_id, note)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_id, applicant_id, COALESCE(job_id, '00000000-0000-0000-0000-000000000000'::uuid))
		 DO UPDATE SET note = EXCLUDED.note, updated_at = now()`,
		ownerID, applicantID, jobID, note,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert note: %w", err)
	}
	return nil
}
