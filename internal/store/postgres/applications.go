package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirewire/pipeline-server/internal/store"
)

type pgApplications struct {
	pool *pgxpool.Pool
}

var _ store.ApplicationStore = (*pgApplications)(nil)

// BatchGet loads applications by id with the job title joined in, one
// query for the whole set.
func (s *pgApplications) BatchGet(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]store.Application, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]store.Application{}, nil
	}

	sqlStr, args, err := psql.Select(
		"a.id", "a.applicant_id", "a.job_id",
		"a.name", "a.email", "a.phone", "a.resume_url", "a.answers",
		"a.submitted_at", "a.viewed_at",
		"COALESCE(j.title, '')",
	).
		From("applications a").
		LeftJoin("jobs j ON j.id = a.job_id").
		Where(sq.Eq{"a.id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build application query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to batch-get applications: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]store.Application, len(ids))
	for rows.Next() {
		var (
			a       store.Application
			answers []byte
		)
		if err := rows.Scan(
			&a.ID, &a.ApplicantID, &a.JobID,
			&a.Name, &a.Email, &a.Phone, &a.ResumeURL, &answers,
			&a.SubmittedAt, &a.ViewedAt,
			&a.JobTitle,
		); err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		if len(answers) > 0 {
			if err := json.Unmarshal(answers, &a.Answers); err != nil {
				// Malformed answers degrade to none; the rest of the row
				// is still useful.
				a.Answers = nil
			}
		}
		out[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("applications iteration: %w", err)
	}
	return out, nil
}

// MarkViewed sets the viewed timestamp only when it is still null. A
// concurrent viewing that already set it is reported as false, not an
// error.
func (s *pgApplications) MarkViewed(ctx context.Context, id uuid.UUID) (bool, error) {
	sqlStr, args, err := psql.Update("applications").
		Set("viewed_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		Where("viewed_at IS NULL").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build viewed query: %w", err)
	}
	tag, err := s.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("failed to mark application viewed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
