package postgres

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirewire/pipeline-server/internal/model"
	"github.com/hirewire/pipeline-server/internal/store"
)

var trackingColumns = []string{
	"id", "recruiter_id", "applicant_id", "application_id", "job_id",
	"stage", "rating", "notes", "created_at", "updated_at",
}

type pgTracking struct {
	pool *pgxpool.Pool
}

var _ store.TrackingStore = (*pgTracking)(nil)

func scanTrackingRows(rows pgx.Rows) ([]store.TrackingRow, error) {
	defer rows.Close()
	var out []store.TrackingRow
	for rows.Next() {
		var r store.TrackingRow
		if err := rows.Scan(
			&r.ID, &r.RecruiterID, &r.ApplicantID, &r.ApplicationID, &r.JobID,
			&r.Stage, &r.Rating, &r.Notes, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tracking row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tracking rows iteration: %w", err)
	}
	return out, nil
}

// ListPage is the default-path keyset query: (updated_at, id) descending,
// strictly before the cursor position, one page at most.
func (s *pgTracking) ListPage(ctx context.Context, recruiterID uuid.UUID, cursor *model.Cursor) ([]store.TrackingRow, error) {
	q := psql.Select(trackingColumns...).
		From("tracked_candidates").
		Where(sq.Eq{"recruiter_id": recruiterID}).
		OrderBy("updated_at DESC", "id DESC").
		Limit(model.PageSize)
	if cursor != nil {
		q = q.Where(sq.Expr("(updated_at, id) < (?, ?)", cursor.UpdatedAt, cursor.ID))
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked candidates: %w", err)
	}
	return scanTrackingRows(rows)
}

func (s *pgTracking) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]store.TrackingRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sqlStr, args, err := psql.Select(trackingColumns...).
		From("tracked_candidates").
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build get query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked candidates: %w", err)
	}
	return scanTrackingRows(rows)
}

func (s *pgTracking) Insert(ctx context.Context, row store.NewTracking) (*store.TrackingRow, error) {
	sqlStr, args, err := psql.Insert("tracked_candidates").
		Columns("recruiter_id", "applicant_id", "application_id", "job_id", "stage", "rating", "notes").
		Values(row.RecruiterID, row.ApplicantID, row.ApplicationID, row.JobID, row.Stage, row.Rating, row.Notes).
		Suffix("RETURNING " + strings.Join(trackingColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build insert query: %w", err)
	}

	var r store.TrackingRow
	if err := s.pool.QueryRow(ctx, sqlStr, args...).Scan(
		&r.ID, &r.RecruiterID, &r.ApplicantID, &r.ApplicationID, &r.JobID,
		&r.Stage, &r.Rating, &r.Notes, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyTracked
		}
		return nil, fmt.Errorf("failed to insert tracking row: %w", err)
	}
	return &r, nil
}

// BulkInsert inserts all rows in one transaction; any failure aborts the
// whole batch, per the bulk-add contract.
func (s *pgTracking) BulkInsert(ctx context.Context, rows []store.NewTracking) ([]store.TrackingRow, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin bulk insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := psql.Insert("tracked_candidates").
		Columns("recruiter_id", "applicant_id", "application_id", "job_id", "stage", "rating", "notes")
	for _, row := range rows {
		q = q.Values(row.RecruiterID, row.ApplicantID, row.ApplicationID, row.JobID, row.Stage, row.Rating, row.Notes)
	}
	sqlStr, args, err := q.Suffix("RETURNING " + strings.Join(trackingColumns, ", ")).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build bulk insert query: %w", err)
	}

	res, err := tx.Query(ctx, sqlStr, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyTracked
		}
		return nil, fmt.Errorf("failed to bulk insert tracking rows: %w", err)
	}
	out, err := scanTrackingRows(res)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit bulk insert: %w", err)
	}
	return out, nil
}

func (s *pgTracking) ExistingApplicationIDs(ctx context.Context, recruiterID uuid.UUID, applicationIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	if len(applicationIDs) == 0 {
		return map[uuid.UUID]bool{}, nil
	}
	sqlStr, args, err := psql.Select("application_id").
		From("tracked_candidates").
		Where(sq.Eq{"recruiter_id": recruiterID, "application_id": applicationIDs}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build exists query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing applications: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan application id: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("existing applications iteration: %w", err)
	}
	return out, nil
}

func (s *pgTracking) updateField(ctx context.Context, id uuid.UUID, field string, value any) error {
	sqlStr, args, err := psql.Update("tracked_candidates").
		Set(field, value).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}
	tag, err := s.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", field, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *pgTracking) UpdateStage(ctx context.Context, id uuid.UUID, stage string) error {
	return s.updateField(ctx, id, "stage", stage)
}

func (s *pgTracking) UpdateNotes(ctx context.Context, id uuid.UUID, notes *string) error {
	return s.updateField(ctx, id, "notes", notes)
}

func (s *pgTracking) UpdateRating(ctx context.Context, id uuid.UUID, rating int) error {
	return s.updateField(ctx, id, "rating", rating)
}

func (s *pgTracking) Delete(ctx context.Context, id uuid.UUID) error {
	sqlStr, args, err := psql.Delete("tracked_candidates").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}
	tag, err := s.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("failed to delete tracking row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
