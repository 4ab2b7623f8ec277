package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirewire/pipeline-server/internal/model"
	"github.com/hirewire/pipeline-server/internal/store"
)

type pgSearch struct {
	pool *pgxpool.Pool
}

var _ store.SearchIndex = (*pgSearch)(nil)

// Search delegates matching and ranking to the server-side full-text
// procedure, which returns tracking-row ids already ordered for
// pagination with the same (updated_at, id) cursor semantics as the
// default path.
func (s *pgSearch) Search(ctx context.Context, recruiterID uuid.UUID, query string, cursor *model.Cursor) ([]uuid.UUID, error) {
	var (
		cursorAt *time.Time
		cursorID *uuid.UUID
	)
	if cursor != nil {
		cursorAt = &cursor.UpdatedAt
		cursorID = &cursor.ID
	}

	rows, err := s.pool.Query(ctx,
		`SELECT tracking_id
		   FROM search_tracked_candidates($1, $2, $3, $4, $5)`,
		recruiterID, query, model.PageSize, cursorAt, cursorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search tracked candidates: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search results iteration: %w", err)
	}
	return ids, nil
}
