package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirewire/pipeline-server/internal/model"
	"github.com/hirewire/pipeline-server/internal/store"
)

type pgStages struct {
	pool *pgxpool.Pool
}

var _ store.StageStore = (*pgStages)(nil)

// List returns the recruiter's ordered stage configuration, falling back
// to the built-in vocabulary for recruiters who never customized theirs.
func (s *pgStages) List(ctx context.Context, recruiterID uuid.UUID) ([]model.Stage, error) {
	sqlStr, args, err := psql.Select("key", "label", "position", "deleted").
		From("recruiter_stages").
		Where(sq.Eq{"recruiter_id": recruiterID}).
		OrderBy("position ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build stages query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	var stages []model.Stage
	for rows.Next() {
		var st model.Stage
		if err := rows.Scan(&st.Key, &st.Label, &st.Position, &st.Deleted); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		stages = append(stages, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stages iteration: %w", err)
	}

	if len(stages) == 0 {
		return model.BuiltinStages(), nil
	}
	return stages, nil
}
