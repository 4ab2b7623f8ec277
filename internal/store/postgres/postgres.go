// Package postgres provides the Postgres-backed implementations of the
// store contracts, built on pgx and the squirrel query builder.
package postgres

import (
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirewire/pipeline-server/internal/store"
)

// psql builds queries with Postgres-style $N placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// New wires every store contract to the given pool.
func New(pool *pgxpool.Pool) (store.Stores, error) {
	if pool == nil {
		return store.Stores{}, fmt.Errorf("pgx pool is required")
	}
	return store.Stores{
		Tracking:     &pgTracking{pool: pool},
		Applications: &pgApplications{pool: pool},
		Media:        &pgMedia{pool: pool},
		Activity:     &pgActivity{pool: pool},
		Ratings:      &pgRatings{pool: pool},
		Notes:        &pgNotes{pool: pool},
		Search:       &pgSearch{pool: pool},
		Stages:       &pgStages{pool: pool},
	}, nil
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
