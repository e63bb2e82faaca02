package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/omarfaruk-dev/tutorcal/libs/db"
)

type InstructorRepository struct {
	pool *db.Pool
}

func NewInstructorRepository(pool *db.Pool) *InstructorRepository {
	return &InstructorRepository{pool: pool}
}

// Timezone returns the instructor's stored zone name. An unknown instructor
// yields an empty string so callers fall back to the default zone instead of
// failing the request.
func (r *InstructorRepository) Timezone(ctx context.Context, instructorID string) (string, error) {
	var tz string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(timezone, '')
		FROM instructors
		WHERE id = $1
	`, instructorID).Scan(&tz)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return tz, nil
}
