package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/omarfaruk-dev/tutorcal/libs/db"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/model"
)

type BlackoutRepository struct {
	pool *db.Pool
}

func NewBlackoutRepository(pool *db.Pool) *BlackoutRepository {
	return &BlackoutRepository{pool: pool}
}

// Add inserts a full-day override. A second insert for the same
// (instructor, date) returns model.ErrDuplicateBlackout rather than the raw
// unique-violation error.
func (r *BlackoutRepository) Add(ctx context.Context, b model.BlackoutDate) (model.BlackoutDate, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO blackout_dates (id, instructor_id, day, reason)
		VALUES ($1, $2, $3::date, $4)
		RETURNING created_at
	`, b.ID, b.InstructorID, model.DateKey(b.Day), b.Reason).Scan(&b.CreatedAt)
	if err != nil {
		if IsDuplicate(err) {
			return model.BlackoutDate{}, model.ErrDuplicateBlackout
		}
		return model.BlackoutDate{}, err
	}
	return b, nil
}

func (r *BlackoutRepository) List(ctx context.Context, instructorID string) ([]model.BlackoutDate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, instructor_id::text, day, reason, created_at
		FROM blackout_dates
		WHERE instructor_id = $1
		ORDER BY day
	`, instructorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BlackoutDate
	for rows.Next() {
		var b model.BlackoutDate
		if err := rows.Scan(&b.ID, &b.InstructorID, &b.Day, &b.Reason, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *BlackoutRepository) Delete(ctx context.Context, instructorID string, day time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM blackout_dates
		WHERE instructor_id = $1 AND day = $2::date
	`, instructorID, model.DateKey(day))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
