package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/omarfaruk-dev/tutorcal/libs/db"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/model"
)

// BookingRepository is the read-only booking-lookup collaborator. Bookings
// are owned by the booking flow; this core only ever inspects them.
type BookingRepository struct {
	pool *db.Pool
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

// ListForDates fetches every booking on the given dates in one query.
func (r *BookingRepository) ListForDates(ctx context.Context, instructorID string, dates []time.Time) ([]model.Booking, error) {
	if len(dates) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, instructor_id::text, slot_id, day, start_minute, end_minute, status, created_at
		FROM bookings
		WHERE instructor_id = $1
			AND day = ANY($2::date[])
			AND status <> 'canceled'
		ORDER BY day, start_minute
	`, instructorID, dateStrings(dates))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookings(rows)
}

// ListForRange fetches every booking in [from, to) in one query, used by the
// bulk pattern operations so round trips stay independent of range length.
func (r *BookingRepository) ListForRange(ctx context.Context, instructorID string, from, to time.Time) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, instructor_id::text, slot_id, day, start_minute, end_minute, status, created_at
		FROM bookings
		WHERE instructor_id = $1
			AND day >= $2::date
			AND day < $3::date
			AND status <> 'canceled'
		ORDER BY day, start_minute
	`, instructorID, model.DateKey(from), model.DateKey(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookings(rows)
}

func scanBookings(rows pgx.Rows) ([]model.Booking, error) {
	var out []model.Booking
	for rows.Next() {
		var b model.Booking
		if err := rows.Scan(&b.ID, &b.InstructorID, &b.SlotID, &b.Day, &b.StartMinute, &b.EndMinute, &b.Status, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
