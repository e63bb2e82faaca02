package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/omarfaruk-dev/tutorcal/libs/db"
	"github.com/omarfaruk-dev/tutorcal/services/availability-service/internal/model"
)

// AvailabilityRepository persists per-(instructor, date) day rows and their
// materialized slot rows. Every multi-row mutation is a single statement over
// arrays, so round trips stay bounded regardless of the date range.
type AvailabilityRepository struct {
	pool *db.Pool
}

func NewAvailabilityRepository(pool *db.Pool) *AvailabilityRepository {
	return &AvailabilityRepository{pool: pool}
}

func (r *AvailabilityRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// GetDaysForUpdate reads and row-locks the day rows for the given dates.
// Dates with no row yet are simply absent from the result.
func (r *AvailabilityRepository) GetDaysForUpdate(ctx context.Context, tx pgx.Tx, instructorID string, dates []time.Time) ([]model.AvailabilityDay, error) {
	rows, err := tx.Query(ctx, `
		SELECT instructor_id::text, day, bitmask, version, updated_at
		FROM availability_days
		WHERE instructor_id = $1 AND day = ANY($2::date[])
		ORDER BY day
		FOR UPDATE
	`, instructorID, dateStrings(dates))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDays(rows)
}

func (r *AvailabilityRepository) GetDaysRange(ctx context.Context, instructorID string, from, to time.Time) ([]model.AvailabilityDay, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT instructor_id::text, day, bitmask, version, updated_at
		FROM availability_days
		WHERE instructor_id = $1 AND day >= $2 AND day < $3
		ORDER BY day
	`, instructorID, model.DateKey(from), model.DateKey(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDays(rows)
}

// GetOrCreateDay returns the day row, creating an all-clear one on first
// touch of that date.
func (r *AvailabilityRepository) GetOrCreateDay(ctx context.Context, instructorID string, day time.Time) (model.AvailabilityDay, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_days (instructor_id, day, bitmask, version)
		VALUES ($1, $2::date, ''::bytea, '')
		ON CONFLICT (instructor_id, day) DO NOTHING
	`, instructorID, model.DateKey(day))
	if err != nil {
		return model.AvailabilityDay{}, err
	}

	var d model.AvailabilityDay
	err = r.pool.QueryRow(ctx, `
		SELECT instructor_id::text, day, bitmask, version, updated_at
		FROM availability_days
		WHERE instructor_id = $1 AND day = $2::date
	`, instructorID, model.DateKey(day)).Scan(&d.InstructorID, &d.Day, &d.Bitmask, &d.Version, &d.UpdatedAt)
	return d, err
}

// UpsertDays writes all day rows in one statement.
func (r *AvailabilityRepository) UpsertDays(ctx context.Context, tx pgx.Tx, days []model.AvailabilityDay) error {
	if len(days) == 0 {
		return nil
	}
	instructorIDs := make([]string, len(days))
	dates := make([]string, len(days))
	masks := make([][]byte, len(days))
	versions := make([]string, len(days))
	for i, d := range days {
		instructorIDs[i] = d.InstructorID
		dates[i] = model.DateKey(d.Day)
		masks[i] = d.Bitmask
		versions[i] = d.Version
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO availability_days (instructor_id, day, bitmask, version)
		SELECT unnest($1::text[]), unnest($2::date[]), unnest($3::bytea[]), unnest($4::text[])
		ON CONFLICT (instructor_id, day) DO UPDATE
		SET bitmask = EXCLUDED.bitmask,
			version = EXCLUDED.version,
			updated_at = now()
	`, instructorIDs, dates, masks, versions)
	return err
}

func (r *AvailabilityRepository) GetSlots(ctx context.Context, instructorID string, dates []time.Time) ([]model.SlotRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, instructor_id::text, day, start_minute, end_minute, created_at
		FROM availability_slots
		WHERE instructor_id = $1 AND day = ANY($2::date[])
		ORDER BY day, start_minute
	`, instructorID, dateStrings(dates))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSlots(rows)
}

// BulkCreateSlots inserts all slot rows in one statement and returns the
// number created.
func (r *AvailabilityRepository) BulkCreateSlots(ctx context.Context, tx pgx.Tx, slots []model.SlotRecord) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}
	instructorIDs := make([]string, len(slots))
	dates := make([]string, len(slots))
	starts := make([]int32, len(slots))
	ends := make([]int32, len(slots))
	for i, s := range slots {
		instructorIDs[i] = s.InstructorID
		dates[i] = model.DateKey(s.Day)
		starts[i] = int32(s.StartMinute)
		ends[i] = int32(s.EndMinute)
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO availability_slots (instructor_id, day, start_minute, end_minute)
		SELECT unnest($1::text[]), unnest($2::date[]), unnest($3::int[]), unnest($4::int[])
	`, instructorIDs, dates, starts, ends)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *AvailabilityRepository) BulkDeleteSlots(ctx context.Context, tx pgx.Tx, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := tx.Exec(ctx, `
		DELETE FROM availability_slots
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *AvailabilityRepository) DeleteSlotsByDates(ctx context.Context, tx pgx.Tx, instructorID string, dates []time.Time) (int64, error) {
	if len(dates) == 0 {
		return 0, nil
	}
	tag, err := tx.Exec(ctx, `
		DELETE FROM availability_slots
		WHERE instructor_id = $1 AND day = ANY($2::date[])
	`, instructorID, dateStrings(dates))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteNonBookedSlots removes the slot rows for the dates except those whose
// id appears in bookedIDs, reconciling a day after an edit without touching
// booked time.
func (r *AvailabilityRepository) DeleteNonBookedSlots(ctx context.Context, tx pgx.Tx, instructorID string, dates []time.Time, bookedIDs []int64) (int64, error) {
	if len(dates) == 0 {
		return 0, nil
	}
	if bookedIDs == nil {
		bookedIDs = []int64{}
	}
	tag, err := tx.Exec(ctx, `
		DELETE FROM availability_slots
		WHERE instructor_id = $1
			AND day = ANY($2::date[])
			AND NOT (id = ANY($3))
	`, instructorID, dateStrings(dates), bookedIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanDays(rows pgx.Rows) ([]model.AvailabilityDay, error) {
	var out []model.AvailabilityDay
	for rows.Next() {
		var d model.AvailabilityDay
		if err := rows.Scan(&d.InstructorID, &d.Day, &d.Bitmask, &d.Version, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanSlots(rows pgx.Rows) ([]model.SlotRecord, error) {
	var out []model.SlotRecord
	for rows.Next() {
		var s model.SlotRecord
		if err := rows.Scan(&s.ID, &s.InstructorID, &s.Day, &s.StartMinute, &s.EndMinute, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func dateStrings(dates []time.Time) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = model.DateKey(d)
	}
	return out
}

func IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
