package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/iliyamo/studio-booking/internal/model"
)

// ClassRepo stores class sessions and owns the capacity ledger.  The
// current_enrollment column is only changed by ReserveSeat and ReleaseSeat,
// each a single conditional UPDATE, so the invariant
// 0 <= current_enrollment <= max_capacity holds with any number of server
// instances and without in-process locks.
type ClassRepo struct {
	db *sql.DB
}

// NewClassRepo returns a new ClassRepo bound to the given database.
func NewClassRepo(db *sql.DB) *ClassRepo { return &ClassRepo{db: db} }

const classColumns = "id, name, discipline, age_group, level, teacher, day_of_week, start_time, end_time, " +
	"duration_minutes, room, max_capacity, current_enrollment, price_cents, description, is_active, created_at, updated_at"

func scanClass(s scanner) (*model.ClassSession, error) {
	var (
		c    model.ClassSession
		desc sql.NullString
	)
	err := s.Scan(&c.ID, &c.Name, &c.Discipline, &c.AgeGroup, &c.Level, &c.Teacher, &c.DayOfWeek,
		&c.StartTime, &c.EndTime, &c.DurationMinutes, &c.Room, &c.MaxCapacity, &c.CurrentEnrollment,
		&c.PriceCents, &desc, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if desc.Valid {
		d := desc.String
		c.Description = &d
	}
	return &c, nil
}

// Create inserts a class.  MaxCapacity must already be derived from the
// room.  A clash on (day_of_week, start_time, room) yields
// model.ErrDuplicateSlot.
func (r *ClassRepo) Create(ctx context.Context, c *model.ClassSession) error {
	const q = `INSERT INTO classes (name, discipline, age_group, level, teacher, day_of_week, start_time, end_time,
               duration_minutes, room, max_capacity, price_cents, description, is_active)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, c.Name, c.Discipline, c.AgeGroup, c.Level, c.Teacher, c.DayOfWeek,
		c.StartTime, c.EndTime, c.DurationMinutes, c.Room, c.MaxCapacity, c.PriceCents, c.Description, c.IsActive)
	if err != nil {
		if isDuplicateKey(err) {
			return model.ErrDuplicateSlot
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = uint64(id)
	c.CurrentEnrollment = 0
	return nil
}

// GetByID loads a class.  model.ErrNotFound is returned for unknown ids.
func (r *ClassRepo) GetByID(ctx context.Context, id uint64) (*model.ClassSession, error) {
	c, err := scanClass(r.db.QueryRowContext(ctx, "SELECT "+classColumns+" FROM classes WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return c, err
}

// List returns classes matching f ordered by weekday and start time.
func (r *ClassRepo) List(ctx context.Context, f model.ClassFilter) ([]model.ClassSession, error) {
	b := sq.Select(classColumns).From("classes").
		OrderBy("FIELD(day_of_week,'monday','tuesday','wednesday','thursday','friday','saturday','sunday')", "start_time", "room")
	if f.Discipline != nil {
		b = b.Where(sq.Eq{"discipline": *f.Discipline})
	}
	if f.DayOfWeek != nil {
		b = b.Where(sq.Eq{"day_of_week": *f.DayOfWeek})
	}
	if f.Level != nil {
		b = b.Where(sq.Eq{"level": *f.Level})
	}
	if f.IsActive != nil {
		b = b.Where(sq.Eq{"is_active": *f.IsActive})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build class list query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ClassSession{}
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Update overwrites the editable attributes of a class.  The enrollment
// counter is never written here; the capacity guard in the WHERE clause
// refuses a room change that would leave more seats taken than exist.
func (r *ClassRepo) Update(ctx context.Context, c *model.ClassSession) error {
	const q = `UPDATE classes SET name = ?, discipline = ?, age_group = ?, level = ?, teacher = ?, day_of_week = ?,
               start_time = ?, end_time = ?, duration_minutes = ?, room = ?, max_capacity = ?, price_cents = ?,
               description = ?, is_active = ?
               WHERE id = ? AND current_enrollment <= ?`
	res, err := r.db.ExecContext(ctx, q, c.Name, c.Discipline, c.AgeGroup, c.Level, c.Teacher, c.DayOfWeek,
		c.StartTime, c.EndTime, c.DurationMinutes, c.Room, c.MaxCapacity, c.PriceCents, c.Description, c.IsActive,
		c.ID, c.MaxCapacity)
	if err != nil {
		if isDuplicateKey(err) {
			return model.ErrDuplicateSlot
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, c.ID); err != nil {
			return err
		}
		return model.ErrCapacityBelowEnrollment
	}
	return nil
}

const upcomingBookingsQ = `SELECT COUNT(*) FROM reservations WHERE class_id = ? AND status = 'confirmed' AND class_date >= ?`

// HasUpcomingBookings reports whether confirmed reservations exist for an
// occurrence of the class on or after today.
func (r *ClassRepo) HasUpcomingBookings(ctx context.Context, id uint64, today time.Time) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, upcomingBookingsQ, id, today.Format(model.DateFormat)).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes a class unless confirmed reservations exist for an
// occurrence on or after today.  Classes with past reservations cannot be
// removed without losing booking history, so they are deactivated instead.
// The returned flag reports whether the row was physically deleted.
func (r *ClassRepo) Delete(ctx context.Context, id uint64, today time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var exists uint64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM classes WHERE id = ? FOR UPDATE", id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, model.ErrNotFound
		}
		return false, err
	}
	var active int
	if err := tx.QueryRowContext(ctx, upcomingBookingsQ, id, today.Format(model.DateFormat)).Scan(&active); err != nil {
		return false, err
	}
	if active > 0 {
		return false, model.ErrHasActiveBookings
	}

	deleted := true
	if _, err := tx.ExecContext(ctx, "DELETE FROM classes WHERE id = ?", id); err != nil {
		if !isMySQLError(err, mysqlRowIsReferenced) {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE classes SET is_active = 0 WHERE id = ?", id); err != nil {
			return false, err
		}
		deleted = false
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	return deleted, nil
}

// ReserveSeat takes one seat of the class in a single conditional update.
// When no row matches, the class is re-read only to pick the right error:
// model.ErrNotFound, model.ErrClassInactive or model.ErrCapacityExceeded.
func (r *ClassRepo) ReserveSeat(ctx context.Context, classID uint64) error {
	const q = `UPDATE classes SET current_enrollment = current_enrollment + 1
               WHERE id = ? AND is_active = 1 AND current_enrollment < max_capacity`
	res, err := r.db.ExecContext(ctx, q, classID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	c, err := r.GetByID(ctx, classID)
	if err != nil {
		return err
	}
	if !c.IsActive {
		return model.ErrClassInactive
	}
	return model.ErrCapacityExceeded
}

// ReleaseSeat gives one seat back, floored at zero.  Releasing a class
// whose counter is already zero is not an error.
func (r *ClassRepo) ReleaseSeat(ctx context.Context, classID uint64) error {
	const q = `UPDATE classes SET current_enrollment = current_enrollment - 1
               WHERE id = ? AND current_enrollment > 0`
	res, err := r.db.ExecContext(ctx, q, classID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, classID); err != nil {
			return err
		}
	}
	return nil
}
