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

// ReservationRepo provides CRUD operations for reservations.  The unique
// key over (user_id, class_id, class_date, active_slot) is the
// authoritative guard against two seat-holding reservations for the same
// occurrence; status changes are conditional updates so that concurrent
// cancels or attendance marks cannot both win.  Dates are stored as DATE
// columns and returned as midnight UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = "id, user_id, class_id, class_date, status, attended, balance_id, payment_id, notes, " +
	"cancelled_at, cancel_reason, created_at, updated_at"

func scanReservation(s scanner) (*model.Reservation, error) {
	var (
		res          model.Reservation
		balanceID    sql.NullInt64
		paymentID    sql.NullInt64
		notes        sql.NullString
		cancelledAt  sql.NullTime
		cancelReason sql.NullString
	)
	err := s.Scan(&res.ID, &res.UserID, &res.ClassID, &res.Date, &res.Status, &res.Attended, &balanceID,
		&paymentID, &notes, &cancelledAt, &cancelReason, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if balanceID.Valid {
		id := uint64(balanceID.Int64)
		res.BalanceID = &id
	}
	if paymentID.Valid {
		id := uint64(paymentID.Int64)
		res.PaymentID = &id
	}
	if notes.Valid {
		n := notes.String
		res.Notes = &n
	}
	if cancelledAt.Valid {
		at := cancelledAt.Time
		res.CancelledAt = &at
	}
	if cancelReason.Valid {
		reason := cancelReason.String
		res.CancelReason = &reason
	}
	return &res, nil
}

// Create inserts a confirmed reservation and populates its ID.  A
// violation of the active-reservation unique key yields
// model.ErrDuplicateBooking.
func (r *ReservationRepo) Create(ctx context.Context, res *model.Reservation) error {
	const q = `INSERT INTO reservations (user_id, class_id, class_date, status, balance_id, payment_id, notes)
               VALUES (?, ?, ?, ?, ?, ?, ?)`
	result, err := r.db.ExecContext(ctx, q, res.UserID, res.ClassID, res.Date.Format(model.DateFormat),
		res.Status, res.BalanceID, res.PaymentID, res.Notes)
	if err != nil {
		if isDuplicateKey(err) {
			return model.ErrDuplicateBooking
		}
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	return nil
}

// GetByID loads a reservation.  model.ErrNotFound is returned for unknown ids.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	res, err := scanReservation(r.db.QueryRowContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return res, err
}

// HasActive reports whether the user already holds a confirmed or
// completed reservation for the occurrence.
func (r *ReservationRepo) HasActive(ctx context.Context, userID, classID uint64, date time.Time) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM reservations
               WHERE user_id = ? AND class_id = ? AND class_date = ? AND status IN ('confirmed','completed'))`
	var exists bool
	err := r.db.QueryRowContext(ctx, q, userID, classID, date.Format(model.DateFormat)).Scan(&exists)
	return exists, err
}

// Transition applies t only while the stored status still equals t.From.
// When nothing matches, the row is re-read to return model.ErrNotFound or
// model.ErrInvalidState.
func (r *ReservationRepo) Transition(ctx context.Context, t model.ReservationTransition) error {
	b := sq.Update("reservations").
		Set("status", t.To).
		Where(sq.Eq{"id": t.ID, "status": t.From})
	if t.Attended != nil {
		b = b.Set("attended", *t.Attended)
	}
	if t.CancelledAt != nil {
		b = b.Set("cancelled_at", *t.CancelledAt)
	}
	if t.CancelReason != nil {
		b = b.Set("cancel_reason", *t.CancelReason)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build transition query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, t.ID); err != nil {
			return err
		}
		return model.ErrInvalidState
	}
	return nil
}

// Detail loads one reservation joined with its class.
func (r *ReservationRepo) Detail(ctx context.Context, id uint64) (*model.ReservationDetail, error) {
	query, args, err := detailSelect().Where(sq.Eq{"r.id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reservation detail query: %w", err)
	}
	d, err := scanDetail(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return d, err
}

// List returns reservations joined with their class, most recent
// occurrence first.
func (r *ReservationRepo) List(ctx context.Context, f model.ReservationFilter) ([]model.ReservationDetail, error) {
	b := detailSelect().OrderBy("r.class_date DESC", "c.start_time", "r.id DESC")
	if f.UserID != nil {
		b = b.Where(sq.Eq{"r.user_id": *f.UserID})
	}
	if f.ClassID != nil {
		b = b.Where(sq.Eq{"r.class_id": *f.ClassID})
	}
	if f.Status != nil {
		b = b.Where(sq.Eq{"r.status": *f.Status})
	}
	if f.Date != nil {
		b = b.Where(sq.Eq{"r.class_date": f.Date.Format(model.DateFormat)})
	}
	if f.FromDate != nil {
		b = b.Where(sq.GtOrEq{"r.class_date": f.FromDate.Format(model.DateFormat)})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reservation list query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ReservationDetail{}
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func detailSelect() sq.SelectBuilder {
	return sq.Select(
		"r.id", "r.user_id", "r.class_id", "r.class_date", "r.status", "r.attended", "r.balance_id",
		"r.cancelled_at", "r.cancel_reason", "r.created_at",
		"c.name", "c.discipline", "c.teacher", "c.day_of_week", "c.start_time", "c.end_time", "c.room",
	).From("reservations r").Join("classes c ON c.id = r.class_id")
}

func scanDetail(s scanner) (*model.ReservationDetail, error) {
	var (
		d            model.ReservationDetail
		date         time.Time
		balanceID    sql.NullInt64
		cancelledAt  sql.NullTime
		cancelReason sql.NullString
	)
	err := s.Scan(&d.ID, &d.UserID, &d.ClassID, &date, &d.Status, &d.Attended, &balanceID,
		&cancelledAt, &cancelReason, &d.CreatedAt,
		&d.ClassName, &d.Discipline, &d.Teacher, &d.DayOfWeek, &d.StartTime, &d.EndTime, &d.Room)
	if err != nil {
		return nil, err
	}
	d.Date = date.Format(model.DateFormat)
	if balanceID.Valid {
		id := uint64(balanceID.Int64)
		d.BalanceID = &id
	}
	if cancelledAt.Valid {
		at := cancelledAt.Time
		d.CancelledAt = &at
	}
	if cancelReason.Valid {
		reason := cancelReason.String
		d.CancelReason = &reason
	}
	return &d, nil
}

// Stats aggregates reservation counts for the admin dashboard.  Upcoming
// counts confirmed reservations dated today or later.
func (r *ReservationRepo) Stats(ctx context.Context, today time.Time) (model.BookingStats, error) {
	stats := model.BookingStats{PopularClasses: []model.PopularClass{}}

	query, args, err := sq.Select("status", "COUNT(*)").From("reservations").GroupBy("status").ToSql()
	if err != nil {
		return stats, fmt.Errorf("build status count query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var (
			status model.ReservationStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return stats, err
		}
		stats.Total += count
		switch status {
		case model.StatusConfirmed:
			stats.Confirmed = count
		case model.StatusCompleted:
			stats.Completed = count
		case model.StatusCancelled:
			stats.Cancelled = count
		case model.StatusNoShow:
			stats.NoShow = count
		}
	}
	if err := rows.Close(); err != nil {
		return stats, err
	}

	query, args, err = sq.Select("COUNT(*)").From("reservations").
		Where(sq.Eq{"status": model.StatusConfirmed}).
		Where(sq.GtOrEq{"class_date": today.Format(model.DateFormat)}).
		ToSql()
	if err != nil {
		return stats, fmt.Errorf("build upcoming count query: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&stats.Upcoming); err != nil {
		return stats, err
	}

	query, args, err = sq.Select("c.id", "c.name", "c.discipline", "COUNT(*) AS bookings").
		From("reservations r").Join("classes c ON c.id = r.class_id").
		Where(sq.Eq{"r.status": []model.ReservationStatus{model.StatusConfirmed, model.StatusCompleted}}).
		GroupBy("c.id", "c.name", "c.discipline").
		OrderBy("bookings DESC", "c.id").
		Limit(5).
		ToSql()
	if err != nil {
		return stats, fmt.Errorf("build popular classes query: %w", err)
	}
	rows, err = r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var p model.PopularClass
		if err := rows.Scan(&p.ClassID, &p.ClassName, &p.Discipline, &p.Count); err != nil {
			return stats, err
		}
		stats.PopularClasses = append(stats.PopularClasses, p)
	}
	return stats, rows.Err()
}
