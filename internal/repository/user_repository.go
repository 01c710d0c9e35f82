package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/utils"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// NewUser carries the fields needed to register an account.
type NewUser struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     *string
	Role      string
}

const userColumns = "id, email, password_hash, first_name, last_name, phone, emergency_name, emergency_phone, role, is_active, created_at, updated_at"

func scanUser(s scanner) (model.User, error) {
	var (
		u                    model.User
		phone, eName, ePhone sql.NullString
	)
	err := s.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &phone, &eName, &ePhone,
		&u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	u.Phone = nullString(phone)
	u.EmergencyName = nullString(eName)
	u.EmergencyPhone = nullString(ePhone)
	return u, err
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// Create hashes the password, inserts the user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, nu NewUser, cost int) (uint64, error) {
	email := strings.ToLower(strings.TrimSpace(nu.Email))
	hash, err := utils.HashPassword(nu.Password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, first_name, last_name, phone, role) VALUES (?,?,?,?,?,?)",
		email, hash, strings.TrimSpace(nu.FirstName), strings.TrimSpace(nu.LastName), nu.Phone, nu.Role)
	if err != nil {
		if isDuplicateKey(err) {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
	if errors.Is(err, sql.ErrNoRows) {
		return u, model.ErrNotFound
	}
	return u, err
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return u, model.ErrNotFound
	}
	return u, err
}

// ProfileUpdate lists the profile fields a user may change.  Nil fields
// are left untouched.
type ProfileUpdate struct {
	FirstName      *string
	LastName       *string
	Phone          *string
	EmergencyName  *string
	EmergencyPhone *string
}

// UpdateProfile applies p to the user's row.
func (r *UserRepo) UpdateProfile(ctx context.Context, id uint64, p ProfileUpdate) error {
	var (
		sets []string
		args []any
	)
	add := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+"=?")
			args = append(args, strings.TrimSpace(*v))
		}
	}
	add("first_name", p.FirstName)
	add("last_name", p.LastName)
	add("phone", p.Phone)
	add("emergency_name", p.EmergencyName)
	add("emergency_phone", p.EmergencyPhone)
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, "UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id=?", args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// PromoteToAdmin sets the ADMIN role on an existing account.
func (r *UserRepo) PromoteToAdmin(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET role=? WHERE id=?", model.RoleAdmin, id)
	return err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// List returns users matching f, newest accounts first.
func (r *UserRepo) List(ctx context.Context, f model.UserFilter) ([]model.User, error) {
	b := sq.Select(userColumns).From("users").OrderBy("created_at DESC", "id DESC")
	if f.Role != nil {
		b = b.Where(sq.Eq{"role": *f.Role})
	}
	if f.Active != nil {
		b = b.Where(sq.Eq{"is_active": *f.Active})
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + likeEscaper.Replace(s) + "%"
		b = b.Where(sq.Or{
			sq.Like{"first_name": like},
			sq.Like{"last_name": like},
			sq.Like{"email": like},
		})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user list query: %w", err)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// AdminUserUpdate is what an administrator may change on any account.
type AdminUserUpdate struct {
	ProfileUpdate
	Role     *string
	IsActive *bool
}

// AdminUpdate applies u to the user's row.  Nil fields are left untouched.
func (r *UserRepo) AdminUpdate(ctx context.Context, id uint64, u AdminUserUpdate) error {
	b := sq.Update("users").Where(sq.Eq{"id": id})
	changed := false
	set := func(col string, v any) {
		b = b.Set(col, v)
		changed = true
	}
	for _, f := range []struct {
		col string
		v   *string
	}{
		{"first_name", u.FirstName},
		{"last_name", u.LastName},
		{"phone", u.Phone},
		{"emergency_name", u.EmergencyName},
		{"emergency_phone", u.EmergencyPhone},
	} {
		if f.v != nil {
			set(f.col, strings.TrimSpace(*f.v))
		}
	}
	if u.Role != nil {
		set("role", *u.Role)
	}
	if u.IsActive != nil {
		set("is_active", *u.IsActive)
	}
	if !changed {
		_, err := r.GetByID(ctx, id)
		return err
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build user update query: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// UpdatePassword hashes plain and stores it as the user's password.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, plain string, cost int) error {
	hash, err := utils.HashPassword(plain, cost)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, "UPDATE users SET password_hash=? WHERE id=?", hash, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// Delete removes an account unless it holds confirmed reservations for an
// occurrence on or after today.  Accounts with booking or payment history
// are deactivated instead and their refresh tokens revoked.  The returned
// flag reports whether the row was physically deleted.
func (r *UserRepo) Delete(ctx context.Context, id uint64, today time.Time) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
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
	if err := tx.QueryRowContext(ctx, "SELECT id FROM users WHERE id = ? FOR UPDATE", id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, model.ErrNotFound
		}
		return false, err
	}
	var active int
	const countQ = `SELECT COUNT(*) FROM reservations WHERE user_id = ? AND status = 'confirmed' AND class_date >= ?`
	if err := tx.QueryRowContext(ctx, countQ, id, today.Format(model.DateFormat)).Scan(&active); err != nil {
		return false, err
	}
	if active > 0 {
		return false, model.ErrHasActiveBookings
	}

	deleted := true
	if _, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id); err != nil {
		if !isMySQLError(err, mysqlRowIsReferenced) {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE users SET is_active = 0 WHERE id = ?", id); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE refresh_tokens SET revoked_at=UTC_TIMESTAMP() WHERE user_id=? AND revoked_at IS NULL", id); err != nil {
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

// Stats counts the user's reservations per status and sums the payments
// that completed.
func (r *UserRepo) Stats(ctx context.Context, id uint64) (model.UserStats, error) {
	st := model.UserStats{Bookings: map[model.ReservationStatus]int{}}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM reservations WHERE user_id = ? GROUP BY status", id)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status model.ReservationStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		st.Bookings[status] = n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}
	err = r.DB.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount_cents), 0) FROM payments WHERE user_id = ? AND status = 'completed'",
		id).Scan(&st.TotalPaidCents)
	return st, err
}

// Overview computes the admin dashboard.  today is the studio date and
// monthStart the first instant of the current month, both in UTC.
func (r *UserRepo) Overview(ctx context.Context, today, monthStart time.Time) (model.StudioOverview, error) {
	const q = `SELECT
  (SELECT COUNT(*) FROM users WHERE role = 'STUDENT'),
  (SELECT COUNT(*) FROM users WHERE role = 'STUDENT' AND is_active = 1),
  (SELECT COUNT(*) FROM users WHERE role = 'STUDENT' AND created_at >= ?),
  (SELECT COUNT(*) FROM reservations),
  (SELECT COUNT(*) FROM reservations WHERE status = 'confirmed' AND class_date >= ?),
  (SELECT COALESCE(SUM(amount_cents), 0) FROM payments WHERE status = 'completed'),
  (SELECT COALESCE(SUM(amount_cents), 0) FROM payments WHERE status = 'completed' AND completed_at >= ?)`
	var o model.StudioOverview
	err := r.DB.QueryRowContext(ctx, q, monthStart, today.Format(model.DateFormat), monthStart).Scan(
		&o.TotalStudents, &o.ActiveStudents, &o.NewStudentsThisMonth,
		&o.TotalBookings, &o.UpcomingBookings,
		&o.TotalRevenueCents, &o.ThisMonthRevenueCents)
	return o, err
}
