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

// PaymentRepo stores payment records.  The gateway's confirmation reaches
// the application as a status change from pending to completed or failed.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a new PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

const paymentColumns = "id, user_id, amount_cents, currency, method, status, gateway_ref, description, completed_at, created_at, updated_at"

func scanPayment(s scanner) (*model.Payment, error) {
	var (
		p           model.Payment
		gatewayRef  sql.NullString
		desc        sql.NullString
		completedAt sql.NullTime
	)
	err := s.Scan(&p.ID, &p.UserID, &p.AmountCents, &p.Currency, &p.Method, &p.Status, &gatewayRef, &desc,
		&completedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if gatewayRef.Valid {
		g := gatewayRef.String
		p.GatewayRef = &g
	}
	if desc.Valid {
		d := desc.String
		p.Description = &d
	}
	if completedAt.Valid {
		at := completedAt.Time
		p.CompletedAt = &at
	}
	return &p, nil
}

// Create inserts a payment and populates its ID.  Payments recorded by an
// administrator are created completed and carry CompletedAt.
func (r *PaymentRepo) Create(ctx context.Context, p *model.Payment) error {
	const q = `INSERT INTO payments (user_id, amount_cents, currency, method, status, description, completed_at)
               VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, p.UserID, p.AmountCents, p.Currency, p.Method, p.Status, p.Description, p.CompletedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

// GetByID loads a payment.
func (r *PaymentRepo) GetByID(ctx context.Context, id uint64) (*model.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return p, err
}

// ListByUser returns the user's payments, newest first.
func (r *PaymentRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Payment, error) {
	return r.List(ctx, model.PaymentFilter{UserID: &userID})
}

// List returns payments matching f, newest first.
func (r *PaymentRepo) List(ctx context.Context, f model.PaymentFilter) ([]model.Payment, error) {
	b := sq.Select(paymentColumns).From("payments").OrderBy("created_at DESC", "id DESC")
	if f.UserID != nil {
		b = b.Where(sq.Eq{"user_id": *f.UserID})
	}
	if f.Status != nil {
		b = b.Where(sq.Eq{"status": *f.Status})
	}
	if f.From != nil {
		b = b.Where(sq.GtOrEq{"created_at": *f.From})
	}
	if f.To != nil {
		b = b.Where(sq.Lt{"created_at": *f.To})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build payment list query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Stats totals completed revenue, counts payments per status and breaks
// revenue down by the twelve most recent months that had any.
func (r *PaymentRepo) Stats(ctx context.Context) (model.PaymentStats, error) {
	st := model.PaymentStats{Monthly: []model.MonthlyRevenue{}}
	const totalsQ = `SELECT
  COALESCE(SUM(CASE WHEN status = 'completed' THEN amount_cents ELSE 0 END), 0),
  COALESCE(SUM(status = 'pending'), 0),
  COALESCE(SUM(status = 'completed'), 0),
  COALESCE(SUM(status = 'failed'), 0)
FROM payments`
	if err := r.db.QueryRowContext(ctx, totalsQ).Scan(&st.TotalRevenueCents, &st.Pending, &st.Completed, &st.Failed); err != nil {
		return st, err
	}

	query, args, err := sq.Select("YEAR(completed_at) AS y", "MONTH(completed_at) AS m",
		"SUM(amount_cents)", "COUNT(*)").
		From("payments").
		Where(sq.Eq{"status": model.PaymentCompleted}).
		Where(sq.NotEq{"completed_at": nil}).
		GroupBy("y", "m").
		OrderBy("y DESC", "m DESC").
		Limit(12).
		ToSql()
	if err != nil {
		return st, fmt.Errorf("build monthly revenue query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var m model.MonthlyRevenue
		if err := rows.Scan(&m.Year, &m.Month, &m.RevenueCents, &m.Count); err != nil {
			return st, err
		}
		st.Monthly = append(st.Monthly, m)
	}
	return st, rows.Err()
}

// Settle moves a pending payment to completed or failed.  Payments that
// are no longer pending yield model.ErrInvalidState.
func (r *PaymentRepo) Settle(ctx context.Context, id uint64, to model.PaymentStatus, gatewayRef *string, now time.Time) error {
	b := sq.Update("payments").
		Set("status", to).
		Where(sq.Eq{"id": id, "status": model.PaymentPending})
	if gatewayRef != nil {
		b = b.Set("gateway_ref", *gatewayRef)
	}
	if to == model.PaymentCompleted {
		b = b.Set("completed_at", now)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build settle query: %w", err)
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
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return model.ErrInvalidState
	}
	return nil
}
