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

// DefaultCASAttempts bounds the optimistic retry loop of ConsumeOne and
// RefundOne before ErrConflict is returned.
const DefaultCASAttempts = 5

// BalanceRepo stores purchased package balances.  Counter updates are
// compare-and-swap writes guarded by the version column: a row is read,
// changed in memory through model.PackageBalance and written back only if
// no one else wrote it in between.  The status column is a cache of
// model.PackageBalance.EffectiveStatus and is corrected whenever a read
// finds it stale.
type BalanceRepo struct {
	db          *sql.DB
	maxAttempts int
}

// NewBalanceRepo returns a new BalanceRepo bound to the given database.
func NewBalanceRepo(db *sql.DB) *BalanceRepo {
	return &BalanceRepo{db: db, maxAttempts: DefaultCASAttempts}
}

const balanceColumns = "id, user_id, package_id, payment_id, total_classes, used_classes, remaining_classes, " +
	"purchase_date, expiry_date, status, is_default, version, created_at, updated_at"

func scanBalance(s scanner) (*model.PackageBalance, error) {
	var (
		b         model.PackageBalance
		paymentID sql.NullInt64
	)
	err := s.Scan(&b.ID, &b.UserID, &b.PackageID, &paymentID, &b.TotalClasses, &b.UsedClasses,
		&b.RemainingClasses, &b.PurchaseDate, &b.ExpiryDate, &b.Status, &b.IsDefault, &b.Version,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if paymentID.Valid {
		p := uint64(paymentID.Int64)
		b.PaymentID = &p
	}
	return &b, nil
}

// lockOwner takes the owning user's row lock.  Every transaction that
// reads or rewrites several balances of one user takes it first, so two
// of them never wait on each other's balance row or gap locks.
func lockOwner(ctx context.Context, tx *sql.Tx, userID uint64) error {
	var id uint64
	err := tx.QueryRowContext(ctx, "SELECT id FROM users WHERE id = ? FOR UPDATE", userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

// Create inserts a new balance.  When the user holds no other usable
// balance the new one becomes the default.  A payment already linked to a
// balance yields model.ErrPaymentAlreadyUsed.
func (r *BalanceRepo) Create(ctx context.Context, b *model.PackageBalance) error {
	return retryOnDeadlock(func() error { return r.create(ctx, b) })
}

func (r *BalanceRepo) create(ctx context.Context, b *model.PackageBalance) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := lockOwner(ctx, tx, b.UserID); err != nil {
		return err
	}
	var usable int
	const countQ = `SELECT COUNT(*) FROM package_balances
                    WHERE user_id = ? AND status = 'active' AND remaining_classes > 0 AND expiry_date > ?`
	if err := tx.QueryRowContext(ctx, countQ, b.UserID, b.PurchaseDate).Scan(&usable); err != nil {
		return err
	}
	b.IsDefault = usable == 0

	const q = `INSERT INTO package_balances (user_id, package_id, payment_id, total_classes, used_classes,
               remaining_classes, purchase_date, expiry_date, status, is_default)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, b.UserID, b.PackageID, b.PaymentID, b.TotalClasses, b.UsedClasses,
		b.RemainingClasses, b.PurchaseDate, b.ExpiryDate, b.Status, b.IsDefault)
	if err != nil {
		if isDuplicateKey(err) {
			return model.ErrPaymentAlreadyUsed
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	b.ID = uint64(id)
	return nil
}

func (r *BalanceRepo) get(ctx context.Context, id uint64) (*model.PackageBalance, error) {
	b, err := scanBalance(r.db.QueryRowContext(ctx, "SELECT "+balanceColumns+" FROM package_balances WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return b, err
}

// correct writes the effective status back when the cached one is stale.
// It is best effort: a failed write leaves a stale cache that the next read
// corrects again.
func (r *BalanceRepo) correct(ctx context.Context, b *model.PackageBalance, now time.Time) {
	eff := b.EffectiveStatus(now)
	if eff == b.Status {
		return
	}
	_, err := r.db.ExecContext(ctx,
		"UPDATE package_balances SET status = ? WHERE id = ? AND version = ?", eff, b.ID, b.Version)
	if err == nil {
		b.Status = eff
	}
}

// GetByID loads a balance and corrects its status as of now.
func (r *BalanceRepo) GetByID(ctx context.Context, id uint64, now time.Time) (*model.PackageBalance, error) {
	b, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.correct(ctx, b, now)
	b.Status = b.EffectiveStatus(now)
	return b, nil
}

// ListByUser returns the user's balances, newest first.  A non-nil status
// filters on the effective status, not the stored one.
func (r *BalanceRepo) ListByUser(ctx context.Context, userID uint64, status *model.BalanceStatus, now time.Time) ([]model.PackageBalance, error) {
	query, args, err := sq.Select(balanceColumns).From("package_balances").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("purchase_date DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build balance list query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var all []*model.PackageBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		all = append(all, b)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := []model.PackageBalance{}
	for _, b := range all {
		r.correct(ctx, b, now)
		b.Status = b.EffectiveStatus(now)
		if status != nil && b.Status != *status {
			continue
		}
		out = append(out, *b)
	}
	return out, nil
}

// ActiveForUser returns the balance a booking should draw from: the
// default balance when it is usable, else the most recently purchased
// usable one.  model.ErrNotFound is returned when the user has none.
func (r *BalanceRepo) ActiveForUser(ctx context.Context, userID uint64, now time.Time) (*model.PackageBalance, error) {
	active := model.BalanceActive
	list, err := r.ListByUser(ctx, userID, &active, now)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, model.ErrNotFound
	}
	for i := range list {
		if list[i].IsDefault {
			return &list[i], nil
		}
	}
	return &list[0], nil
}

// SetDefault makes balanceID the user's only default balance.
func (r *BalanceRepo) SetDefault(ctx context.Context, userID, balanceID uint64, now time.Time) error {
	return retryOnDeadlock(func() error { return r.setDefault(ctx, userID, balanceID, now) })
}

func (r *BalanceRepo) setDefault(ctx context.Context, userID, balanceID uint64, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := lockOwner(ctx, tx, userID); err != nil {
		return err
	}

	b, err := scanBalance(tx.QueryRowContext(ctx,
		"SELECT "+balanceColumns+" FROM package_balances WHERE id = ? FOR UPDATE", balanceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrNotFound
		}
		return err
	}
	if b.UserID != userID {
		return model.ErrForbidden
	}
	switch b.EffectiveStatus(now) {
	case model.BalanceExpired:
		return model.ErrBalanceExpired
	case model.BalanceDepleted:
		return model.ErrBalanceDepleted
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE package_balances SET is_default = 0 WHERE user_id = ? AND id <> ?", userID, balanceID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE package_balances SET is_default = 1 WHERE id = ?", balanceID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ConsumeOne takes one class from the balance.  It fails with
// model.ErrBalanceExpired or model.ErrBalanceDepleted without writing the
// counters, and with ErrConflict when concurrent writers keep winning.
func (r *BalanceRepo) ConsumeOne(ctx context.Context, balanceID uint64, now time.Time) (*model.PackageBalance, error) {
	return r.mutate(ctx, balanceID, now, func(b *model.PackageBalance) (bool, error) {
		if err := b.Consume(now); err != nil {
			return false, err
		}
		return true, nil
	})
}

// RefundOne gives one class back.  A balance with nothing consumed is left
// as it is.
func (r *BalanceRepo) RefundOne(ctx context.Context, balanceID uint64, now time.Time) (*model.PackageBalance, error) {
	return r.mutate(ctx, balanceID, now, func(b *model.PackageBalance) (bool, error) {
		return b.Refund(now), nil
	})
}

// mutate runs the compare-and-swap loop.  fn changes the in-memory copy
// and reports whether there is anything to write.
func (r *BalanceRepo) mutate(ctx context.Context, id uint64, now time.Time, fn func(*model.PackageBalance) (bool, error)) (*model.PackageBalance, error) {
	const q = `UPDATE package_balances SET used_classes = ?, remaining_classes = ?, status = ?, version = version + 1
               WHERE id = ? AND version = ?`
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		b, err := r.get(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, err := fn(b)
		if err != nil {
			r.correct(ctx, b, now)
			return nil, err
		}
		if !changed {
			r.correct(ctx, b, now)
			return b, nil
		}
		res, err := r.db.ExecContext(ctx, q, b.UsedClasses, b.RemainingClasses, b.Status, b.ID, b.Version)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			b.Version++
			return b, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("balance %d: %w", id, ErrConflict)
}
