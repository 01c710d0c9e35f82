package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/iliyamo/studio-booking/internal/model"
)

// PackageRepo stores the package definitions offered for sale.
type PackageRepo struct {
	db *sql.DB
}

// NewPackageRepo returns a new PackageRepo bound to the given database.
func NewPackageRepo(db *sql.DB) *PackageRepo { return &PackageRepo{db: db} }

const packageColumns = "id, name, type, class_count, price_cents, validity_days, description, features, is_active, created_at, updated_at"

func scanPackage(s scanner) (*model.PackageDefinition, error) {
	var (
		p          model.PackageDefinition
		classCount sql.NullInt64
		desc       sql.NullString
		features   []byte
	)
	err := s.Scan(&p.ID, &p.Name, &p.Type, &classCount, &p.PriceCents, &p.ValidityDays, &desc, &features,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if classCount.Valid {
		n := int(classCount.Int64)
		p.ClassCount = &n
	}
	if desc.Valid {
		d := desc.String
		p.Description = &d
	}
	p.Features = []string{}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &p.Features); err != nil {
			return nil, fmt.Errorf("package %d features: %w", p.ID, err)
		}
	}
	return &p, nil
}

func encodeFeatures(f []string) ([]byte, error) {
	if f == nil {
		f = []string{}
	}
	return json.Marshal(f)
}

// Create inserts a package definition and populates its ID.
func (r *PackageRepo) Create(ctx context.Context, p *model.PackageDefinition) error {
	features, err := encodeFeatures(p.Features)
	if err != nil {
		return err
	}
	const q = `INSERT INTO packages (name, type, class_count, price_cents, validity_days, description, features, is_active)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, p.Name, p.Type, p.ClassCount, p.PriceCents, p.ValidityDays,
		p.Description, features, p.IsActive)
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

// GetByID loads a package definition.
func (r *PackageRepo) GetByID(ctx context.Context, id uint64) (*model.PackageDefinition, error) {
	p, err := scanPackage(r.db.QueryRowContext(ctx, "SELECT "+packageColumns+" FROM packages WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return p, err
}

// List returns package definitions ordered by price.  activeOnly hides
// packages withdrawn from sale.
func (r *PackageRepo) List(ctx context.Context, activeOnly bool) ([]model.PackageDefinition, error) {
	b := sq.Select(packageColumns).From("packages").OrderBy("price_cents", "id")
	if activeOnly {
		b = b.Where(sq.Eq{"is_active": true})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build package list query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.PackageDefinition{}
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Update overwrites a package definition.  Existing balances keep the
// allotment and expiry they were created with.
func (r *PackageRepo) Update(ctx context.Context, p *model.PackageDefinition) error {
	features, err := encodeFeatures(p.Features)
	if err != nil {
		return err
	}
	const q = `UPDATE packages SET name = ?, type = ?, class_count = ?, price_cents = ?, validity_days = ?,
               description = ?, features = ?, is_active = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, p.Name, p.Type, p.ClassCount, p.PriceCents, p.ValidityDays,
		p.Description, features, p.IsActive, p.ID)
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

// Delete removes a package definition.  Definitions that were already
// purchased are withdrawn from sale instead so balances keep their source.
func (r *PackageRepo) Delete(ctx context.Context, id uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM packages WHERE id = ?", id)
	if err != nil {
		if !isMySQLError(err, mysqlRowIsReferenced) {
			return false, err
		}
		res, err = r.db.ExecContext(ctx, "UPDATE packages SET is_active = 0 WHERE id = ?", id)
		if err != nil {
			return false, err
		}
		return false, nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, model.ErrNotFound
	}
	return true, nil
}
