// Package repository defines error types that are reused across multiple
// repositories. Business outcomes (not found, capacity, duplicates) are
// reported with the sentinels of package model so that services and
// handlers classify them in one place; the values below are storage-level
// conditions that only this package produces.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrConflict is returned when an optimistic update keeps losing the race
// against concurrent writers and the retry budget is exhausted.  It is a
// transient fault, not a business outcome.
var ErrConflict = errors.New("conflict")

// ErrEmailExists is returned when registering an email that is taken.
var ErrEmailExists = errors.New("email already exists")

// MySQL server error numbers the repositories react to.
const (
	mysqlDuplicateEntry  = 1062
	mysqlDeadlock        = 1213
	mysqlRowIsReferenced = 1451
)

// isMySQLError reports whether err wraps a server error with the given number.
func isMySQLError(err error, number uint16) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == number
}

func isDuplicateKey(err error) bool { return isMySQLError(err, mysqlDuplicateEntry) }

// retryOnDeadlock runs fn again once when the server picked its
// transaction as a deadlock victim.  fn must begin its own transaction.
func retryOnDeadlock(fn func() error) error {
	err := fn()
	if isMySQLError(err, mysqlDeadlock) {
		err = fn()
	}
	return err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
