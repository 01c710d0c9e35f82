package repository

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-booking/internal/model"
)

var balanceCols = []string{"id", "user_id", "package_id", "payment_id", "total_classes", "used_classes",
	"remaining_classes", "purchase_date", "expiry_date", "status", "is_default", "version", "created_at", "updated_at"}

func balanceRow(used, remaining int, expiry time.Time, status model.BalanceStatus, version uint32) []driver.Value {
	return []driver.Value{uint64(5), uint64(3), uint64(1), nil, used + remaining, used, remaining,
		testNow.AddDate(0, 0, -10), expiry, string(status), true, version, testNow, testNow}
}

const ownerLock = "SELECT id FROM users WHERE id = ? FOR UPDATE"

const casUpdate = "UPDATE package_balances SET used_classes = ?, remaining_classes = ?, status = ?, version = version + 1"

func TestConsumeOneWritesWithVersionGuard(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBalanceRepo(db)

	mock.ExpectQuery(q("FROM package_balances WHERE id = ?")).WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows(balanceCols).AddRow(balanceRow(0, 1, testNow.Add(time.Hour), model.BalanceActive, 4)...))
	mock.ExpectExec(q(casUpdate)).
		WithArgs(1, 0, "depleted", uint64(5), uint32(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	b, err := repo.ConsumeOne(context.Background(), 5, testNow)
	require.NoError(t, err)
	assert.Equal(t, model.BalanceDepleted, b.Status)
	assert.Equal(t, uint32(5), b.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeOneRetriesOnConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBalanceRepo(db)

	mock.ExpectQuery(q("FROM package_balances WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows(balanceCols).AddRow(balanceRow(0, 3, testNow.Add(time.Hour), model.BalanceActive, 1)...))
	mock.ExpectExec(q(casUpdate)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("FROM package_balances WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows(balanceCols).AddRow(balanceRow(1, 2, testNow.Add(time.Hour), model.BalanceActive, 2)...))
	mock.ExpectExec(q(casUpdate)).
		WithArgs(2, 1, "active", uint64(5), uint32(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	b, err := repo.ConsumeOne(context.Background(), 5, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, b.RemainingClasses)
	assert.Equal(t, b.TotalClasses, b.UsedClasses+b.RemainingClasses)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeOneGivesUpAfterMaxAttempts(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBalanceRepo(db)

	for i := 0; i < DefaultCASAttempts; i++ {
		mock.ExpectQuery(q("FROM package_balances WHERE id = ?")).
			WillReturnRows(sqlmock.NewRows(balanceCols).AddRow(balanceRow(0, 3, testNow.Add(time.Hour), model.BalanceActive, uint32(i))...))
		mock.ExpectExec(q(casUpdate)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	_, err := repo.ConsumeOne(context.Background(), 5, testNow)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeOneExpiredCorrectsStatus(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBalanceRepo(db)

	mock.ExpectQuery(q("FROM package_balances WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows(balanceCols).AddRow(balanceRow(1, 4, testNow.Add(-time.Hour), model.BalanceActive, 3)...))
	mock.ExpectExec(q("UPDATE package_balances SET status = ? WHERE id = ? AND version = ?")).
		WithArgs("expired", uint64(5), uint32(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := repo.ConsumeOne(context.Background(), 5, testNow)
	assert.ErrorIs(t, err, model.ErrBalanceExpired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundOneNothingConsumed(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBalanceRepo(db)

	mock.ExpectQuery(q("FROM package_balances WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows(balanceCols).AddRow(balanceRow(0, 3, testNow.Add(time.Hour), model.BalanceActive, 0)...))

	b, err := repo.RefundOne(context.Background(), 5, testNow)
	require.NoError(t, err)
	assert.Equal(t, 3, b.RemainingClasses)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundOneClearsDepleted(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBalanceRepo(db)

	mock.ExpectQuery(q("FROM package_balances WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows(balanceCols).AddRow(balanceRow(4, 0, testNow.Add(time.Hour), model.BalanceDepleted, 9)...))
	mock.ExpectExec(q(casUpdate)).
		WithArgs(3, 1, "active", uint64(5), uint32(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	b, err := repo.RefundOne(context.Background(), 5, testNow)
	require.NoError(t, err)
	assert.Equal(t, model.BalanceActive, b.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBalanceNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBalanceRepo(db)

	mock.ExpectQuery(q("FROM package_balances WHERE id = ?")).WillReturnRows(sqlmock.NewRows(balanceCols))

	_, err := repo.GetByID(context.Background(), 5, testNow)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCreateBalanceFirstBecomesDefault(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBalanceRepo(db)
	b := model.NewPackageBalance(3, model.PackageDefinition{ID: 1, ValidityDays: 30}, nil, testNow)

	mock.ExpectBegin()
	mock.ExpectQuery(q(ownerLock)).WithArgs(uint64(3)).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectQuery(q("SELECT COUNT(*) FROM package_balances")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectExec(q("INSERT INTO package_balances")).WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), &b))
	assert.True(t, b.IsDefault)
	assert.Equal(t, uint64(11), b.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetDefaultRejectsOtherUsersBalance(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBalanceRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q(ownerLock)).WithArgs(uint64(99)).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(99))
	mock.ExpectQuery(q("FROM package_balances WHERE id = ? FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(balanceCols).AddRow(balanceRow(0, 3, testNow.Add(time.Hour), model.BalanceActive, 0)...))
	mock.ExpectRollback()

	err := repo.SetDefault(context.Background(), 99, 5, testNow)
	assert.ErrorIs(t, err, model.ErrForbidden)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBalanceRetriesDeadlockVictim(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBalanceRepo(db)
	b := model.NewPackageBalance(3, model.PackageDefinition{ID: 1, ValidityDays: 30}, nil, testNow)

	mock.ExpectBegin()
	mock.ExpectQuery(q(ownerLock)).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectQuery(q("SELECT COUNT(*) FROM package_balances")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectExec(q("INSERT INTO package_balances")).
		WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(q(ownerLock)).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectQuery(q("SELECT COUNT(*) FROM package_balances")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectExec(q("INSERT INTO package_balances")).WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), &b))
	assert.False(t, b.IsDefault)
	assert.Equal(t, uint64(12), b.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetDefaultLocksOwnerBeforeBalances(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBalanceRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q(ownerLock)).WithArgs(uint64(3)).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectQuery(q("FROM package_balances WHERE id = ? FOR UPDATE")).WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows(balanceCols).AddRow(balanceRow(0, 3, testNow.Add(time.Hour), model.BalanceActive, 0)...))
	mock.ExpectExec(q("UPDATE package_balances SET is_default = 0 WHERE user_id = ? AND id <> ?")).
		WithArgs(uint64(3), uint64(5)).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q("UPDATE package_balances SET is_default = 1 WHERE id = ?")).
		WithArgs(uint64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SetDefault(context.Background(), 3, 5, testNow))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetDefaultGivesUpAfterSecondDeadlock(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBalanceRepo(db)
	deadlock := &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(q(ownerLock)).WillReturnError(deadlock)
		mock.ExpectRollback()
	}

	err := repo.SetDefault(context.Background(), 3, 5, testNow)
	var me *mysql.MySQLError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, uint16(1213), me.Number)
	assert.NoError(t, mock.ExpectationsWereMet())
}
