package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-booking/internal/model"
)

var reservationCols = []string{"id", "user_id", "class_id", "class_date", "status", "attended", "balance_id",
	"payment_id", "notes", "cancelled_at", "cancel_reason", "created_at", "updated_at"}

func TestCreateReservationDuplicate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReservationRepo(db)

	mock.ExpectExec(q("INSERT INTO reservations")).
		WithArgs(uint64(3), uint64(7), "2026-03-17", "confirmed", nil, nil, nil).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry for key 'uq_reservations_active'"})

	date, _ := model.ParseDate("2026-03-17")
	err := repo.Create(context.Background(), &model.Reservation{UserID: 3, ClassID: 7, Date: date, Status: model.StatusConfirmed})
	assert.ErrorIs(t, err, model.ErrDuplicateBooking)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionIsConditional(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReservationRepo(db)
	at := testNow
	reason := "cancelled by user"

	mock.ExpectExec(q("UPDATE reservations SET status = ?, cancelled_at = ?, cancel_reason = ? WHERE id = ? AND status = ?")).
		WithArgs("cancelled", at, reason, uint64(9), "confirmed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Transition(context.Background(), model.ReservationTransition{
		ID: 9, From: model.StatusConfirmed, To: model.StatusCancelled, CancelledAt: &at, CancelReason: &reason,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionLostRace(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReservationRepo(db)
	date := time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(q("UPDATE reservations SET status = ?")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("FROM reservations WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows(reservationCols).AddRow(
			uint64(9), uint64(3), uint64(7), date, "cancelled", false, nil, nil, nil, testNow, "cancelled by user", testNow, testNow))

	err := repo.Transition(context.Background(), model.ReservationTransition{
		ID: 9, From: model.StatusConfirmed, To: model.StatusCancelled,
	})
	assert.ErrorIs(t, err, model.ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReservationRepo(db)

	mock.ExpectExec(q("UPDATE reservations SET status = ?")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("FROM reservations WHERE id = ?")).WillReturnRows(sqlmock.NewRows(reservationCols))

	attended := true
	err := repo.Transition(context.Background(), model.ReservationTransition{
		ID: 9, From: model.StatusConfirmed, To: model.StatusCompleted, Attended: &attended,
	})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestHasActive(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReservationRepo(db)
	date := time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q("SELECT EXISTS(")).
		WithArgs(uint64(3), uint64(7), "2026-03-17").
		WillReturnRows(sqlmock.NewRows([]string{"e"}).AddRow(true))

	ok, err := repo.HasActive(context.Background(), 3, 7, date)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListReservationsForUpcoming(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReservationRepo(db)
	user := uint64(3)
	status := model.StatusConfirmed
	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q("FROM reservations r JOIN classes c ON c.id = r.class_id WHERE r.user_id = ? AND r.status = ? AND r.class_date >= ?")).
		WithArgs(uint64(3), "confirmed", "2026-03-10").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "class_id", "class_date", "status", "attended",
			"balance_id", "cancelled_at", "cancel_reason", "created_at", "name", "discipline", "teacher",
			"day_of_week", "start_time", "end_time", "room"}).
			AddRow(uint64(9), uint64(3), uint64(7), time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC), "confirmed", false,
				uint64(5), nil, nil, testNow, "Salsa Basics", "salsa", "Ana", "tuesday", "18:00", "19:00", 2))

	list, err := repo.List(context.Background(), model.ReservationFilter{UserID: &user, Status: &status, FromDate: &from})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "2026-03-17", list[0].Date)
	require.NotNil(t, list[0].BalanceID)
	assert.Equal(t, uint64(5), *list[0].BalanceID)
}
