// Package service implements the booking lifecycle on top of the capacity
// ledger and package balances, plus the package purchase and class
// administration rules.  Stores are consumed through the interfaces below
// so that the rules can be exercised without a database.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/queue"
)

// ClassStore is the capacity ledger plus the class catalogue.
type ClassStore interface {
	GetByID(ctx context.Context, id uint64) (*model.ClassSession, error)
	ReserveSeat(ctx context.Context, classID uint64) error
	ReleaseSeat(ctx context.Context, classID uint64) error
}

// ClassLister lists classes.
type ClassLister interface {
	List(ctx context.Context, f model.ClassFilter) ([]model.ClassSession, error)
}

// ClassCatalog adds the administrative writes and listing to ClassStore.
type ClassCatalog interface {
	ClassStore
	ClassLister
	Create(ctx context.Context, c *model.ClassSession) error
	Update(ctx context.Context, c *model.ClassSession) error
	Delete(ctx context.Context, id uint64, today time.Time) (bool, error)
	HasUpcomingBookings(ctx context.Context, id uint64, today time.Time) (bool, error)
}

// BalanceStore consumes and refunds package classes atomically.
type BalanceStore interface {
	GetByID(ctx context.Context, id uint64, now time.Time) (*model.PackageBalance, error)
	ConsumeOne(ctx context.Context, balanceID uint64, now time.Time) (*model.PackageBalance, error)
	RefundOne(ctx context.Context, balanceID uint64, now time.Time) (*model.PackageBalance, error)
}

// BalanceWriter is used by package purchase and the my-packages views.
type BalanceWriter interface {
	Create(ctx context.Context, b *model.PackageBalance) error
	GetByID(ctx context.Context, id uint64, now time.Time) (*model.PackageBalance, error)
	ListByUser(ctx context.Context, userID uint64, status *model.BalanceStatus, now time.Time) ([]model.PackageBalance, error)
	ActiveForUser(ctx context.Context, userID uint64, now time.Time) (*model.PackageBalance, error)
	SetDefault(ctx context.Context, userID, balanceID uint64, now time.Time) error
}

// ReservationStore persists reservations.  Create must translate a
// violation of the active-reservation unique key into
// model.ErrDuplicateBooking; Transition must be conditional on From.
type ReservationStore interface {
	Create(ctx context.Context, r *model.Reservation) error
	GetByID(ctx context.Context, id uint64) (*model.Reservation, error)
	HasActive(ctx context.Context, userID, classID uint64, date time.Time) (bool, error)
	Transition(ctx context.Context, t model.ReservationTransition) error
}

// ReservationReader serves the read-only booking views.
type ReservationReader interface {
	Detail(ctx context.Context, id uint64) (*model.ReservationDetail, error)
	List(ctx context.Context, f model.ReservationFilter) ([]model.ReservationDetail, error)
	Stats(ctx context.Context, today time.Time) (model.BookingStats, error)
}

// PackageCatalog looks up package definitions.
type PackageCatalog interface {
	GetByID(ctx context.Context, id uint64) (*model.PackageDefinition, error)
}

// PaymentLookup reads payment records.
type PaymentLookup interface {
	GetByID(ctx context.Context, id uint64) (*model.Payment, error)
}

// EventPublisher delivers booking events.  Failures never affect the
// outcome of the booking operation that produced the event.
type EventPublisher interface {
	PublishConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
	PublishCancelled(ctx context.Context, ev queue.BookingCancelledEvent) error
}

// OutcomeRecorder counts booking operations by outcome.
type OutcomeRecorder interface {
	ObserveBooking(operation, outcome string)
}

// CachePurger drops cached responses whose key starts with prefix.
type CachePurger interface {
	Purge(ctx context.Context, prefix string) error
}
