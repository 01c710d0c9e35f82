package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCancelled ReservationStatus = "cancelled"
	StatusCompleted ReservationStatus = "completed"
	StatusNoShow    ReservationStatus = "no-show"
)

// ParseReservationStatus validates a status received from a client.
func ParseReservationStatus(s string) (ReservationStatus, bool) {
	switch st := ReservationStatus(s); st {
	case StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return st, true
	}
	return "", false
}

// HoldsSeat reports whether a reservation in this status counts against
// class capacity and against the one-booking-per-occurrence rule.
func (s ReservationStatus) HoldsSeat() bool {
	return s == StatusConfirmed || s == StatusCompleted
}

// IsTerminal reports whether no further transition is possible.
func (s ReservationStatus) IsTerminal() bool {
	return s != StatusConfirmed
}

// Reservation is one user's claim on one dated occurrence of a class.
// It is created confirmed and moves once to cancelled, completed or no-show.
//
// Fields:
//  ID           – primary key identifier.
//  UserID       – user holding the seat.
//  ClassID      – class being attended.
//  Date         – calendar date of the occurrence (midnight UTC).
//  Status       – lifecycle state.
//  Attended     – set by an administrator when marking attendance.
//  BalanceID    – package balance consumed to pay for it, if any.
//  PaymentID    – direct payment record, if any.
//  CancelledAt  – when it was cancelled.
//  CancelReason – free text given on cancellation.
type Reservation struct {
	ID           uint64            // reservations.id
	UserID       uint64            // reservations.user_id
	ClassID      uint64            // reservations.class_id
	Date         time.Time         // reservations.class_date
	Status       ReservationStatus // reservations.status
	Attended     bool              // reservations.attended
	BalanceID    *uint64           // reservations.balance_id (nullable)
	PaymentID    *uint64           // reservations.payment_id (nullable)
	Notes        *string           // reservations.notes (nullable)
	CancelledAt  *time.Time        // reservations.cancelled_at (nullable)
	CancelReason *string           // reservations.cancel_reason (nullable)
	CreatedAt    time.Time         // reservations.created_at
	UpdatedAt    time.Time         // reservations.updated_at
}

// ReservationTransition is a conditional status change.  It only applies
// while the stored status still equals From; optional fields are written
// alongside the new status.
type ReservationTransition struct {
	ID           uint64
	From         ReservationStatus
	To           ReservationStatus
	Attended     *bool
	CancelledAt  *time.Time
	CancelReason *string
}

// Apply mutates r as the transition would.  The caller is responsible for
// checking r.Status == t.From first.
func (t ReservationTransition) Apply(r *Reservation) {
	r.Status = t.To
	if t.Attended != nil {
		r.Attended = *t.Attended
	}
	if t.CancelledAt != nil {
		at := *t.CancelledAt
		r.CancelledAt = &at
	}
	if t.CancelReason != nil {
		reason := *t.CancelReason
		r.CancelReason = &reason
	}
}

// ReservationFilter narrows reservation listings.  Nil fields are ignored.
type ReservationFilter struct {
	UserID   *uint64
	ClassID  *uint64
	Status   *ReservationStatus
	Date     *time.Time // exact occurrence date
	FromDate *time.Time // occurrence date >= FromDate
}

// ReservationDetail is a reservation joined with the class it targets, as
// shown in booking lists.
type ReservationDetail struct {
	ID           uint64            `json:"id"`
	UserID       uint64            `json:"user_id"`
	ClassID      uint64            `json:"class_id"`
	Date         string            `json:"date"`
	Status       ReservationStatus `json:"status"`
	Attended     bool              `json:"attended"`
	BalanceID    *uint64           `json:"balance_id,omitempty"`
	CancelledAt  *time.Time        `json:"cancelled_at,omitempty"`
	CancelReason *string           `json:"cancel_reason,omitempty"`
	ClassName    string            `json:"class_name"`
	Discipline   string            `json:"discipline"`
	Teacher      string            `json:"teacher"`
	DayOfWeek    string            `json:"day_of_week"`
	StartTime    string            `json:"start_time"`
	EndTime      string            `json:"end_time"`
	Room         uint8             `json:"room"`
	CreatedAt    time.Time         `json:"created_at"`
}

// BookingStats summarises reservations for the admin dashboard.
type BookingStats struct {
	Total          int            `json:"total"`
	Confirmed      int            `json:"confirmed"`
	Completed      int            `json:"completed"`
	Cancelled      int            `json:"cancelled"`
	NoShow         int            `json:"no_show"`
	Upcoming       int            `json:"upcoming"`
	PopularClasses []PopularClass `json:"popular_classes"`
}

// PopularClass is one row of the most-booked classes ranking.
type PopularClass struct {
	ClassID    uint64 `json:"class_id"`
	ClassName  string `json:"class_name"`
	Discipline string `json:"discipline"`
	Count      int    `json:"count"`
}
