// Package queue defines message payloads exchanged over the message broker
// and the publisher and consumer that carry them.
package queue

// Queue names.  Each event type has its own durable queue reached through
// the default exchange.
const (
	QueueBookingConfirmed = "booking.confirmed"
	QueueBookingCancelled = "booking.cancelled"
)

// BookingConfirmedEvent is published when a reservation is created.  It
// contains enough information for downstream consumers to log, notify, or
// trigger analytics without querying the primary database.
type BookingConfirmedEvent struct {
	ReservationID uint64  `json:"reservation_id"`
	UserID        uint64  `json:"user_id"`
	ClassID       uint64  `json:"class_id"`
	ClassName     string  `json:"class_name"`
	Discipline    string  `json:"discipline"`
	Teacher       string  `json:"teacher"`
	Room          uint8   `json:"room"`
	Date          string  `json:"date"`
	StartTime     string  `json:"start_time"`
	BalanceID     *uint64 `json:"balance_id,omitempty"`
	Enrollment    int     `json:"enrollment"`
	MaxCapacity   int     `json:"max_capacity"`
	ConfirmedAt   string  `json:"confirmed_at"`
}

// BookingCancelledEvent is published once a confirmed reservation is
// cancelled and its seat released.
type BookingCancelledEvent struct {
	ReservationID uint64  `json:"reservation_id"`
	UserID        uint64  `json:"user_id"`
	ClassID       uint64  `json:"class_id"`
	ClassName     string  `json:"class_name"`
	Date          string  `json:"date"`
	ByAdmin       bool    `json:"by_admin"`
	Reason        string  `json:"reason"`
	RefundedTo    *uint64 `json:"refunded_balance_id,omitempty"`
	CancelledAt   string  `json:"cancelled_at"`
}
