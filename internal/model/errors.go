package model

import "errors"

// Business outcomes shared by the repository, service and handler layers.
// None of these are faults: handlers translate each into a distinct
// user-facing message and they are never retried.
var (
	ErrNotFound                = errors.New("not found")
	ErrForbidden               = errors.New("forbidden")
	ErrCapacityExceeded        = errors.New("class is full")
	ErrDuplicateBooking        = errors.New("duplicate booking")
	ErrClassInactive           = errors.New("class is not active")
	ErrPastClass               = errors.New("class occurrence already started")
	ErrInvalidDate             = errors.New("date does not match class schedule")
	ErrInvalidState            = errors.New("invalid state transition")
	ErrBalanceExpired          = errors.New("package balance expired")
	ErrBalanceDepleted         = errors.New("package balance depleted")
	ErrPackageInactive         = errors.New("package is not available")
	ErrPaymentNotCompleted     = errors.New("payment not completed")
	ErrPaymentAlreadyUsed      = errors.New("payment already used")
	ErrDuplicateSlot           = errors.New("room already booked at that time")
	ErrHasActiveBookings       = errors.New("class has active bookings")
	ErrCapacityBelowEnrollment = errors.New("capacity below current enrollment")
	ErrInvalidRoom             = errors.New("unknown room")
	ErrInvalidSchedule         = errors.New("class must end after it starts")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrNotFound, "NotFound"},
	{ErrForbidden, "Forbidden"},
	{ErrCapacityExceeded, "CapacityExceeded"},
	{ErrDuplicateBooking, "DuplicateBooking"},
	{ErrClassInactive, "ClassInactive"},
	{ErrPastClass, "PastClass"},
	{ErrInvalidDate, "InvalidDate"},
	{ErrInvalidState, "InvalidState"},
	{ErrBalanceExpired, "BalanceExpired"},
	{ErrBalanceDepleted, "BalanceDepleted"},
	{ErrPackageInactive, "PackageInactive"},
	{ErrPaymentNotCompleted, "PaymentNotCompleted"},
	{ErrPaymentAlreadyUsed, "PaymentAlreadyUsed"},
	{ErrDuplicateSlot, "DuplicateSlot"},
	{ErrHasActiveBookings, "HasActiveBookings"},
	{ErrCapacityBelowEnrollment, "CapacityBelowEnrollment"},
	{ErrInvalidRoom, "InvalidRoom"},
	{ErrInvalidSchedule, "InvalidSchedule"},
}

// KindOf returns the business error kind wrapped by err, or "" when err is
// nil or an opaque fault.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}
