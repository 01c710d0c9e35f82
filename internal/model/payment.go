package model

import "time"

// PaymentStatus is the settlement state reported by the payment gateway.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment records money received from a user.  Only the Status is read by
// the booking core: a package purchase requires a completed payment.
type Payment struct {
	ID          uint64        // payments.id
	UserID      uint64        // payments.user_id
	AmountCents uint32        // payments.amount_cents
	Currency    string        // payments.currency
	Method      string        // payments.method (card, cash, transfer, other)
	Status      PaymentStatus // payments.status
	GatewayRef  *string       // payments.gateway_ref (nullable)
	Description *string       // payments.description (nullable)
	CompletedAt *time.Time    // payments.completed_at (nullable)
	CreatedAt   time.Time     // payments.created_at
	UpdatedAt   time.Time     // payments.updated_at
}

// IsCompleted reports whether the gateway confirmed the payment.
func (p *Payment) IsCompleted() bool {
	return p.Status == PaymentCompleted
}

// PaymentFilter narrows the admin payment listing.  From and To bound
// created_at; To is exclusive.
type PaymentFilter struct {
	Status *PaymentStatus
	UserID *uint64
	From   *time.Time
	To     *time.Time
}

// MonthlyRevenue is the completed revenue of one calendar month.
type MonthlyRevenue struct {
	Year         int    `json:"year"`
	Month        int    `json:"month"`
	RevenueCents uint64 `json:"revenue_cents"`
	Count        int    `json:"count"`
}

// PaymentStats summarises payments for administrators.  Monthly holds at
// most the twelve most recent months with revenue, newest first.
type PaymentStats struct {
	TotalRevenueCents uint64           `json:"total_revenue_cents"`
	Pending           int              `json:"pending"`
	Completed         int              `json:"completed"`
	Failed            int              `json:"failed"`
	Monthly           []MonthlyRevenue `json:"monthly"`
}

// ParsePaymentStatus validates a status received from a client.
func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	switch st := PaymentStatus(s); st {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return st, true
	}
	return "", false
}
