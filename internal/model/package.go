package model

import "time"

// PackageType describes how a package definition grants classes.
type PackageType string

const (
	PackageClasses   PackageType = "classes"
	PackageMonthly   PackageType = "monthly"
	PackageUnlimited PackageType = "unlimited"
)

// UnlimitedClasses is the allotment given to packages without a class count.
const UnlimitedClasses = 999

// PackageDefinition is a package offered for sale.
type PackageDefinition struct {
	ID           uint64      // packages.id
	Name         string      // packages.name
	Type         PackageType // packages.type
	ClassCount   *int        // packages.class_count (nullable unless Type is classes)
	PriceCents   uint32      // packages.price_cents
	ValidityDays int         // packages.validity_days
	Description  *string     // packages.description (nullable)
	Features     []string    // packages.features (JSON array)
	IsActive     bool        // packages.is_active
	CreatedAt    time.Time   // packages.created_at
	UpdatedAt    time.Time   // packages.updated_at
}

// TotalClasses is the number of classes a purchase of this package grants.
func (p *PackageDefinition) TotalClasses() int {
	if p.ClassCount != nil && *p.ClassCount > 0 {
		return *p.ClassCount
	}
	return UnlimitedClasses
}

// BalanceStatus is the cached status of a purchased package.
type BalanceStatus string

const (
	BalanceActive   BalanceStatus = "active"
	BalanceExpired  BalanceStatus = "expired"
	BalanceDepleted BalanceStatus = "depleted"
)

// ParseBalanceStatus validates a status received from a client.
func ParseBalanceStatus(s string) (BalanceStatus, bool) {
	switch st := BalanceStatus(s); st {
	case BalanceActive, BalanceExpired, BalanceDepleted:
		return st, true
	}
	return "", false
}

// PackageBalance is a purchased, depletable allotment of classes.
// UsedClasses+RemainingClasses always equals TotalClasses.  Status is a
// cache of EffectiveStatus and is corrected whenever the row is touched.
// Version guards every counter update (compare-and-swap).
type PackageBalance struct {
	ID               uint64        // package_balances.id
	UserID           uint64        // package_balances.user_id
	PackageID        uint64        // package_balances.package_id
	PaymentID        *uint64       // package_balances.payment_id (nullable, unique)
	TotalClasses     int           // package_balances.total_classes
	UsedClasses      int           // package_balances.used_classes
	RemainingClasses int           // package_balances.remaining_classes
	PurchaseDate     time.Time     // package_balances.purchase_date
	ExpiryDate       time.Time     // package_balances.expiry_date
	Status           BalanceStatus // package_balances.status
	IsDefault        bool          // package_balances.is_default
	Version          uint32        // package_balances.version
	CreatedAt        time.Time     // package_balances.created_at
	UpdatedAt        time.Time     // package_balances.updated_at
}

// NewPackageBalance initialises a balance for a purchase made at now.
func NewPackageBalance(userID uint64, def PackageDefinition, paymentID *uint64, now time.Time) PackageBalance {
	total := def.TotalClasses()
	return PackageBalance{
		UserID:           userID,
		PackageID:        def.ID,
		PaymentID:        paymentID,
		TotalClasses:     total,
		RemainingClasses: total,
		PurchaseDate:     now,
		ExpiryDate:       now.AddDate(0, 0, def.ValidityDays),
		Status:           BalanceActive,
	}
}

// IsExpired reports whether the expiry date has passed at now.
func (b *PackageBalance) IsExpired(now time.Time) bool {
	return !now.Before(b.ExpiryDate)
}

// EffectiveStatus derives the status from the counters and the clock.  A
// depleted balance stays depleted after it expires.
func (b *PackageBalance) EffectiveStatus(now time.Time) BalanceStatus {
	switch {
	case b.RemainingClasses <= 0:
		return BalanceDepleted
	case b.IsExpired(now):
		return BalanceExpired
	default:
		return BalanceActive
	}
}

// Consume takes one class from the balance.
func (b *PackageBalance) Consume(now time.Time) error {
	switch b.EffectiveStatus(now) {
	case BalanceDepleted:
		return ErrBalanceDepleted
	case BalanceExpired:
		return ErrBalanceExpired
	}
	b.UsedClasses++
	b.RemainingClasses--
	b.Status = b.EffectiveStatus(now)
	return nil
}

// Refund gives one class back.  It returns false when nothing was consumed.
func (b *PackageBalance) Refund(now time.Time) bool {
	if b.UsedClasses <= 0 {
		return false
	}
	b.UsedClasses--
	b.RemainingClasses++
	b.Status = b.EffectiveStatus(now)
	return true
}
