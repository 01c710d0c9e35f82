package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/model"
)

// PackageService sells packages and manages the balances they create.
type PackageService struct {
	packages PackageCatalog
	payments PaymentLookup
	balances BalanceWriter
	log      *zap.Logger
	now      func() time.Time
}

// NewPackageService wires a PackageService.
func NewPackageService(packages PackageCatalog, payments PaymentLookup, balances BalanceWriter, log *zap.Logger) *PackageService {
	return &PackageService{
		packages: packages,
		payments: payments,
		balances: balances,
		log:      log.Named("packages"),
		now:      time.Now,
	}
}

// Purchase turns a completed payment into a package balance.  A payment
// can back at most one balance; the unique payment_id key enforces it even
// when two purchases race.
func (s *PackageService) Purchase(ctx context.Context, userID, packageID, paymentID uint64) (*model.PackageBalance, error) {
	def, err := s.packages.GetByID(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return nil, model.ErrPackageInactive
	}
	pay, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if pay.UserID != userID {
		return nil, model.ErrForbidden
	}
	if !pay.IsCompleted() {
		return nil, model.ErrPaymentNotCompleted
	}

	b := model.NewPackageBalance(userID, *def, &paymentID, s.now())
	if err := s.balances.Create(ctx, &b); err != nil {
		return nil, err
	}
	s.log.Info("package purchased",
		zap.Uint64("user_id", userID), zap.Uint64("package_id", packageID),
		zap.Uint64("balance_id", b.ID), zap.Int("classes", b.TotalClasses))
	return &b, nil
}

// ListMine returns the user's balances, optionally narrowed to one
// effective status.
func (s *PackageService) ListMine(ctx context.Context, userID uint64, status *model.BalanceStatus) ([]model.PackageBalance, error) {
	return s.balances.ListByUser(ctx, userID, status, s.now())
}

// ActiveBalance returns the balance a new booking draws from by default.
func (s *PackageService) ActiveBalance(ctx context.Context, userID uint64) (*model.PackageBalance, error) {
	return s.balances.ActiveForUser(ctx, userID, s.now())
}

// SetDefault marks one of the user's usable balances as the default.
func (s *PackageService) SetDefault(ctx context.Context, userID, balanceID uint64) (*model.PackageBalance, error) {
	now := s.now()
	if err := s.balances.SetDefault(ctx, userID, balanceID, now); err != nil {
		return nil, err
	}
	return s.balances.GetByID(ctx, balanceID, now)
}
