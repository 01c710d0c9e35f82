package utils

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is enforced on registration and admin creation.
const MinPasswordLength = 6

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

var (
	dummyOnce sync.Once
	dummyHash string
)

// BurnPasswordCheck spends the time of one bcrypt comparison.  Login calls
// it for unknown emails so response time does not reveal which accounts
// exist.
func BurnPasswordCheck(plain string) {
	dummyOnce.Do(func() {
		dummyHash, _ = HashPassword("studio-booking-placeholder", bcrypt.DefaultCost)
	})
	_ = VerifyPassword(dummyHash, plain)
}
