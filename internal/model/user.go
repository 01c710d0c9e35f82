package model

import "time"

// Roles carried in the access token's role claim.
const (
	RoleStudent = "STUDENT"
	RoleAdmin   = "ADMIN"
)

// User represents an application user record as stored in the
// `users` table.  The password hash never leaves the repository and
// handler layers.
//
// Fields:
//  ID             – primary key identifier of the user.
//  Email          – unique, lower-cased email address.
//  PasswordHash   – bcrypt hashed password.
//  FirstName      – given name.
//  LastName       – family name.
//  Phone          – optional contact phone.
//  EmergencyName  – optional emergency contact name.
//  EmergencyPhone – optional emergency contact phone.
//  Role           – STUDENT or ADMIN.
//  IsActive       – whether the account may sign in.
type User struct {
	ID             uint64    // users.id
	Email          string    // users.email
	PasswordHash   string    // users.password_hash
	FirstName      string    // users.first_name
	LastName       string    // users.last_name
	Phone          *string   // users.phone (nullable)
	EmergencyName  *string   // users.emergency_name (nullable)
	EmergencyPhone *string   // users.emergency_phone (nullable)
	Role           string    // users.role
	IsActive       bool      // users.is_active
	CreatedAt      time.Time // users.created_at
	UpdatedAt      time.Time // users.updated_at
}

// FullName joins first and last name.
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// RefreshToken models an entry in the `refresh_tokens` table.  Only the
// SHA-256 hash of the raw token is stored.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}

// UserFilter narrows the admin user listing.  Search matches first name,
// last name or email.
type UserFilter struct {
	Role   *string
	Active *bool
	Search string
}

// UserStats summarises one user's activity for administrators.
type UserStats struct {
	Bookings       map[ReservationStatus]int `json:"bookings"`
	TotalPaidCents uint64                    `json:"total_paid_cents"`
}

// StudioOverview is the headline dashboard of the admin area.
type StudioOverview struct {
	TotalStudents         int    `json:"total_students"`
	ActiveStudents        int    `json:"active_students"`
	NewStudentsThisMonth  int    `json:"new_students_this_month"`
	TotalBookings         int    `json:"total_bookings"`
	UpcomingBookings      int    `json:"upcoming_bookings"`
	TotalRevenueCents     uint64 `json:"total_revenue_cents"`
	ThisMonthRevenueCents uint64 `json:"this_month_revenue_cents"`
}
