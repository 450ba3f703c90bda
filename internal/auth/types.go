package auth

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// emailPattern is a pragmatic format check: one @, no whitespace, a dot in
// the domain part. Deliverability is proven by the OTP flow, not the regex.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// maxEmailLength is the maximum allowed email address length.
const maxEmailLength = 255

// IsValidEmail checks if an email address meets format requirements.
func IsValidEmail(email string) bool {
	return len(email) <= maxEmailLength && emailPattern.MatchString(email)
}

// Role represents an account type in the marketplace.
type Role string

const (
	// RoleConsumer buys surplus food listings. The default for new signups.
	RoleConsumer Role = "consumer"

	// RoleVendor publishes surplus listings: restaurants, grocers, bakeries.
	RoleVendor Role = "vendor"

	// RoleNGO is a registered charity that claims donation listings.
	RoleNGO Role = "ngo"

	// RoleAdmin has full platform control: user management, audit access,
	// system stats. Admin logins additionally require email OTP verification.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a user account may hold.
var ValidRoles = []Role{RoleConsumer, RoleVendor, RoleNGO, RoleAdmin}

// IsValidRole returns true if the role is a valid account role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// User represents a registered account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never serialised
	FullName     string    `json:"full_name,omitempty"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RefreshToken represents a stored refresh token for session management.
// TokenHash is the SHA-256 of the raw JWT; the raw token is never persisted.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"` // never serialised
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// OTPChallenge represents a pending email verification code.
// CodeHash is a bcrypt digest; the plaintext code exists only in the email.
type OTPChallenge struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CodeHash  string    `json:"-"` // never serialised
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenPair is the credential set returned by login, OTP verification and
// refresh. TokenType is always "bearer".
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// SignupParams carries the fields accepted at registration.
type SignupParams struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number"`
	Role        Role   `json:"role"`
}

// UserPatch carries optional profile updates. Nil fields are left unchanged.
type UserPatch struct {
	FullName    *string `json:"full_name,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	Password    *string `json:"password,omitempty"`
}

// Mailer delivers OTP codes. Implementations must not log the code.
type Mailer interface {
	SendOTP(ctx context.Context, to, code string, ttl time.Duration) error
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidRole        = errors.New("invalid role")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrDuplicateToken     = errors.New("refresh token already stored")
	ErrOTPAdminOnly       = errors.New("otp verification is restricted to admin accounts")
	ErrOTPInvalid         = errors.New("invalid otp code")
	ErrOTPExpired         = errors.New("otp expired or not requested")
	ErrOTPDeliveryFailed  = errors.New("otp delivery failed")
)
