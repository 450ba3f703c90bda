package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Logger defines the logging interface used by the Service.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Service orchestrates the session lifecycle: login, signup, admin OTP
// step-up, refresh rotation and logout. It owns no HTTP concerns — the
// API layer maps its sentinel errors to statuses and messages.
//
// Thread Safety: all methods are safe for concurrent use; mutable state
// lives in the stores, not the struct.
type Service struct {
	users     UserRepository
	tokens    TokenRepository
	otps      OTPRepository
	codec     *TokenCodec
	blacklist TokenBlacklist
	mailer    Mailer
	otpTTL    time.Duration
	otpLength int
	logger    Logger
	now       func() time.Time
}

// NewService creates a session service.
//
// Parameters:
//   - users, tokens, otps: persistence for principals, the refresh ledger
//     and OTP challenges
//   - codec: JWT codec for minting and decoding
//   - blacklist: ephemeral deny-list (Redis in production)
//   - mailer: OTP delivery (may be nil only if OTP endpoints are unused)
//   - otpTTL, otpLength: challenge lifetime and code length
//   - logger: logger instance (nil for silent)
func NewService(users UserRepository, tokens TokenRepository, otps OTPRepository,
	codec *TokenCodec, blacklist TokenBlacklist, mailer Mailer,
	otpTTL time.Duration, otpLength int, logger Logger,
) *Service {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Service{
		users:     users,
		tokens:    tokens,
		otps:      otps,
		codec:     codec,
		blacklist: blacklist,
		mailer:    mailer,
		otpTTL:    otpTTL,
		otpLength: otpLength,
		logger:    logger,
		now:       time.Now,
	}
}

// Login verifies email+password and issues a token pair. A missing user
// and a wrong password both return ErrInvalidCredentials so the response
// cannot be used to enumerate accounts.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if !user.Active {
		return nil, ErrUserInactive
	}

	pair, err := s.issuePair(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", "user_id", user.ID, "role", user.Role)
	return pair, nil
}

// Signup registers a new account. No tokens are issued — login is a
// separate step. Role defaults to consumer when empty.
func (s *Service) Signup(ctx context.Context, params SignupParams) (*User, error) {
	if !IsValidEmail(params.Email) {
		return nil, ErrInvalidEmail
	}

	role := params.Role
	if role == "" {
		role = RoleConsumer
	}
	if !IsValidRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	hash, err := HashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Email:        params.Email,
		PasswordHash: hash,
		FullName:     params.FullName,
		PhoneNumber:  params.PhoneNumber,
		Role:         role,
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user signed up", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// RequestOTP generates a one-time code for an admin account, persists its
// bcrypt hash and emails the plaintext. Only admins may use the OTP flow.
func (s *Service) RequestOTP(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err // ErrUserNotFound passes through: admin UX over enumeration resistance
	}
	if user.Role != RoleAdmin {
		return ErrOTPAdminOnly
	}
	if !user.Active {
		return ErrUserInactive
	}

	code, err := GenerateOTPCode(s.otpLength)
	if err != nil {
		return err
	}
	codeHash, err := HashPassword(code)
	if err != nil {
		return err
	}

	challenge := &OTPChallenge{
		Email:     email,
		CodeHash:  codeHash,
		ExpiresAt: s.now().Add(s.otpTTL),
	}
	if err := s.otps.Create(ctx, challenge); err != nil {
		return err
	}

	if err := s.mailer.SendOTP(ctx, email, code, s.otpTTL); err != nil {
		// The challenge row stays behind; nobody knows its code, it expires on its own.
		return fmt.Errorf("%w: %w", ErrOTPDeliveryFailed, err)
	}

	s.logger.Info("otp challenge issued", "user_id", user.ID)
	return nil
}

// VerifyOTP checks a submitted code against the latest active challenge
// and issues a token pair on success. The challenge is consumed
// atomically, so a code verifies at most once.
func (s *Service) VerifyOTP(ctx context.Context, email, code string) (*TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrOTPInvalid
		}
		return nil, err
	}

	// No role or active re-check here: RequestOTP gates challenge creation,
	// so only an eligible admin can hold one. Failing coarsely keeps this
	// path from doubling as an account oracle.
	challenge, err := s.otps.LatestActive(ctx, email)
	if err != nil {
		return nil, err // ErrOTPExpired when nothing is pending
	}

	ok, err := VerifyPassword(code, challenge.CodeHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOTPInvalid
	}

	consumed, err := s.otps.MarkUsed(ctx, challenge.ID)
	if err != nil {
		return nil, err
	}
	if !consumed {
		// A concurrent verification won the race for this challenge.
		return nil, ErrOTPExpired
	}

	pair, err := s.issuePair(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("otp verified", "user_id", user.ID)
	return pair, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is issued in one transaction. Replaying the old token after
// rotation fails on the ledger row, so refresh tokens are single-use.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (*TokenPair, error) {
	claims, err := s.codec.Decode(rawRefresh)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != PurposeRefresh {
		return nil, fmt.Errorf("%w: unexpected token purpose", ErrTokenInvalid)
	}

	banned, err := s.blacklist.Contains(ctx, rawRefresh)
	if err != nil {
		return nil, fmt.Errorf("consulting blacklist: %w", err)
	}
	if banned {
		return nil, ErrTokenRevoked
	}

	row, err := s.tokens.GetByTokenHash(ctx, HashToken(rawRefresh))
	if err != nil {
		return nil, err
	}
	if row.Revoked {
		return nil, ErrTokenRevoked
	}
	if s.now().After(row.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	user, err := s.users.GetByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserInactive
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrUserInactive
	}

	access, err := s.codec.MintAccess(user.ID)
	if err != nil {
		return nil, err
	}
	nextRaw, nextExpiry, err := s.codec.MintRefresh(user.ID)
	if err != nil {
		return nil, err
	}

	next := &RefreshToken{
		UserID:    user.ID,
		TokenHash: HashToken(nextRaw),
		ExpiresAt: nextExpiry,
	}
	if err := s.tokens.Rotate(ctx, row.ID, next); err != nil {
		return nil, err // ErrTokenRevoked when a concurrent refresh won
	}

	s.logger.Info("refresh token rotated", "user_id", user.ID)
	return &TokenPair{AccessToken: access, RefreshToken: nextRaw, TokenType: "bearer"}, nil
}

// Logout revokes the user's copy of the refresh token and blacklists the
// raw string for its remaining lifetime. The ledger is authoritative;
// a failed blacklist write is logged and logout still succeeds.
func (s *Service) Logout(ctx context.Context, user *User, rawRefresh string) error {
	revoked, err := s.tokens.RevokeMatching(ctx, HashToken(rawRefresh), user.ID)
	if err != nil {
		return err
	}

	ttl := s.codec.RefreshTTL()
	if claims, err := s.codec.Decode(rawRefresh); err == nil {
		ttl = claims.RemainingTTL()
	}
	if err := s.blacklist.Add(ctx, rawRefresh, ttl); err != nil {
		s.logger.Warn("blacklist write failed on logout", "user_id", user.ID, "error", err)
	}

	s.logger.Info("user logged out", "user_id", user.ID, "token_revoked", revoked)
	return nil
}

// issuePair mints an access+refresh pair and persists the refresh ledger
// row. The raw refresh token goes to the client; only its hash is stored.
func (s *Service) issuePair(ctx context.Context, userID string) (*TokenPair, error) {
	access, err := s.codec.MintAccess(userID)
	if err != nil {
		return nil, err
	}

	raw, expiresAt, err := s.codec.MintRefresh(userID)
	if err != nil {
		return nil, err
	}

	row := &RefreshToken{
		UserID:    userID,
		TokenHash: HashToken(raw),
		ExpiresAt: expiresAt,
	}
	if err := s.tokens.Create(ctx, row); err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: access, RefreshToken: raw, TokenType: "bearer"}, nil
}
