package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// GenerateOTPCode produces a numeric code of the given length using
// crypto/rand. Leading zeros are allowed, so the code is always exactly
// length digits.
func GenerateOTPCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10)) //nolint:mnd // decimal digit
		if err != nil {
			return "", fmt.Errorf("generating otp code: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

// OTPRepository defines the interface for email OTP challenge persistence.
type OTPRepository interface {
	Create(ctx context.Context, challenge *OTPChallenge) error
	LatestActive(ctx context.Context, email string) (*OTPChallenge, error)
	MarkUsed(ctx context.Context, id string) (bool, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteOTPRepository implements OTPRepository using SQLite.
type SQLiteOTPRepository struct {
	db *sql.DB
}

// NewOTPRepository creates a new SQLite-backed OTP repository.
func NewOTPRepository(db *sql.DB) *SQLiteOTPRepository {
	return &SQLiteOTPRepository{db: db}
}

// Create inserts a new OTP challenge. The ID is generated if empty.
// Older challenges for the same email are left in place; LatestActive
// always resolves to the newest one.
func (r *SQLiteOTPRepository) Create(ctx context.Context, challenge *OTPChallenge) error {
	if challenge.ID == "" {
		challenge.ID = "otp-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	challenge.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO otp_challenges (id, email, code_hash, expires_at, used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		challenge.ID, challenge.Email, challenge.CodeHash,
		challenge.ExpiresAt.UTC().Format(time.RFC3339),
		boolToInt(challenge.Used), now,
	)
	if err != nil {
		return fmt.Errorf("creating otp challenge: %w", err)
	}

	return nil
}

// LatestActive returns the newest unused, unexpired challenge for an email.
// Returns ErrOTPExpired when no such challenge exists — the caller cannot
// tell "never requested" from "expired", and neither can the client.
func (r *SQLiteOTPRepository) LatestActive(ctx context.Context, email string) (*OTPChallenge, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var c OTPChallenge
	var used int
	var expiresAt, createdAt string

	// created_at is stored at second resolution; rowid breaks the tie
	// when two challenges land within the same second, so the code most
	// recently emailed always wins.
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, code_hash, expires_at, used, created_at
		 FROM otp_challenges
		 WHERE email = ? AND used = 0 AND expires_at > ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, email, now,
	).Scan(&c.ID, &c.Email, &c.CodeHash, &expiresAt, &used, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOTPExpired
		}
		return nil, fmt.Errorf("getting otp challenge: %w", err)
	}

	c.Used = used != 0
	c.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled

	return &c, nil
}

// MarkUsed consumes a challenge. Returns true if the challenge was still
// unused; false means another verification got there first.
func (r *SQLiteOTPRepository) MarkUsed(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE otp_challenges SET used = 1 WHERE id = ? AND used = 0", id)
	if err != nil {
		return false, fmt.Errorf("marking otp used: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return rows > 0, nil
}

// DeleteExpired removes challenges past their expiry, freeing storage.
// Returns the number of deleted rows.
func (r *SQLiteOTPRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM otp_challenges WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired otp challenges: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}
