package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TokenRepository defines the interface for the refresh token ledger.
// Rows are keyed by the SHA-256 hash of the raw JWT.
type TokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByID(ctx context.Context, id string) (*RefreshToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	IsValid(ctx context.Context, tokenHash string) (bool, error)
	Revoke(ctx context.Context, id string) (bool, error)
	RevokeMatching(ctx context.Context, tokenHash, userID string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	Rotate(ctx context.Context, oldID string, next *RefreshToken) error
	CountActive(ctx context.Context) (int, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteTokenRepository implements TokenRepository using SQLite.
type SQLiteTokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new SQLite-backed token repository.
func NewTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db}
}

// HashToken computes the SHA-256 hash of a raw token string for storage.
// Raw tokens are never stored — only their hashes.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Create inserts a new refresh token. The ID is generated if empty.
// A duplicate token hash returns ErrDuplicateToken.
func (r *SQLiteTokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	if token.ID == "" {
		token.ID = "rt-" + uuid.NewString()[:16]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	token.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		token.ID, token.UserID, token.TokenHash,
		token.ExpiresAt.UTC().Format(time.RFC3339),
		boolToInt(token.Revoked), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateToken
		}
		return fmt.Errorf("creating refresh token: %w", err)
	}

	return nil
}

// GetByID retrieves a refresh token by its ID.
func (r *SQLiteTokenRepository) GetByID(ctx context.Context, id string) (*RefreshToken, error) {
	return r.getToken(ctx,
		`SELECT id, user_id, token_hash, expires_at, revoked, created_at
		 FROM refresh_tokens WHERE id = ?`, id)
}

// GetByTokenHash retrieves a refresh token by its SHA-256 hash.
// Used during refresh/logout when the client sends the raw token.
func (r *SQLiteTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	return r.getToken(ctx,
		`SELECT id, user_id, token_hash, expires_at, revoked, created_at
		 FROM refresh_tokens WHERE token_hash = ?`, tokenHash)
}

// IsValid reports whether a live ledger row exists for the hash:
// present, not revoked, not expired.
func (r *SQLiteTokenRepository) IsValid(ctx context.Context, tokenHash string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM refresh_tokens WHERE token_hash = ? AND revoked = 0 AND expires_at > ?`,
		tokenHash, now,
	).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking token validity: %w", err)
	}
	return true, nil
}

// Revoke marks a refresh token as revoked. Returns true if a live token
// was flipped; false if the token was missing or already revoked.
func (r *SQLiteTokenRepository) Revoke(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1 WHERE id = ? AND revoked = 0", id)
	if err != nil {
		return false, fmt.Errorf("revoking token: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return rows > 0, nil
}

// RevokeMatching revokes the live token with the given hash belonging to
// the given user. Logout uses this so one user cannot revoke another's
// session by replaying a stolen token string.
func (r *SQLiteTokenRepository) RevokeMatching(ctx context.Context, tokenHash, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1 WHERE token_hash = ? AND user_id = ? AND revoked = 0",
		tokenHash, userID)
	if err != nil {
		return false, fmt.Errorf("revoking matching token: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return rows > 0, nil
}

// RevokeAllForUser marks all refresh tokens for a user as revoked.
// Used on account deactivation and password change. Returns the number
// of tokens revoked.
func (r *SQLiteTokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ? AND revoked = 0", userID)
	if err != nil {
		return 0, fmt.Errorf("revoking all tokens for user: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// Rotate atomically revokes the consumed token and inserts its successor.
// The revoke is conditional on the token still being live: when two
// requests race with the same refresh token, exactly one rotation commits
// and the loser gets ErrTokenRevoked.
func (r *SQLiteTokenRepository) Rotate(ctx context.Context, oldID string, next *RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rotation transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	result, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1 WHERE id = ? AND revoked = 0", oldID)
	if err != nil {
		return fmt.Errorf("revoking old token: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrTokenRevoked
	}

	if next.ID == "" {
		next.ID = "rt-" + uuid.NewString()[:16]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	next.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		next.ID, next.UserID, next.TokenHash,
		next.ExpiresAt.UTC().Format(time.RFC3339),
		boolToInt(next.Revoked), now,
	); err != nil {
		return fmt.Errorf("creating successor token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rotation: %w", err)
	}
	return nil
}

// CountActive returns the number of live refresh tokens across all users.
func (r *SQLiteTokenRepository) CountActive(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM refresh_tokens WHERE revoked = 0 AND expires_at > ?", now,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active tokens: %w", err)
	}
	return count, nil
}

// DeleteExpired removes tokens that have expired, freeing storage.
// Returns the number of deleted rows.
func (r *SQLiteTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// getToken executes a query and scans a single token result.
func (r *SQLiteTokenRepository) getToken(ctx context.Context, query string, args ...any) (*RefreshToken, error) {
	var t RefreshToken
	var revoked int
	var expiresAt, createdAt string

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&t.ID, &t.UserID, &t.TokenHash, &expiresAt, &revoked, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("getting refresh token: %w", err)
	}

	t.Revoked = revoked != 0
	t.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled

	return &t, nil
}
