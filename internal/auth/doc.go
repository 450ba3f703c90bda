// Package auth provides authentication and session lifecycle for MealBridge Core.
//
// It implements a 4-role account model (consumer, vendor, ngo, admin) with:
//   - Bcrypt password hashing with per-hash random salt
//   - Purpose-tagged HS256 JWT access/refresh tokens with refresh rotation
//   - Persistent refresh-token revocation (SQLite) backed by an ephemeral
//     Redis blacklist that expires entries alongside the tokens themselves
//   - Email OTP challenges for admin step-up verification
//
// Refresh tokens are stored hashed (SHA-256); the raw token never touches
// the database. Rotation revokes the presented token and issues a fresh
// pair in a single transaction, so a replayed refresh token loses the race
// and is rejected.
package auth
