package auth

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the auth schema applied.
// The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	// Use a temp file so WAL mode works (in-memory doesn't support it)
	f, err := os.CreateTemp("", "auth-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// Mirrors the embedded migrations
	migrationSQL := `
		CREATE TABLE users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			full_name     TEXT,
			phone_number  TEXT,
			role          TEXT NOT NULL DEFAULT 'consumer'
			              CHECK (role IN ('consumer', 'vendor', 'ngo', 'admin')),
			active        INTEGER NOT NULL DEFAULT 1,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);

		CREATE INDEX idx_users_role ON users(role);

		CREATE TABLE refresh_tokens (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			token_hash TEXT NOT NULL UNIQUE,
			expires_at TEXT NOT NULL,
			revoked    INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX idx_refresh_tokens_user_id ON refresh_tokens(user_id);
		CREATE INDEX idx_refresh_tokens_expires_at ON refresh_tokens(expires_at);

		CREATE TABLE otp_challenges (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL,
			code_hash  TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			used       INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX idx_otp_challenges_email ON otp_challenges(email, created_at);
	`
	if _, err := db.Exec(migrationSQL); err != nil {
		t.Fatalf("applying auth schema: %v", err)
	}

	return db
}

// seedTestUser inserts a test user and returns it. The password is always
// "test-password".
func seedTestUser(t *testing.T, db *sql.DB, email string, role Role) *User {
	t.Helper()

	hash, err := HashPassword("test-password")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	repo := NewUserRepository(db)
	user := &User{
		Email:        email,
		FullName:     "Test User",
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	return user
}

// fakeBlacklist is an in-memory TokenBlacklist with injectable failures.
type fakeBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	failAdd error
	failGet error
}

func newFakeBlacklist() *fakeBlacklist {
	return &fakeBlacklist{entries: make(map[string]time.Time)}
}

func (f *fakeBlacklist) Add(_ context.Context, token string, ttl time.Duration) error {
	if f.failAdd != nil {
		return f.failAdd
	}
	if ttl <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[token] = time.Now().Add(ttl)
	return nil
}

func (f *fakeBlacklist) Contains(_ context.Context, token string) (bool, error) {
	if f.failGet != nil {
		return false, f.failGet
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	deadline, ok := f.entries[token]
	return ok && time.Now().Before(deadline), nil
}

// fakeMailer records sent OTP codes instead of dispatching emails.
type fakeMailer struct {
	mu   sync.Mutex
	sent []sentOTP
	fail error
}

type sentOTP struct {
	to   string
	code string
	ttl  time.Duration
}

func (f *fakeMailer) SendOTP(_ context.Context, to, code string, ttl time.Duration) error {
	if f.fail != nil {
		return f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentOTP{to: to, code: code, ttl: ttl})
	return nil
}

func (f *fakeMailer) lastCode(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no OTP was sent")
	}
	return f.sent[len(f.sent)-1].code
}

// newTestService wires a Service against a fresh test database with fake
// blacklist and mailer. Returns the collaborators for assertions.
func newTestService(t *testing.T) (*Service, *sql.DB, *fakeBlacklist, *fakeMailer) {
	t.Helper()

	db := testDB(t)
	blacklist := newFakeBlacklist()
	mailer := &fakeMailer{}
	codec := NewTokenCodec("test-secret-key-at-least-32-chars!!", 30*time.Minute, 30*24*time.Hour)

	svc := NewService(
		NewUserRepository(db),
		NewTokenRepository(db),
		NewOTPRepository(db),
		codec,
		blacklist,
		mailer,
		10*time.Minute,
		6,
		nil,
	)
	return svc, db, blacklist, mailer
}
