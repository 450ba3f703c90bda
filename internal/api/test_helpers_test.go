package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mealbridge/mealbridge-core/internal/audit"
	"github.com/mealbridge/mealbridge-core/internal/auth"
	"github.com/mealbridge/mealbridge-core/internal/infrastructure/config"
	"github.com/mealbridge/mealbridge-core/internal/infrastructure/database"
	"github.com/mealbridge/mealbridge-core/internal/infrastructure/logging"

	// Registers the embedded production migrations so test databases carry
	// the real schema.
	_ "github.com/mealbridge/mealbridge-core/migrations"
)

// testPassword is the password every seeded account uses.
const testPassword = "correct-horse-battery"

// testLogger returns a logger that discards all output.
func testLogger() *logging.Logger {
	return &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// envOption adjusts the server dependencies before construction.
type envOption func(*Deps)

// withRateLimit enables per-IP limiting on the auth routes.
func withRateLimit(rpm int) envOption {
	return func(d *Deps) {
		d.Security.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: rpm}
	}
}

// withCORS restricts cross-origin requests to the given origins.
func withCORS(origins ...string) envOption {
	return func(d *Deps) {
		d.Config.CORS.AllowedOrigins = origins
	}
}

// testEnv wires a Server against a temp-file SQLite database with fake
// blacklist, mailer and Redis. Requests go through handler, which carries
// the full middleware chain without opening a listener.
type testEnv struct {
	server    *Server
	handler   http.Handler
	db        *database.DB
	users     auth.UserRepository
	tokens    auth.TokenRepository
	sessions  *auth.Service
	codec     *auth.TokenCodec
	blacklist *fakeBlacklist
	mailer    *fakeMailer
	redis     *stubRedis
	auditRepo audit.Repository
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "api-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	codec := auth.NewTokenCodec("api-test-secret-key-32-characters!!", 30*time.Minute, 30*24*time.Hour)
	blacklist := newFakeBlacklist()
	mailer := &fakeMailer{}
	users := auth.NewUserRepository(db.DB)
	tokens := auth.NewTokenRepository(db.DB)

	sessions := auth.NewService(
		users, tokens, auth.NewOTPRepository(db.DB),
		codec, blacklist, mailer,
		10*time.Minute, 6, nil,
	)

	auditRepo := audit.NewSQLiteRepository(db.DB)
	writer := audit.NewWriter(auditRepo, 64, nil)
	t.Cleanup(writer.Close)

	red := &stubRedis{}

	deps := Deps{
		Config: config.ServerConfig{
			Host:     "127.0.0.1",
			Timeouts: config.ServerTimeoutConfig{Read: 15, Write: 15, Idle: 60},
		},
		Logger:    testLogger(),
		DB:        db,
		Redis:     red,
		Users:     users,
		Tokens:    tokens,
		Sessions:  sessions,
		Codec:     codec,
		Blacklist: blacklist,
		Audit:     writer,
		AuditRepo: auditRepo,
		Version:   "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("constructing server: %v", err)
	}

	return &testEnv{
		server:    srv,
		handler:   srv.buildRouter(),
		db:        db,
		users:     users,
		tokens:    tokens,
		sessions:  sessions,
		codec:     codec,
		blacklist: blacklist,
		mailer:    mailer,
		redis:     red,
		auditRepo: auditRepo,
	}
}

// seedUser inserts an active account with the shared test password.
func (e *testEnv) seedUser(t *testing.T, email string, role auth.Role) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	user := &auth.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     "Test User",
		Role:         role,
		Active:       true,
	}
	if err := e.users.Create(context.Background(), user); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	return user
}

// login exchanges credentials for a token pair through the real endpoint.
func (e *testEnv) login(t *testing.T, email, password string) *auth.TokenPair {
	t.Helper()

	rr := e.doForm(t, "/api/v1/auth/login", url.Values{
		"username": {email},
		"password": {password},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rr.Code, rr.Body.String())
	}

	var pair auth.TokenPair
	decodeBody(t, rr, &pair)
	return &pair
}

// doJSON performs a JSON request against the router. A non-empty bearer
// goes in the Authorization header.
func (e *testEnv) doJSON(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling request body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// doRaw performs a request with a literal body and content type.
func (e *testEnv) doRaw(t *testing.T, method, path, body, contentType, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// doForm performs a form-encoded POST, the login endpoint's shape.
func (e *testEnv) doForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	return e.doRaw(t, http.MethodPost, path, form.Encode(), "application/x-www-form-urlencoded", "")
}

// waitForAudit polls until at least n entries match the filter. The audit
// writer persists asynchronously, so assertions on the trail must wait.
func (e *testEnv) waitForAudit(t *testing.T, filter audit.Filter, n int) *audit.ListResult {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		res, err := e.auditRepo.List(context.Background(), filter)
		if err != nil {
			t.Fatalf("listing audit logs: %v", err)
		}
		if res.Total >= n {
			return res
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit trail has %d matching entries, want at least %d", res.Total, n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// decodeBody unmarshals a recorded response body into out.
func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
}

// envelope mirrors the failure response shape.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// wantFailure asserts a failure envelope with the given status and message.
func wantFailure(t *testing.T, rr *httptest.ResponseRecorder, status int, message string) {
	t.Helper()

	if rr.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, status, rr.Body.String())
	}

	var env envelope
	decodeBody(t, rr, &env)
	if env.Success {
		t.Error("success = true, want false")
	}
	if env.Message != message {
		t.Errorf("message = %q, want %q", env.Message, message)
	}
	if string(env.Data) != "null" {
		t.Errorf("data = %s, want null", env.Data)
	}
}

// stubRedis satisfies RedisHealthChecker with an injectable failure.
type stubRedis struct {
	mu   sync.Mutex
	fail error
}

func (s *stubRedis) HealthCheck(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail
}

func (s *stubRedis) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
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
}

func (f *fakeMailer) SendOTP(_ context.Context, to, code string, _ time.Duration) error {
	if f.fail != nil {
		return f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentOTP{to: to, code: code})
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
