package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestUserRepository_CreateAndGetByID(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	hash, _ := HashPassword("password123")
	user := &User{
		Email:        "vendor@example.com",
		PasswordHash: hash,
		FullName:     "Corner Bakery",
		PhoneNumber:  "+44 20 7946 0102",
		Role:         RoleVendor,
		Active:       true,
	}

	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if user.ID == "" {
		t.Fatal("Create() should generate an ID")
	}
	if !strings.HasPrefix(user.ID, "usr-") {
		t.Errorf("ID = %q, want usr- prefix", user.ID)
	}

	got, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if got.Email != "vendor@example.com" {
		t.Errorf("Email = %q, want %q", got.Email, "vendor@example.com")
	}
	if got.FullName != "Corner Bakery" {
		t.Errorf("FullName = %q, want %q", got.FullName, "Corner Bakery")
	}
	if got.PhoneNumber != "+44 20 7946 0102" {
		t.Errorf("PhoneNumber = %q, want %q", got.PhoneNumber, "+44 20 7946 0102")
	}
	if got.Role != RoleVendor {
		t.Errorf("Role = %q, want %q", got.Role, RoleVendor)
	}
	if !got.Active {
		t.Error("Active should be true")
	}
	if got.PasswordHash == "" {
		t.Error("PasswordHash should be populated")
	}
}

func TestUserRepository_GetByEmail(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	seedTestUser(t, db, "lookup@example.com", RoleConsumer)

	got, err := repo.GetByEmail(ctx, "lookup@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if got.Email != "lookup@example.com" {
		t.Errorf("Email = %q, want %q", got.Email, "lookup@example.com")
	}

	_, err = repo.GetByEmail(ctx, "nobody@example.com")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByEmail(unknown) error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_DuplicateEmail(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	seedTestUser(t, db, "dupe@example.com", RoleConsumer)

	hash, _ := HashPassword("password123")
	dupe := &User{
		Email:        "dupe@example.com",
		PasswordHash: hash,
		Role:         RoleConsumer,
		Active:       true,
	}
	if err := repo.Create(ctx, dupe); !errors.Is(err, ErrEmailExists) {
		t.Errorf("Create(duplicate) error = %v, want ErrEmailExists", err)
	}
}

func TestUserRepository_OptionalFieldsRoundTrip(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	hash, _ := HashPassword("password123")
	user := &User{
		Email:        "bare@example.com",
		PasswordHash: hash,
		Role:         RoleConsumer,
		Active:       true,
	}
	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.FullName != "" {
		t.Errorf("FullName = %q, want empty", got.FullName)
	}
	if got.PhoneNumber != "" {
		t.Errorf("PhoneNumber = %q, want empty", got.PhoneNumber)
	}
}

func TestUserRepository_List(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	seedTestUser(t, db, "a@example.com", RoleConsumer)
	seedTestUser(t, db, "b@example.com", RoleVendor)
	seedTestUser(t, db, "c@example.com", RoleNGO)

	all, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List() returned %d users, want 3", len(all))
	}

	page, err := repo.List(ctx, 2, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page) != 1 {
		t.Errorf("List(limit=2, offset=2) returned %d users, want 1", len(page))
	}
}

func TestUserRepository_List_Empty(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)

	users, err := repo.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if users == nil {
		t.Error("List() should return empty slice, not nil")
	}
	if len(users) != 0 {
		t.Errorf("List() returned %d users, want 0", len(users))
	}
}

func TestUserRepository_Update(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := seedTestUser(t, db, "update@example.com", RoleConsumer)

	user.FullName = "Updated Name"
	user.PhoneNumber = "+44 20 7946 0000"
	if err := repo.Update(ctx, user); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _ := repo.GetByID(ctx, user.ID)
	if got.FullName != "Updated Name" {
		t.Errorf("FullName = %q, want %q", got.FullName, "Updated Name")
	}
	if got.PhoneNumber != "+44 20 7946 0000" {
		t.Errorf("PhoneNumber = %q, want %q", got.PhoneNumber, "+44 20 7946 0000")
	}
}

func TestUserRepository_Update_NotFound(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)

	ghost := &User{ID: "usr-missing", Role: RoleConsumer}
	if err := repo.Update(context.Background(), ghost); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_UpdatePassword(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := seedTestUser(t, db, "repass@example.com", RoleConsumer)

	newHash, _ := HashPassword("a-new-password")
	if err := repo.UpdatePassword(ctx, user.ID, newHash); err != nil {
		t.Fatalf("UpdatePassword() error = %v", err)
	}

	got, _ := repo.GetByID(ctx, user.ID)
	ok, err := VerifyPassword("a-new-password", got.PasswordHash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !ok {
		t.Error("new password should verify after UpdatePassword()")
	}
}

func TestUserRepository_SetActive(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := seedTestUser(t, db, "toggle@example.com", RoleConsumer)

	if err := repo.SetActive(ctx, user.ID, false); err != nil {
		t.Fatalf("SetActive(false) error = %v", err)
	}
	got, _ := repo.GetByID(ctx, user.ID)
	if got.Active {
		t.Error("user should be inactive after SetActive(false)")
	}

	if err := repo.SetActive(ctx, user.ID, true); err != nil {
		t.Fatalf("SetActive(true) error = %v", err)
	}
	got, _ = repo.GetByID(ctx, user.ID)
	if !got.Active {
		t.Error("user should be active after SetActive(true)")
	}

	if err := repo.SetActive(ctx, "usr-missing", false); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("SetActive(missing) error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_Delete(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := seedTestUser(t, db, "gone@example.com", RoleConsumer)

	if err := repo.Delete(ctx, user.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, user.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByID(deleted) error = %v, want ErrUserNotFound", err)
	}

	if err := repo.Delete(ctx, user.ID); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_Count(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 0 {
		t.Errorf("Count() = %d, want 0", count)
	}

	seedTestUser(t, db, "one@example.com", RoleConsumer)
	seedTestUser(t, db, "two@example.com", RoleAdmin)

	count, err = repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}
}

func TestIsValidEmail(t *testing.T) {
	valid := []string{"a@x.com", "vendor+surplus@mealbridge.local", "x@sub.domain.org"}
	for _, e := range valid {
		if !IsValidEmail(e) {
			t.Errorf("IsValidEmail(%q) = false, want true", e)
		}
	}

	invalid := []string{"", "plain", "@x.com", "a@", "a@b", "two@@x.com", "sp ace@x.com"}
	for _, e := range invalid {
		if IsValidEmail(e) {
			t.Errorf("IsValidEmail(%q) = true, want false", e)
		}
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range ValidRoles {
		if !IsValidRole(r) {
			t.Errorf("IsValidRole(%q) = false, want true", r)
		}
	}
	if IsValidRole(Role("superuser")) {
		t.Error("IsValidRole(superuser) = true, want false")
	}
	if IsValidRole(Role("")) {
		t.Error("IsValidRole(empty) = true, want false")
	}
}
