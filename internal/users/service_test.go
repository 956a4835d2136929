package users

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type seqIDGenerator struct {
	next int
}

func (g *seqIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("user-%d", g.next), nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	databasePath := filepath.Join(t.TempDir(), "users_test.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1760000000, 0).UTC() },
		IDProvider: &seqIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	return service
}

func TestEnsureUserCreatesOnFirstLogin(t *testing.T) {
	service := newTestService(t)

	user, err := service.EnsureUser(context.Background(), "demo@example.com", "Demo User")
	if err != nil {
		t.Fatalf("failed to ensure user: %v", err)
	}
	if user.ID == "" || user.Email != "demo@example.com" || user.Name != "Demo User" {
		t.Fatalf("unexpected user %#v", user)
	}
}

func TestEnsureUserReusesExistingAccount(t *testing.T) {
	service := newTestService(t)

	first, err := service.EnsureUser(context.Background(), "demo@example.com", "Demo User")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	second, err := service.EnsureUser(context.Background(), "Demo@Example.com", "Someone Else")
	if err != nil {
		t.Fatalf("failed to ensure existing user: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same account, got %s and %s", first.ID, second.ID)
	}
	if second.Name != "Demo User" {
		t.Fatalf("expected original name to survive, got %s", second.Name)
	}
}

func TestEnsureUserDefaultsNameFromEmail(t *testing.T) {
	service := newTestService(t)

	user, err := service.EnsureUser(context.Background(), "asha.verma@example.com", "")
	if err != nil {
		t.Fatalf("failed to ensure user: %v", err)
	}
	if user.Name != "asha.verma" {
		t.Fatalf("expected local part as name, got %s", user.Name)
	}
}

func TestEnsureUserRejectsInvalidEmail(t *testing.T) {
	service := newTestService(t)

	for _, email := range []string{"", "   ", "not-an-email"} {
		if _, err := service.EnsureUser(context.Background(), email, ""); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("expected ErrInvalidEmail for %q, got %v", email, err)
		}
	}
}

func TestGetByIDReturnsNotFound(t *testing.T) {
	service := newTestService(t)

	if _, err := service.GetByID(context.Background(), "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	created, err := service.EnsureUser(context.Background(), "demo@example.com", "")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	loaded, err := service.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("failed to load user: %v", err)
	}
	if loaded.Email != created.Email {
		t.Fatalf("unexpected user %#v", loaded)
	}
}
