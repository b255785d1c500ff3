package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"tiendapos/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func newStubManager(store *userStoreStub) *AuthManager {
	return NewAuthManager(context.Background(), "test-secret", time.Hour, "123456", store, nil)
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := newStubManager(store)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestTokenCarriesRoleAndLocation(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := newStubManager(store)

	if _, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{
		Username:   "bodeguero",
		Password:   "pass1234",
		Role:       domain.RoleWarehouse,
		LocationID: "bodega-central",
	}); err != nil {
		t.Fatalf("create user failed: %v", err)
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "Bodeguero", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.LocationID != "bodega-central" {
		t.Fatalf("expected location in login response, got %q", resp.LocationID)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "bodeguero" || actor.Role != domain.RoleWarehouse || actor.LocationID != "bodega-central" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestCreateUserStoresPasswordHash(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := newStubManager(store)

	user, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{
		Username:   "cajera",
		Password:   "pass1234",
		Role:       domain.RoleCashier,
		LocationID: "tienda-centro",
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if user.Username != "cajera" {
		t.Fatalf("unexpected username %s", user.Username)
	}

	saved := store.users["cajera"]
	if saved.Password == "pass1234" || !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %s", saved.Password)
	}

	if _, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{Username: "cajera", Password: "pass1234", LocationID: "x"}); err == nil {
		t.Fatalf("expected duplicate username to fail")
	}
	if _, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{Username: "sinlugar", Password: "pass1234", Role: domain.RoleCashier}); err == nil {
		t.Fatalf("expected cashier without location to fail")
	}
	if _, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{Username: "jefazo", Password: "pass1234", Role: "owner"}); err == nil {
		t.Fatalf("expected unknown role to fail")
	}

	cashiers := manager.ListUsers(context.Background(), domain.RoleCashier)
	if len(cashiers) != 1 || cashiers[0].Username != "cajera" {
		t.Fatalf("expected one cashier, got %+v", cashiers)
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "654321", store, nil)

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}
	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}
	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	manager := newStubManager(&userStoreStub{})
	other := NewAuthManager(context.Background(), "other-secret", time.Hour, "123456", nil, nil)

	token, err := other.sign("admin", domain.RoleAdmin, "", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}
