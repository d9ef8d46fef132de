package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:    "alice@example.com",
		Password: "supersafe",
		FullName: "Alice Potter",
	}

	ctx := context.Background()
	user, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if user.Email != req.Email {
		t.Fatalf("expected email %q got %q", req.Email, user.Email)
	}
	if user.Role != RoleCustomer {
		t.Fatalf("register: expected default role %s got %s", RoleCustomer, user.Role)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.User.ID != user.ID {
		t.Fatalf("login: expected user id %q got %q", user.ID, resp.User.ID)
	}
	if resp.User.Role != RoleCustomer {
		t.Fatalf("login: expected role %s got %s", RoleCustomer, resp.User.Role)
	}

	identity, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if identity.UserID != user.ID {
		t.Fatalf("verify token: expected %q got %q", user.ID, identity.UserID)
	}
	if identity.Role != RoleCustomer {
		t.Fatalf("verify token: expected role %s got %s", RoleCustomer, identity.Role)
	}
}

func TestService_RegisterVendor(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret")

	user, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "wren@example.com",
		Password: "kilnfired",
		FullName: "Wren Weaver",
		Role:     RoleVendor,
	})
	if err != nil {
		t.Fatalf("register vendor: %v", err)
	}
	if user.Role != RoleVendor {
		t.Fatalf("expected vendor role, got %s", user.Role)
	}
}

func TestService_RegisterRejectsAdmin(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "root@example.com",
		Password: "supersafe",
		FullName: "Root",
		Role:     RoleAdmin,
	})
	if !errors.Is(err, ErrRoleNotAllowed) {
		t.Fatalf("expected ErrRoleNotAllowed, got %v", err)
	}
}

func TestService_VerifyTokenExpired(t *testing.T) {
	repo := newFakeRepository()
	issuedAt := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(repo, "test-secret").WithClock(func() time.Time { return issuedAt })

	user, err := repo.CreateUser(context.Background(), CreateUserParams{Email: "a@example.com", FullName: "A", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	token, err := svc.IssueToken(user)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	svc.WithClock(func() time.Time { return issuedAt.Add(25 * time.Hour) })
	if _, err := svc.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestService_VerifyTokenWrongSecret(t *testing.T) {
	repo := newFakeRepository()
	issuer := NewService(repo, "secret-a")
	verifier := NewService(repo, "secret-b")

	token, err := issuer.IssueToken(User{ID: "user-9", Role: RoleVendor})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := verifier.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "alice@example.com",
		Password: "short",
		FullName: "Alice Potter",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "",
		Password: "strongpassword",
		FullName: "",
	}); err == nil {
		t.Fatal("expected validation error for missing fields")
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:    "alice@example.com",
		Password: "strongpassword",
		FullName: "Alice Potter",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "unknown@example.com",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

type fakeRepository struct {
	usersByEmail map[string]User
	usersByID    map[string]User
	nextID       int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		usersByEmail: make(map[string]User),
		usersByID:    make(map[string]User),
		nextID:       1,
	}
}

func (f *fakeRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if _, exists := f.usersByEmail[strings.ToLower(params.Email)]; exists {
		return User{}, ErrDuplicateEmail
	}

	id := fmt.Sprintf("user-%d", f.nextID)
	f.nextID++
	role := params.Role
	if role == "" {
		role = RoleCustomer
	}

	user := User{
		ID:           id,
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	f.usersByEmail[strings.ToLower(user.Email)] = user
	f.usersByID[user.ID] = user

	return user, nil
}

func (f *fakeRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, ok := f.usersByEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, ok := f.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}
