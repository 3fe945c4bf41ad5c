package services

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	domain "github.com/cleanease/api/internal/domain"
)

func TestUserServiceEnsureProfileDefaultsCustomerRole(t *testing.T) {
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	var upserted domain.User

	repo := &stubUserRepository{
		upsertFunc: func(ctx context.Context, user domain.User) (domain.User, error) {
			upserted = user
			return user, nil
		},
	}

	service, err := NewUserService(UserServiceDeps{
		Users: repo,
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing user service: %v", err)
	}

	profile, err := service.EnsureProfile(context.Background(), EnsureProfileCommand{
		UserID:      " uid-1 ",
		Email:       " alex@example.com ",
		DisplayName: "Alex",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if profile.ID != "uid-1" {
		t.Fatalf("expected trimmed id uid-1, got %q", profile.ID)
	}
	if profile.Email != "alex@example.com" {
		t.Fatalf("expected trimmed email, got %q", profile.Email)
	}
	if !slices.Equal(profile.Roles, []string{domain.RoleCustomer}) {
		t.Fatalf("expected default customer role, got %v", profile.Roles)
	}
	if !upserted.CreatedAt.Equal(now) {
		t.Fatalf("expected created_at %v, got %v", now, upserted.CreatedAt)
	}
}

func TestUserServiceEnsureProfileNormalisesRoles(t *testing.T) {
	repo := &stubUserRepository{
		upsertFunc: func(ctx context.Context, user domain.User) (domain.User, error) {
			return user, nil
		},
	}

	service, err := NewUserService(UserServiceDeps{Users: repo})
	if err != nil {
		t.Fatalf("unexpected error constructing user service: %v", err)
	}

	profile, err := service.EnsureProfile(context.Background(), EnsureProfileCommand{
		UserID: "uid-1",
		Roles:  []string{domain.RoleStaff, domain.RoleCustomer, domain.RoleStaff},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !slices.Equal(profile.Roles, []string{domain.RoleCustomer, domain.RoleStaff}) {
		t.Fatalf("expected sorted deduped roles, got %v", profile.Roles)
	}
}

func TestUserServiceEnsureProfileRequiresID(t *testing.T) {
	service, err := NewUserService(UserServiceDeps{Users: &stubUserRepository{}})
	if err != nil {
		t.Fatalf("unexpected error constructing user service: %v", err)
	}

	_, err = service.EnsureProfile(context.Background(), EnsureProfileCommand{Email: "alex@example.com"})
	if !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected ErrUserInvalidInput, got %v", err)
	}
}

func TestUserServiceGetProfileNotFound(t *testing.T) {
	repo := &stubUserRepository{
		findByIDFunc: func(ctx context.Context, userID string) (domain.User, error) {
			return domain.User{}, &repositoryErrorStub{notFound: true}
		},
	}

	service, err := NewUserService(UserServiceDeps{Users: repo})
	if err != nil {
		t.Fatalf("unexpected error constructing user service: %v", err)
	}

	_, err = service.GetProfile(context.Background(), "uid-missing")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

type stubUserRepository struct {
	upsertFunc   func(ctx context.Context, user domain.User) (domain.User, error)
	findByIDFunc func(ctx context.Context, userID string) (domain.User, error)
}

func (s *stubUserRepository) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, user)
	}
	return user, nil
}

func (s *stubUserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if s.findByIDFunc != nil {
		return s.findByIDFunc(ctx, userID)
	}
	return domain.User{}, errors.New("not implemented")
}
