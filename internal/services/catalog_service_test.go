package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/cleanease/api/internal/domain"
	"github.com/cleanease/api/internal/repositories"
)

func TestCatalogServiceCreateRequiresAdmin(t *testing.T) {
	service, err := NewCatalogService(CatalogServiceDeps{Catalog: &stubCatalogRepository{}})
	if err != nil {
		t.Fatalf("unexpected error constructing catalog service: %v", err)
	}

	_, err = service.CreateService(context.Background(), UpsertCatalogServiceCommand{
		Actor:     Actor{ID: "staff-1", Roles: []string{domain.RoleStaff}},
		Name:      "Wash & Fold",
		Category:  "wash",
		UnitPrice: 500,
	})
	if !errors.Is(err, ErrCatalogUnauthorized) {
		t.Fatalf("expected ErrCatalogUnauthorized for non-admin staff, got %v", err)
	}
}

func TestCatalogServiceCreateSanitizesAndDefaultsActive(t *testing.T) {
	now := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	var inserted domain.CatalogService

	repo := &stubCatalogRepository{
		insertFunc: func(ctx context.Context, svc domain.CatalogService) error {
			inserted = svc
			return nil
		},
	}

	service, err := NewCatalogService(CatalogServiceDeps{
		Catalog:     repo,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01SVC" },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing catalog service: %v", err)
	}

	svc, err := service.CreateService(context.Background(), UpsertCatalogServiceCommand{
		Actor:       Actor{ID: "admin-1", Roles: []string{domain.RoleAdmin}},
		Name:        "  <b>Dry Cleaning</b>  ",
		Description: "Solvent based",
		Category:    "dry_clean",
		UnitPrice:   1500,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if svc.ID != "svc_01SVC" {
		t.Fatalf("expected id svc_01SVC, got %q", svc.ID)
	}
	if svc.Name != "Dry Cleaning" {
		t.Fatalf("expected markup stripped, got %q", svc.Name)
	}
	if !svc.Active {
		t.Fatalf("expected active by default")
	}
	if !svc.CreatedAt.Equal(now) || !svc.UpdatedAt.Equal(now) {
		t.Fatalf("expected timestamps %v, got %v/%v", now, svc.CreatedAt, svc.UpdatedAt)
	}
	if inserted.ID != svc.ID {
		t.Fatalf("expected service persisted")
	}
}

func TestCatalogServiceCreateValidation(t *testing.T) {
	service, err := NewCatalogService(CatalogServiceDeps{Catalog: &stubCatalogRepository{}})
	if err != nil {
		t.Fatalf("unexpected error constructing catalog service: %v", err)
	}

	admin := Actor{ID: "admin-1", Roles: []string{domain.RoleAdmin}}
	cases := []struct {
		name string
		cmd  UpsertCatalogServiceCommand
	}{
		{name: "missing name", cmd: UpsertCatalogServiceCommand{Actor: admin, Category: "wash", UnitPrice: 500}},
		{name: "missing category", cmd: UpsertCatalogServiceCommand{Actor: admin, Name: "Wash", UnitPrice: 500}},
		{name: "zero price", cmd: UpsertCatalogServiceCommand{Actor: admin, Name: "Wash", Category: "wash"}},
		{name: "negative price", cmd: UpsertCatalogServiceCommand{Actor: admin, Name: "Wash", Category: "wash", UnitPrice: -1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := service.CreateService(context.Background(), tc.cmd); !errors.Is(err, ErrCatalogInvalidInput) {
				t.Fatalf("expected ErrCatalogInvalidInput, got %v", err)
			}
		})
	}
}

func TestCatalogServiceUpdateAppliesActiveFlag(t *testing.T) {
	now := time.Date(2025, 2, 2, 10, 0, 0, 0, time.UTC)
	var updated domain.CatalogService

	repo := &stubCatalogRepository{
		findByIDFunc: func(ctx context.Context, serviceID string) (domain.CatalogService, error) {
			return domain.CatalogService{
				ID:        serviceID,
				Name:      "Wash & Fold",
				Category:  "wash",
				UnitPrice: 500,
				Active:    true,
				CreatedAt: now.Add(-24 * time.Hour),
			}, nil
		},
		updateFunc: func(ctx context.Context, svc domain.CatalogService) error {
			updated = svc
			return nil
		},
	}

	service, err := NewCatalogService(CatalogServiceDeps{
		Catalog: repo,
		Clock:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing catalog service: %v", err)
	}

	inactive := false
	svc, err := service.UpdateService(context.Background(), UpsertCatalogServiceCommand{
		Actor:     Actor{ID: "admin-1", Roles: []string{domain.RoleAdmin}},
		ServiceID: "svc_1",
		Name:      "Wash & Fold",
		Category:  "wash",
		UnitPrice: 600,
		Active:    &inactive,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if svc.Active {
		t.Fatalf("expected service deactivated")
	}
	if svc.UnitPrice != 600 {
		t.Fatalf("expected unit price 600, got %d", svc.UnitPrice)
	}
	if !svc.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated_at %v, got %v", now, svc.UpdatedAt)
	}
	if updated.Active {
		t.Fatalf("expected deactivation persisted")
	}
}

func TestCatalogServiceResolveNotFound(t *testing.T) {
	repo := &stubCatalogRepository{
		findByIDFunc: func(ctx context.Context, serviceID string) (domain.CatalogService, error) {
			return domain.CatalogService{}, &repositoryErrorStub{notFound: true}
		},
	}

	service, err := NewCatalogService(CatalogServiceDeps{Catalog: repo})
	if err != nil {
		t.Fatalf("unexpected error constructing catalog service: %v", err)
	}

	_, err = service.Resolve(context.Background(), "svc_missing")
	if !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected ErrCatalogNotFound, got %v", err)
	}
}

func TestCatalogServiceListPassesFilter(t *testing.T) {
	var captured repositories.CatalogListFilter
	repo := &stubCatalogRepository{
		listFunc: func(ctx context.Context, filter repositories.CatalogListFilter) (domain.CursorPage[domain.CatalogService], error) {
			captured = filter
			return domain.CursorPage[domain.CatalogService]{
				Items: []domain.CatalogService{{ID: "svc_1"}},
			}, nil
		},
	}

	service, err := NewCatalogService(CatalogServiceDeps{Catalog: repo})
	if err != nil {
		t.Fatalf("unexpected error constructing catalog service: %v", err)
	}

	page, err := service.ListServices(context.Background(), CatalogListFilter{Category: "wash", OnlyActive: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(page.Items))
	}
	if captured.Category != "wash" || !captured.OnlyActive {
		t.Fatalf("unexpected filter %+v", captured)
	}
}

type stubCatalogRepository struct {
	insertFunc   func(ctx context.Context, svc domain.CatalogService) error
	updateFunc   func(ctx context.Context, svc domain.CatalogService) error
	findByIDFunc func(ctx context.Context, serviceID string) (domain.CatalogService, error)
	listFunc     func(ctx context.Context, filter repositories.CatalogListFilter) (domain.CursorPage[domain.CatalogService], error)
}

func (s *stubCatalogRepository) Insert(ctx context.Context, svc domain.CatalogService) error {
	if s.insertFunc != nil {
		return s.insertFunc(ctx, svc)
	}
	return nil
}

func (s *stubCatalogRepository) Update(ctx context.Context, svc domain.CatalogService) error {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, svc)
	}
	return nil
}

func (s *stubCatalogRepository) FindByID(ctx context.Context, serviceID string) (domain.CatalogService, error) {
	if s.findByIDFunc != nil {
		return s.findByIDFunc(ctx, serviceID)
	}
	return domain.CatalogService{}, errors.New("not implemented")
}

func (s *stubCatalogRepository) List(ctx context.Context, filter repositories.CatalogListFilter) (domain.CursorPage[domain.CatalogService], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[domain.CatalogService]{}, nil
}
