package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/cleanease/api/internal/domain"
	"github.com/cleanease/api/internal/repositories"
)

const catalogIDPrefix = "svc_"

var (
	// ErrCatalogInvalidInput signals the caller provided invalid data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the catalog service could not be located.
	ErrCatalogNotFound = errors.New("catalog: service not found")
	// ErrCatalogConflict indicates concurrent catalog mutations collided.
	ErrCatalogConflict = errors.New("catalog: conflict")
	// ErrCatalogUnauthorized indicates the actor may not manage the catalog.
	ErrCatalogUnauthorized = errors.New("catalog: unauthorized")
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Catalog     repositories.CatalogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	catalog  repositories.CatalogRepository
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
	sanitize *bluemonday.Policy
}

// NewCatalogService wires dependencies into a concrete CatalogLookupService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogLookupService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		catalog: deps.Catalog,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		logger:   logger,
		sanitize: bluemonday.StrictPolicy(),
	}, nil
}

func (s *catalogService) Resolve(ctx context.Context, serviceID string) (CatalogService, error) {
	serviceID = strings.TrimSpace(serviceID)
	if serviceID == "" {
		return CatalogService{}, fmt.Errorf("%w: service id is required", ErrCatalogInvalidInput)
	}

	svc, err := s.catalog.FindByID(ctx, serviceID)
	if err != nil {
		return CatalogService{}, s.mapRepositoryError(err)
	}
	return svc, nil
}

func (s *catalogService) ListServices(ctx context.Context, filter CatalogListFilter) (domain.CursorPage[CatalogService], error) {
	page, err := s.catalog.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[CatalogService]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) CreateService(ctx context.Context, cmd UpsertCatalogServiceCommand) (CatalogService, error) {
	if !cmd.Actor.HasRole(domain.RoleAdmin) {
		return CatalogService{}, fmt.Errorf("%w: catalog management requires the admin role", ErrCatalogUnauthorized)
	}
	if err := s.validateUpsert(cmd); err != nil {
		return CatalogService{}, err
	}

	now := s.now()
	svc := CatalogService{
		ID:          catalogIDPrefix + s.newID(),
		Name:        s.clean(cmd.Name),
		Description: s.clean(cmd.Description),
		Category:    s.clean(cmd.Category),
		UnitPrice:   cmd.UnitPrice,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cmd.Active != nil {
		svc.Active = *cmd.Active
	}

	if err := s.catalog.Insert(ctx, svc); err != nil {
		return CatalogService{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.service.created", map[string]any{
		"service":  svc.ID,
		"category": svc.Category,
		"price":    svc.UnitPrice,
	})

	return svc, nil
}

func (s *catalogService) UpdateService(ctx context.Context, cmd UpsertCatalogServiceCommand) (CatalogService, error) {
	if !cmd.Actor.HasRole(domain.RoleAdmin) {
		return CatalogService{}, fmt.Errorf("%w: catalog management requires the admin role", ErrCatalogUnauthorized)
	}
	serviceID := strings.TrimSpace(cmd.ServiceID)
	if serviceID == "" {
		return CatalogService{}, fmt.Errorf("%w: service id is required", ErrCatalogInvalidInput)
	}
	if err := s.validateUpsert(cmd); err != nil {
		return CatalogService{}, err
	}

	svc, err := s.catalog.FindByID(ctx, serviceID)
	if err != nil {
		return CatalogService{}, s.mapRepositoryError(err)
	}

	svc.Name = s.clean(cmd.Name)
	svc.Description = s.clean(cmd.Description)
	svc.Category = s.clean(cmd.Category)
	svc.UnitPrice = cmd.UnitPrice
	if cmd.Active != nil {
		svc.Active = *cmd.Active
	}
	svc.UpdatedAt = s.now()

	if err := s.catalog.Update(ctx, svc); err != nil {
		return CatalogService{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.service.updated", map[string]any{
		"service": svc.ID,
		"active":  svc.Active,
	})

	return svc, nil
}

func (s *catalogService) validateUpsert(cmd UpsertCatalogServiceCommand) error {
	if strings.TrimSpace(cmd.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if strings.TrimSpace(cmd.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrCatalogInvalidInput)
	}
	if cmd.UnitPrice <= 0 {
		return fmt.Errorf("%w: unit price must be positive", ErrCatalogInvalidInput)
	}
	return nil
}

func (s *catalogService) clean(value string) string {
	return strings.TrimSpace(s.sanitize.Sanitize(value))
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *catalogService) now() time.Time {
	return s.clock()
}
