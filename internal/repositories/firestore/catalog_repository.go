package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/cleanease/api/internal/domain"
	pfirestore "github.com/cleanease/api/internal/platform/firestore"
	"github.com/cleanease/api/internal/repositories"
)

const (
	catalogCollection = "services"

	defaultCatalogPageSize = 50
	maxCatalogPageSize     = 100
)

// CatalogRepository stores the orderable service definitions within Firestore.
type CatalogRepository struct {
	base     *pfirestore.BaseRepository[catalogDocument]
	provider *pfirestore.Provider
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[catalogDocument](provider, catalogCollection, nil, nil)
	return &CatalogRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the service document; an existing id surfaces as a conflict.
func (r *CatalogRepository) Insert(ctx context.Context, service domain.CatalogService) error {
	if r == nil || r.base == nil {
		return errors.New("catalog repository not initialised")
	}
	serviceID := strings.TrimSpace(service.ID)
	if serviceID == "" {
		return errors.New("catalog repository: service id is required")
	}

	ref, err := r.base.DocumentRef(ctx, serviceID)
	if err != nil {
		return err
	}
	_, err = ref.Create(ctx, catalogToDocument(service))
	return pfirestore.WrapError("services.insert", err)
}

// Update rewrites the service document.
func (r *CatalogRepository) Update(ctx context.Context, service domain.CatalogService) error {
	if r == nil || r.base == nil {
		return errors.New("catalog repository not initialised")
	}
	serviceID := strings.TrimSpace(service.ID)
	if serviceID == "" {
		return errors.New("catalog repository: service id is required")
	}

	ref, err := r.base.DocumentRef(ctx, serviceID)
	if err != nil {
		return err
	}
	doc := catalogToDocument(service)

	return pfirestore.WrapError("services.update", r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Set(ref, doc)
	}))
}

// FindByID loads the service by document id.
func (r *CatalogRepository) FindByID(ctx context.Context, serviceID string) (domain.CatalogService, error) {
	if r == nil || r.base == nil {
		return domain.CatalogService{}, errors.New("catalog repository not initialised")
	}
	serviceID = strings.TrimSpace(serviceID)
	if serviceID == "" {
		return domain.CatalogService{}, errors.New("catalog repository: service id is required")
	}

	doc, err := r.base.Get(ctx, serviceID)
	if err != nil {
		return domain.CatalogService{}, err
	}
	return catalogFromDocument(doc.ID, doc.Data, doc.UpdateTime), nil
}

// List queries catalog services filtered by category and active flag.
func (r *CatalogRepository) List(ctx context.Context, filter repositories.CatalogListFilter) (domain.CursorPage[domain.CatalogService], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.CatalogService]{}, errors.New("catalog repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultCatalogPageSize
	}
	if pageSize > maxCatalogPageSize {
		pageSize = maxCatalogPageSize
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		if category := strings.TrimSpace(filter.Category); category != "" {
			query = query.Where("category", "==", category)
		}
		if filter.OnlyActive {
			query = query.Where("active", "==", true)
		}
		query = query.OrderBy(firestore.DocumentID, firestore.Asc)
		if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
			query = query.StartAfter(token)
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.CatalogService]{}, err
	}

	page := domain.CursorPage[domain.CatalogService]{}
	for i, doc := range docs {
		if i == pageSize {
			page.NextPageToken = docs[pageSize-1].ID
			break
		}
		page.Items = append(page.Items, catalogFromDocument(doc.ID, doc.Data, doc.UpdateTime))
	}
	return page, nil
}

func catalogToDocument(service domain.CatalogService) catalogDocument {
	return catalogDocument{
		Name:        service.Name,
		Description: service.Description,
		Category:    service.Category,
		UnitPrice:   service.UnitPrice,
		Active:      service.Active,
		CreatedAt:   service.CreatedAt.UTC(),
		UpdatedAt:   service.UpdatedAt.UTC(),
	}
}

func catalogFromDocument(id string, doc catalogDocument, updateTime time.Time) domain.CatalogService {
	updatedAt := doc.UpdatedAt
	if !updateTime.IsZero() {
		updatedAt = updateTime
	}
	return domain.CatalogService{
		ID:          id,
		Name:        doc.Name,
		Description: doc.Description,
		Category:    doc.Category,
		UnitPrice:   doc.UnitPrice,
		Active:      doc.Active,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   updatedAt,
	}
}

type catalogDocument struct {
	Name        string    `firestore:"name"`
	Description string    `firestore:"description,omitempty"`
	Category    string    `firestore:"category"`
	UnitPrice   int64     `firestore:"unitPrice"`
	Active      bool      `firestore:"active"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
