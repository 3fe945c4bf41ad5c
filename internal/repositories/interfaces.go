package repositories

import (
	"context"
	"time"

	domain "github.com/cleanease/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Payments() PaymentRepository
	Catalog() CatalogRepository
	Users() UserRepository

	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order documents and provides query helpers for users and staff.
// Update must apply a compare-and-swap on the stored document so concurrent
// writers observe a conflict rather than silently overwriting each other.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// PaymentRepository persists payment attempts keyed by id and provider reference.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	Update(ctx context.Context, payment domain.Payment) error
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	FindByProviderRef(ctx context.Context, providerRef string) (domain.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
	List(ctx context.Context, filter PaymentListFilter) (domain.CursorPage[domain.Payment], error)
}

// CatalogRepository stores the orderable laundry service definitions.
type CatalogRepository interface {
	Insert(ctx context.Context, service domain.CatalogService) error
	Update(ctx context.Context, service domain.CatalogService) error
	FindByID(ctx context.Context, serviceID string) (domain.CatalogService, error)
	List(ctx context.Context, filter CatalogListFilter) (domain.CursorPage[domain.CatalogService], error)
}

// UserRepository stores account profiles for customers and staff.
type UserRepository interface {
	Upsert(ctx context.Context, user domain.User) (domain.User, error)
	FindByID(ctx context.Context, userID string) (domain.User, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID     string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type PaymentListFilter struct {
	UserID     string
	OrderID    string
	Status     []string
	Pagination domain.Pagination
}

type CatalogListFilter struct {
	Category   string
	OnlyActive bool
	Pagination domain.Pagination
}
