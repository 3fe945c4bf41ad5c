package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/cleanease/api/internal/platform/firestore"
	"github.com/cleanease/api/internal/repositories"
)

// notFoundError synthesises a missing-document error for query-based lookups,
// keeping classification consistent with direct document reads.
func notFoundError(msg string) error {
	return status.Error(codes.NotFound, msg)
}

type txContextKey struct{}

// withTx attaches a running Firestore transaction to the context so repository
// calls made inside RunInTx participate in it.
func withTx(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

func txFrom(ctx context.Context) *firestore.Transaction {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx
}

// Registry bundles the Firestore-backed repositories behind the repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	orders   *OrderRepository
	payments *PaymentRepository
	catalog  *CatalogRepository
	users    *UserRepository
}

// NewRegistry constructs the Firestore repository registry.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	payments, err := NewPaymentRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider: provider,
		orders:   orders,
		payments: payments,
		catalog:  catalog,
		users:    users,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Payments returns the payment repository.
func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }

// Catalog returns the catalog repository.
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

// Users returns the user repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// RunInTx executes fn inside a Firestore transaction. Repository calls made
// with the derived context read and write through the transaction, so the
// usual read-before-write ordering applies.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("registry: transaction function is nil")
	}
	if txFrom(ctx) != nil {
		// Already transactional; Firestore does not support nesting.
		return fn(ctx)
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		return fn(withTx(txCtx, tx))
	})
}

var _ repositories.Registry = (*Registry)(nil)
