package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cleanease/api/internal/payments"
	"github.com/cleanease/api/internal/platform/config"
	"github.com/cleanease/api/internal/repositories"
	"github.com/cleanease/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog  services.CatalogLookupService
	Orders   services.OrderService
	Payments services.PaymentService
	Users    services.UserService
}

// EventPublisher emits both order and payment domain events.
type EventPublisher interface {
	services.OrderEventPublisher
	services.PaymentEventPublisher
}

// ContainerDeps carries the externally constructed collaborators the container wires together.
type ContainerDeps struct {
	Config       config.Config
	Registry     repositories.Registry
	CardProvider payments.Provider
	Events       EventPublisher
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and stub providers.
func NewContainer(ctx context.Context, deps ContainerDeps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, deps ContainerDeps) (Services, error) {
	var svc Services
	reg := deps.Registry

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog: reg.Catalog(),
		Clock:   time.Now,
		Logger:  deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	userSvc, err := services.NewUserService(services.UserServiceDeps{
		Users:  reg.Users(),
		Clock:  time.Now,
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build user service: %w", err)
	}
	svc.Users = userSvc

	orderDeps := services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Catalog:    catalogSvc,
		UnitOfWork: reg,
		Clock:      time.Now,
		Logger:     deps.Logger,
	}
	if deps.Events != nil {
		orderDeps.Events = deps.Events
	}
	orderSvc, err := services.NewOrderService(orderDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if deps.CardProvider == nil {
		return Services{}, errors.New("card payment provider is required")
	}
	paymentDeps := services.PaymentServiceDeps{
		Payments:   reg.Payments(),
		Orders:     reg.Orders(),
		Provider:   deps.CardProvider,
		UnitOfWork: reg,
		Clock:      time.Now,
		Logger:     deps.Logger,
	}
	if deps.Events != nil {
		paymentDeps.Events = deps.Events
	}
	paymentSvc, err := services.NewPaymentService(paymentDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	return svc, nil
}
