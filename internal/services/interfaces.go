package services

import (
	"context"
	"time"

	domain "github.com/cleanease/api/internal/domain"
	"github.com/cleanease/api/internal/payments"
	"github.com/cleanease/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination     = domain.Pagination
	Actor          = domain.Actor
	Order          = domain.Order
	OrderItem      = domain.OrderItem
	OrderStatus    = domain.OrderStatus
	Payment        = domain.Payment
	PaymentMethod  = domain.PaymentMethod
	PaymentStatus  = domain.PaymentStatus
	CatalogService = domain.CatalogService
	User           = domain.User
)

// CatalogLookupService resolves orderable laundry services and their current pricing.
type CatalogLookupService interface {
	Resolve(ctx context.Context, serviceID string) (CatalogService, error)
	ListServices(ctx context.Context, filter CatalogListFilter) (domain.CursorPage[CatalogService], error)
	CreateService(ctx context.Context, cmd UpsertCatalogServiceCommand) (CatalogService, error)
	UpdateService(ctx context.Context, cmd UpsertCatalogServiceCommand) (CatalogService, error)
}

// OrderService encapsulates order creation, edits inside the modifiable window,
// lifecycle transitions, and cancellation.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error)
	GetOrderByNumber(ctx context.Context, actor Actor, orderNumber string) (Order, error)
	ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// PaymentService handles card/cash settlement flows and provider event reconciliation.
type PaymentService interface {
	CreateCardPayment(ctx context.Context, cmd CreateCardPaymentCommand) (CardPaymentResult, error)
	ProcessCashPayment(ctx context.Context, cmd ProcessCashPaymentCommand) (Payment, error)
	CancelPayment(ctx context.Context, cmd CancelPaymentCommand) (Payment, error)
	GetPayment(ctx context.Context, actor Actor, paymentID string) (Payment, error)
	ListOrderPayments(ctx context.Context, actor Actor, orderID string) ([]Payment, error)
	ListMyPayments(ctx context.Context, actor Actor, page Pagination) (domain.CursorPage[Payment], error)
	HandleProviderEvent(ctx context.Context, event ProviderEvent) error
}

// UserService maintains account profiles mirrored from the identity provider.
type UserService interface {
	EnsureProfile(ctx context.Context, cmd EnsureProfileCommand) (User, error)
	GetProfile(ctx context.Context, userID string) (User, error)
}

// Command/query DTOs -----------------------------------------------------------

// CatalogListFilter mirrors the repository filter for service listings.
type CatalogListFilter = repositories.CatalogListFilter

// OrderListFilter mirrors the repository filter for order listings.
type OrderListFilter = repositories.OrderListFilter

// UpsertCatalogServiceCommand carries catalog mutations performed by staff.
type UpsertCatalogServiceCommand struct {
	Actor       Actor
	ServiceID   string
	Name        string
	Description string
	Category    string
	UnitPrice   int64
	Active      *bool
}

// OrderItemInput describes one requested line item on create/update.
type OrderItemInput struct {
	ServiceID string
	Quantity  int
}

// CreateOrderCommand captures everything needed to create an order for the actor.
type CreateOrderCommand struct {
	Actor               Actor
	Items               []OrderItemInput
	PickupDate          time.Time
	DeliveryDate        time.Time
	DeliveryAddress     string
	SpecialInstructions string
}

// UpdateOrderCommand patches an order inside the modifiable window. A non-nil
// Items slice replaces the item set wholesale and recomputes the total.
type UpdateOrderCommand struct {
	Actor               Actor
	OrderID             string
	Items               []OrderItemInput
	PickupDate          *time.Time
	DeliveryDate        *time.Time
	DeliveryAddress     *string
	SpecialInstructions *string
}

// OrderStatusTransitionCommand drives a staff-initiated lifecycle transition.
type OrderStatusTransitionCommand struct {
	Actor        Actor
	OrderID      string
	TargetStatus OrderStatus
}

// CancelOrderCommand cancels an order on behalf of its owning customer.
type CancelOrderCommand struct {
	Actor   Actor
	OrderID string
	Reason  string
}

// CreateCardPaymentCommand starts (or refreshes) a card settlement for an order.
type CreateCardPaymentCommand struct {
	Actor   Actor
	OrderID string
	Amount  int64
}

// CardPaymentResult returns the persisted payment plus the client continuation secret.
type CardPaymentResult struct {
	Payment      Payment
	ClientSecret string
}

// ProcessCashPaymentCommand settles an order in cash synchronously.
type ProcessCashPaymentCommand struct {
	Actor   Actor
	OrderID string
	Amount  int64
}

// CancelPaymentCommand abandons a pending payment attempt.
type CancelPaymentCommand struct {
	Actor     Actor
	PaymentID string
}

// ProviderEvent is a verified provider callback handed to the reconciliation engine.
type ProviderEvent = payments.Event

// EnsureProfileCommand mirrors identity-provider claims into the user store.
type EnsureProfileCommand struct {
	UserID      string
	Email       string
	DisplayName string
	Phone       string
	Roles       []string
}
