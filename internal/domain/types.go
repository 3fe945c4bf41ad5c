package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Role names recognised on authenticated actors.
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// Actor identifies the authenticated principal invoking a service operation.
// Services receive it explicitly; there is no ambient security context.
type Actor struct {
	ID    string
	Roles []string
}

// HasRole reports whether the actor carries the given role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsStaff reports whether the actor may perform operational order management.
func (a Actor) IsStaff() bool {
	return a.HasRole(RoleStaff) || a.HasRole(RoleAdmin)
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was created and awaits confirmation.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed indicates payment settled and the order is accepted.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusInProcess indicates scheduling/dispatch is underway.
	OrderStatusInProcess OrderStatus = "IN_PROCESS"
	// OrderStatusPickedUp indicates the garments were collected from the customer.
	OrderStatusPickedUp OrderStatus = "PICKED_UP"
	// OrderStatusCleaning indicates the garments are being cleaned.
	OrderStatusCleaning OrderStatus = "CLEANING"
	// OrderStatusReady indicates cleaning finished and delivery can be scheduled.
	OrderStatusReady OrderStatus = "READY"
	// OrderStatusOutForDelivery indicates the garments are on their way back.
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	// OrderStatusDelivered indicates the garments were returned to the customer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCompleted indicates the order is closed. Terminal.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled indicates the order was cancelled before pickup. Terminal.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusFailed indicates the order could not be fulfilled. Terminal.
	OrderStatusFailed OrderStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are permitted from the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// OrderPaymentStatus summarises the settlement state recorded on the order header.
type OrderPaymentStatus string

const (
	// OrderPaymentStatusUnpaid indicates no successful payment exists yet.
	OrderPaymentStatusUnpaid OrderPaymentStatus = "UNPAID"
	// OrderPaymentStatusPaid indicates a payment settled for the order.
	OrderPaymentStatusPaid OrderPaymentStatus = "PAID"
	// OrderPaymentStatusRefunded indicates the settled payment was returned.
	OrderPaymentStatusRefunded OrderPaymentStatus = "REFUNDED"
)

// Order captures a single customer checkout with its line items and lifecycle state.
// Relations to payments and users are id-based; the order owns its items.
type Order struct {
	ID                  string
	OrderNumber         string
	UserID              string
	Items               []OrderItem
	Status              OrderStatus
	PaymentStatus       OrderPaymentStatus
	PickupDate          time.Time
	DeliveryDate        time.Time
	DeliveryAddress     string
	SpecialInstructions string
	TotalAmount         int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// OrderItem snapshots one catalog service line at order-creation time.
// Unit prices are captured when the order is created and never re-priced.
type OrderItem struct {
	ServiceID   string
	ServiceName string
	Quantity    int
	UnitPrice   int64
	LineTotal   int64
}

// ItemsTotal returns the sum of line totals across the order's items.
func (o Order) ItemsTotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.LineTotal
	}
	return total
}

// PaymentMethod enumerates how a payment is settled.
type PaymentMethod string

const (
	// PaymentMethodCard settles through the card payment provider.
	PaymentMethodCard PaymentMethod = "CARD"
	// PaymentMethodCash settles in person at pickup or delivery.
	PaymentMethodCash PaymentMethod = "CASH"
)

// PaymentStatus enumerates settlement states for a payment record.
type PaymentStatus string

const (
	// PaymentStatusProcessing indicates the provider has not confirmed the charge yet.
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	// PaymentStatusRequiresAction indicates the customer must complete an extra step.
	PaymentStatusRequiresAction PaymentStatus = "REQUIRES_ACTION"
	// PaymentStatusSucceeded indicates the charge settled. Terminal.
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	// PaymentStatusFailed indicates the charge did not settle. Terminal.
	PaymentStatusFailed PaymentStatus = "FAILED"
	// PaymentStatusCancelled indicates the attempt was abandoned. Terminal.
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// IsTerminal reports whether the payment record accepts no further updates.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// CashProviderRef is the sentinel provider reference recorded on cash payments.
const CashProviderRef = "CASH_PAYMENT"

// Payment represents one monetary settlement attempt tied to exactly one order.
// At most one non-terminal payment exists per order at a time.
type Payment struct {
	ID          string
	OrderID     string
	UserID      string
	Amount      int64
	Method      PaymentMethod
	Status      PaymentStatus
	ProviderRef string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PaidAt      *time.Time
}

// CatalogService describes one orderable laundry service with its current price.
type CatalogService struct {
	ID          string
	Name        string
	Description string
	Category    string
	UnitPrice   int64
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// User mirrors the account profile persisted for customers and staff.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Phone       string
	Roles       []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
