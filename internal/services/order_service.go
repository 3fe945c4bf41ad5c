package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/cleanease/api/internal/domain"
	"github.com/cleanease/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventUpdated       = "order.updated"

	orderIDPrefix     = "ord_"
	orderNumberPrefix = "ORD-"

	minPickupLeadTime   = 2 * time.Hour
	minDeliveryLeadTime = 24 * time.Hour
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicate order numbers.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderInvalidTransition indicates the requested status is not reachable from the current one.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderTerminalState indicates the order is in a state that permits no further transitions.
	ErrOrderTerminalState = errors.New("order: terminal state")
	// ErrOrderAlreadyCancelled indicates a cancel request against an order already cancelled.
	ErrOrderAlreadyCancelled = errors.New("order: already cancelled")
	// ErrOrderRuleViolation indicates a business rule (dates, quantities, modifiable window) was broken.
	ErrOrderRuleViolation = errors.New("order: business rule violation")
	// ErrOrderUnauthorized indicates the actor may not act on this order.
	ErrOrderUnauthorized = errors.New("order: unauthorized")
)

// orderStateTransitions is the adjacency table of the order lifecycle. Statuses
// absent from the map are terminal.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:        {domain.OrderStatusConfirmed, domain.OrderStatusCancelled, domain.OrderStatusFailed},
	domain.OrderStatusConfirmed:      {domain.OrderStatusInProcess, domain.OrderStatusCancelled, domain.OrderStatusFailed},
	domain.OrderStatusInProcess:      {domain.OrderStatusPickedUp, domain.OrderStatusCancelled, domain.OrderStatusFailed},
	domain.OrderStatusPickedUp:       {domain.OrderStatusCleaning},
	domain.OrderStatusCleaning:       {domain.OrderStatusReady},
	domain.OrderStatusReady:          {domain.OrderStatusOutForDelivery},
	domain.OrderStatusOutForDelivery: {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:      {domain.OrderStatusCompleted},
}

// modifiableStatuses is the window during which item/date edits and customer
// cancellation are permitted.
var modifiableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
	domain.OrderStatusInProcess,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	Catalog         CatalogLookupService
	UnitOfWork      repositories.UnitOfWork
	Clock           func() time.Time
	IDGenerator     func() string
	NumberGenerator func() string
	Events          OrderEventPublisher
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	catalog    CatalogLookupService
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	newNumber  func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
	sanitizer  *bluemonday.Policy
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog lookup is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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

	numberGen := deps.NumberGenerator
	if numberGen == nil {
		numberGen = randomOrderNumber
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		catalog:    deps.Catalog,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		newNumber: numberGen,
		events:    deps.Events,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	actorID := strings.TrimSpace(cmd.Actor.ID)
	if actorID == "" {
		return Order{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}

	now := s.now()
	if err := validateOrderDates(cmd.PickupDate, cmd.DeliveryDate, now); err != nil {
		return Order{}, err
	}

	items, err := s.buildOrderItems(ctx, cmd.Items)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:                  orderIDPrefix + s.newID(),
		OrderNumber:         s.newNumber(),
		UserID:              actorID,
		Items:               items,
		Status:              domain.OrderStatusPending,
		PaymentStatus:       domain.OrderPaymentStatusUnpaid,
		PickupDate:          cmd.PickupDate.UTC(),
		DeliveryDate:        cmd.DeliveryDate.UTC(),
		DeliveryAddress:     s.sanitize(cmd.DeliveryAddress),
		SpecialInstructions: s.sanitize(cmd.SpecialInstructions),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	order.TotalAmount = order.ItemsTotal()

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		ActorID:       actorID,
		OccurredAt:    now,
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if err := authorizeOrderRead(actor, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, actor Actor, orderNumber string) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if err := authorizeOrderRead(actor, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if !actor.IsStaff() {
		filter.UserID = strings.TrimSpace(actor.ID)
		if filter.UserID == "" {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
		}
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	// A wholesale item replacement must leave the order with at least one line.
	if cmd.Items != nil && len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		if !cmd.Actor.IsStaff() && order.UserID != cmd.Actor.ID {
			return fmt.Errorf("%w: order belongs to another customer", ErrOrderUnauthorized)
		}
		if !slices.Contains(modifiableStatuses, order.Status) {
			return fmt.Errorf("%w: order in status %s can no longer be modified", ErrOrderRuleViolation, order.Status)
		}

		now := s.now()

		pickup := order.PickupDate
		delivery := order.DeliveryDate
		if cmd.PickupDate != nil {
			pickup = cmd.PickupDate.UTC()
		}
		if cmd.DeliveryDate != nil {
			delivery = cmd.DeliveryDate.UTC()
		}
		if cmd.PickupDate != nil || cmd.DeliveryDate != nil {
			if err := validateOrderDates(pickup, delivery, now); err != nil {
				return err
			}
			order.PickupDate = pickup
			order.DeliveryDate = delivery
		}

		if cmd.Items != nil {
			items, err := s.buildOrderItems(txCtx, cmd.Items)
			if err != nil {
				return err
			}
			order.Items = items
			order.TotalAmount = order.ItemsTotal()
		}

		if cmd.DeliveryAddress != nil {
			order.DeliveryAddress = s.sanitize(*cmd.DeliveryAddress)
		}
		if cmd.SpecialInstructions != nil {
			order.SpecialInstructions = s.sanitize(*cmd.SpecialInstructions)
		}
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventUpdated,
		OrderID:       updated.ID,
		OrderNumber:   updated.OrderNumber,
		CurrentStatus: string(updated.Status),
		ActorID:       cmd.Actor.ID,
		OccurredAt:    updated.UpdatedAt,
	})

	return updated, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.TargetStatus == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	if !cmd.Actor.IsStaff() {
		return Order{}, fmt.Errorf("%w: status transitions require a staff role", ErrOrderUnauthorized)
	}

	var (
		updated    Order
		prevStatus domain.OrderStatus
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		prevStatus = order.Status
		now := s.now()
		if err := applyStatusTransition(&order, cmd.TargetStatus, now); err != nil {
			return err
		}

		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if prevStatus != updated.Status {
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        updated.ID,
			OrderNumber:    updated.OrderNumber,
			PreviousStatus: string(prevStatus),
			CurrentStatus:  string(updated.Status),
			ActorID:        cmd.Actor.ID,
			OccurredAt:     updated.UpdatedAt,
		})
	}

	return updated, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var (
		updated    Order
		prevStatus domain.OrderStatus
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		if order.UserID != cmd.Actor.ID {
			return fmt.Errorf("%w: only the owning customer may cancel", ErrOrderUnauthorized)
		}
		if order.Status == domain.OrderStatusCancelled {
			return fmt.Errorf("%w: order %s", ErrOrderAlreadyCancelled, order.ID)
		}
		if !slices.Contains(modifiableStatuses, order.Status) {
			return fmt.Errorf("%w: order in status %s can no longer be cancelled", ErrOrderRuleViolation, order.Status)
		}

		prevStatus = order.Status
		now := s.now()
		if err := applyStatusTransition(&order, domain.OrderStatusCancelled, now); err != nil {
			return err
		}

		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	metadata := map[string]any{}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata["reason"] = reason
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(updated.Status),
		ActorID:        cmd.Actor.ID,
		OccurredAt:     updated.UpdatedAt,
		Metadata:       metadata,
	})

	return updated, nil
}

// applyStatusTransition mutates the order in place after checking the
// adjacency table. Same-status application is a timestamp-only no-op so that
// replayed reconciliation events stay idempotent.
func applyStatusTransition(order *Order, target domain.OrderStatus, now time.Time) error {
	current := order.Status

	if current == target {
		order.UpdatedAt = now
		return nil
	}

	if current.IsTerminal() {
		return fmt.Errorf("%w: order is %s", ErrOrderTerminalState, current)
	}
	if !canTransition(current, target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidTransition, current, target)
	}

	order.Status = target
	order.UpdatedAt = now
	return nil
}

func canTransition(current, target domain.OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func validateOrderDates(pickup, delivery, now time.Time) error {
	if pickup.IsZero() || delivery.IsZero() {
		return fmt.Errorf("%w: pickup and delivery dates are required", ErrOrderInvalidInput)
	}
	if pickup.Before(now.Add(minPickupLeadTime)) {
		return fmt.Errorf("%w: pickup must be at least %s from now", ErrOrderRuleViolation, minPickupLeadTime)
	}
	if delivery.Before(pickup.Add(minDeliveryLeadTime)) {
		return fmt.Errorf("%w: delivery must be at least %s after pickup", ErrOrderRuleViolation, minDeliveryLeadTime)
	}
	return nil
}

// buildOrderItems snapshots the current catalog price for each requested line.
func (s *orderService) buildOrderItems(ctx context.Context, inputs []OrderItemInput) ([]OrderItem, error) {
	items := make([]OrderItem, 0, len(inputs))
	for _, input := range inputs {
		serviceID := strings.TrimSpace(input.ServiceID)
		if serviceID == "" {
			return nil, fmt.Errorf("%w: item service id is required", ErrOrderInvalidInput)
		}
		if input.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item quantity must be positive", ErrOrderInvalidInput)
		}

		svc, err := s.catalog.Resolve(ctx, serviceID)
		if err != nil {
			if errors.Is(err, ErrCatalogNotFound) {
				return nil, fmt.Errorf("%w: service %s", ErrOrderNotFound, serviceID)
			}
			return nil, err
		}
		if !svc.Active {
			return nil, fmt.Errorf("%w: service %s is not active", ErrOrderRuleViolation, serviceID)
		}

		items = append(items, OrderItem{
			ServiceID:   svc.ID,
			ServiceName: svc.Name,
			Quantity:    input.Quantity,
			UnitPrice:   svc.UnitPrice,
			LineTotal:   svc.UnitPrice * int64(input.Quantity),
		})
	}
	return items, nil
}

func authorizeOrderRead(actor Actor, order Order) error {
	if actor.IsStaff() {
		return nil
	}
	if order.UserID != actor.ID {
		return fmt.Errorf("%w: order belongs to another customer", ErrOrderUnauthorized)
	}
	return nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) sanitize(value string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(value))
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

// randomOrderNumber yields the human-facing identifier. Uniqueness is enforced
// by the store on insert; a collision surfaces as a conflict.
func randomOrderNumber() string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to ULID entropy.
		return orderNumberPrefix + strings.ToUpper(ulid.Make().String()[14:])
	}
	return orderNumberPrefix + strings.ToUpper(hex.EncodeToString(buf[:]))
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
