package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cleanease/api/internal/domain"
	"github.com/cleanease/api/internal/payments"
	"github.com/cleanease/api/internal/repositories"
)

const (
	paymentEventSettled   = "payment.settled"
	paymentEventFailed    = "payment.failed"
	paymentEventCancelled = "payment.cancelled"

	paymentIDPrefix = "pay_"

	paymentCurrency = "inr"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the payment could not be located.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentConflict indicates optimistic concurrency conflicts.
	ErrPaymentConflict = errors.New("payment: conflict")
	// ErrAlreadyPaid indicates the order already has a succeeded payment.
	ErrAlreadyPaid = errors.New("payment: order already paid")
	// ErrPaymentRuleViolation indicates a settlement rule was broken.
	ErrPaymentRuleViolation = errors.New("payment: business rule violation")
	// ErrPaymentUnauthorized indicates the actor may not act on this payment.
	ErrPaymentUnauthorized = errors.New("payment: unauthorized")
)

// PaymentEventPublisher publishes payment domain events for downstream consumers.
type PaymentEventPublisher interface {
	PublishPaymentEvent(ctx context.Context, event PaymentEvent) error
}

// PaymentEvent captures metadata for emitted payment domain events.
type PaymentEvent struct {
	Type       string
	PaymentID  string
	OrderID    string
	Status     string
	Method     string
	Amount     int64
	OccurredAt time.Time
}

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Payments    repositories.PaymentRepository
	Orders      repositories.OrderRepository
	Provider    payments.Provider
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      PaymentEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	payments   repositories.PaymentRepository
	orders     repositories.OrderRepository
	provider   payments.Provider
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     PaymentEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("payment service: card provider is required")
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

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		payments:   deps.Payments,
		orders:     deps.Orders,
		provider:   deps.Provider,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *paymentService) CreateCardPayment(ctx context.Context, cmd CreateCardPaymentCommand) (CardPaymentResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return CardPaymentResult{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if cmd.Amount <= 0 {
		return CardPaymentResult{}, fmt.Errorf("%w: amount must be positive", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return CardPaymentResult{}, s.mapOrderRepositoryError(err)
	}
	if err := s.authorizePayer(cmd.Actor, order); err != nil {
		return CardPaymentResult{}, err
	}

	existing, err := s.findActivePayment(ctx, orderID)
	if err != nil {
		return CardPaymentResult{}, err
	}
	if existing != nil {
		// Duplicate submission: reconcile against the first attempt's intent
		// instead of opening a second one.
		return s.refreshCardPayment(ctx, *existing)
	}

	now := s.now()
	payment := Payment{
		ID:        paymentIDPrefix + s.newID(),
		OrderID:   order.ID,
		UserID:    order.UserID,
		Amount:    cmd.Amount,
		Method:    domain.PaymentMethodCard,
		Status:    domain.PaymentStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}

	intent, err := s.provider.CreateIntent(ctx, payments.CreateIntentRequest{
		Amount:         cmd.Amount,
		Currency:       paymentCurrency,
		CustomerRef:    order.UserID,
		OrderID:        order.ID,
		PaymentID:      payment.ID,
		IdempotencyKey: cardIntentIdempotencyKey(order.ID, payment.ID),
	})
	if err != nil {
		return CardPaymentResult{}, err
	}
	payment.ProviderRef = intent.ID

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		// The pre-flight guard routed duplicates before the provider call;
		// re-check under the transaction so two concurrent attempts cannot
		// both insert.
		rival, err := s.findActivePayment(txCtx, orderID)
		if err != nil {
			return err
		}
		if rival != nil {
			return fmt.Errorf("%w: a concurrent payment attempt exists for this order", ErrPaymentConflict)
		}
		if err := s.payments.Insert(txCtx, payment); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return CardPaymentResult{}, err
	}

	s.logger(ctx, "payment.card.created", map[string]any{
		"payment": payment.ID,
		"order":   order.ID,
		"intent":  intent.ID,
		"amount":  payment.Amount,
	})

	return CardPaymentResult{Payment: payment, ClientSecret: intent.ClientSecret}, nil
}

// refreshCardPayment re-queries the provider for an existing non-terminal
// attempt and applies the reconciliation mapping, so duplicate client
// submissions converge on the first intent.
func (s *paymentService) refreshCardPayment(ctx context.Context, payment Payment) (CardPaymentResult, error) {
	if payment.Method != domain.PaymentMethodCard || payment.ProviderRef == "" {
		return CardPaymentResult{}, fmt.Errorf("%w: a pending %s payment exists for this order", ErrPaymentRuleViolation, payment.Method)
	}

	intent, err := s.provider.RetrieveIntent(ctx, payment.ProviderRef)
	if err != nil {
		return CardPaymentResult{}, err
	}

	var refreshed Payment
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.payments.FindByID(txCtx, payment.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		refreshed, _, err = s.applyIntentOutcome(txCtx, current, intent.Status)
		return err
	})
	if err != nil {
		return CardPaymentResult{}, err
	}

	s.logger(ctx, "payment.card.refreshed", map[string]any{
		"payment": refreshed.ID,
		"order":   refreshed.OrderID,
		"status":  refreshed.Status,
	})

	return CardPaymentResult{Payment: refreshed, ClientSecret: intent.ClientSecret}, nil
}

func (s *paymentService) ProcessCashPayment(ctx context.Context, cmd ProcessCashPaymentCommand) (Payment, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Payment{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if cmd.Amount <= 0 {
		return Payment{}, fmt.Errorf("%w: amount must be positive", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Payment{}, s.mapOrderRepositoryError(err)
	}
	if err := s.authorizePayer(cmd.Actor, order); err != nil {
		return Payment{}, err
	}

	now := s.now()
	payment := Payment{
		ID:          paymentIDPrefix + s.newID(),
		OrderID:     order.ID,
		UserID:      order.UserID,
		Amount:      cmd.Amount,
		Method:      domain.PaymentMethodCash,
		Status:      domain.PaymentStatusSucceeded,
		ProviderRef: domain.CashProviderRef,
		CreatedAt:   now,
		UpdatedAt:   now,
		PaidAt:      &now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		// Transactional reads precede writes. The duplicate guard runs in
		// here so concurrent settlements cannot both pass it.
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return s.mapOrderRepositoryError(err)
		}
		existing, err := s.findActivePayment(txCtx, order.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: a pending payment exists for this order", ErrPaymentRuleViolation)
		}
		if err := s.payments.Insert(txCtx, payment); err != nil {
			return s.mapRepositoryError(err)
		}
		return s.settleOrder(txCtx, current, now)
	})
	if err != nil {
		return Payment{}, err
	}

	s.publishEvent(ctx, PaymentEvent{
		Type:       paymentEventSettled,
		PaymentID:  payment.ID,
		OrderID:    payment.OrderID,
		Status:     string(payment.Status),
		Method:     string(payment.Method),
		Amount:     payment.Amount,
		OccurredAt: now,
	})

	return payment, nil
}

func (s *paymentService) CancelPayment(ctx context.Context, cmd CancelPaymentCommand) (Payment, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return Payment{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}
	if !cmd.Actor.IsStaff() && payment.UserID != cmd.Actor.ID {
		return Payment{}, fmt.Errorf("%w: payment belongs to another customer", ErrPaymentUnauthorized)
	}
	if payment.Status == domain.PaymentStatusSucceeded {
		return Payment{}, fmt.Errorf("%w: succeeded payments cannot be cancelled", ErrPaymentRuleViolation)
	}

	// Provider cancellation is best effort: the local record transitions to
	// CANCELLED even when the provider call fails.
	if payment.Method == domain.PaymentMethodCard && payment.ProviderRef != "" && payment.ProviderRef != domain.CashProviderRef {
		s.cancelProviderIntent(ctx, payment.ProviderRef)
	}

	now := s.now()
	var cancelled Payment
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.payments.FindByID(txCtx, paymentID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.Status == domain.PaymentStatusSucceeded {
			return fmt.Errorf("%w: succeeded payments cannot be cancelled", ErrPaymentRuleViolation)
		}
		current.Status = domain.PaymentStatusCancelled
		current.UpdatedAt = now
		if err := s.payments.Update(txCtx, current); err != nil {
			return s.mapRepositoryError(err)
		}
		cancelled = current
		return nil
	})
	if err != nil {
		return Payment{}, err
	}

	s.publishEvent(ctx, PaymentEvent{
		Type:       paymentEventCancelled,
		PaymentID:  cancelled.ID,
		OrderID:    cancelled.OrderID,
		Status:     string(cancelled.Status),
		Method:     string(cancelled.Method),
		Amount:     cancelled.Amount,
		OccurredAt: now,
	})

	return cancelled, nil
}

func (s *paymentService) GetPayment(ctx context.Context, actor Actor, paymentID string) (Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Payment{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}
	if !actor.IsStaff() && payment.UserID != actor.ID {
		return Payment{}, fmt.Errorf("%w: payment belongs to another customer", ErrPaymentUnauthorized)
	}
	return payment, nil
}

func (s *paymentService) ListOrderPayments(ctx context.Context, actor Actor, orderID string) ([]Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, s.mapOrderRepositoryError(err)
	}
	if !actor.IsStaff() && order.UserID != actor.ID {
		return nil, fmt.Errorf("%w: order belongs to another customer", ErrPaymentUnauthorized)
	}

	list, err := s.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return list, nil
}

func (s *paymentService) ListMyPayments(ctx context.Context, actor Actor, page Pagination) (domain.CursorPage[Payment], error) {
	userID := strings.TrimSpace(actor.ID)
	if userID == "" {
		return domain.CursorPage[Payment]{}, fmt.Errorf("%w: actor id is required", ErrPaymentInvalidInput)
	}

	result, err := s.payments.List(ctx, repositories.PaymentListFilter{
		UserID:     userID,
		Pagination: page,
	})
	if err != nil {
		return domain.CursorPage[Payment]{}, s.mapRepositoryError(err)
	}
	return result, nil
}

// HandleProviderEvent drives local payment/order state from a verified provider
// callback. Deliveries are at-least-once and may arrive out of order; the
// mapping is idempotent and replaying a settled event has no further effect.
func (s *paymentService) HandleProviderEvent(ctx context.Context, event ProviderEvent) error {
	if event.Kind == payments.EventUnrecognized {
		s.logger(ctx, "payment.webhook.ignored", map[string]any{
			"type":   event.RawType,
			"intent": event.IntentID,
		})
		return nil
	}
	if strings.TrimSpace(event.IntentID) == "" {
		return fmt.Errorf("%w: event carries no intent reference", ErrPaymentInvalidInput)
	}

	located, err := s.payments.FindByProviderRef(ctx, event.IntentID)
	if err != nil {
		// An event for an unknown intent signals a data inconsistency worth
		// operator attention; surface it instead of dropping.
		return s.mapRepositoryError(err)
	}

	var (
		applied Payment
		mutated bool
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.payments.FindByID(txCtx, located.ID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		applied, mutated, err = s.applyIntentOutcome(txCtx, current, event.Status)
		return err
	})
	if err != nil {
		return err
	}
	if !mutated {
		// Replayed or stale delivery; state is unchanged, so nothing to announce.
		return nil
	}

	switch applied.Status {
	case domain.PaymentStatusSucceeded:
		s.publishEvent(ctx, PaymentEvent{
			Type:       paymentEventSettled,
			PaymentID:  applied.ID,
			OrderID:    applied.OrderID,
			Status:     string(applied.Status),
			Method:     string(applied.Method),
			Amount:     applied.Amount,
			OccurredAt: s.now(),
		})
	case domain.PaymentStatusFailed:
		s.publishEvent(ctx, PaymentEvent{
			Type:       paymentEventFailed,
			PaymentID:  applied.ID,
			OrderID:    applied.OrderID,
			Status:     string(applied.Status),
			Method:     string(applied.Method),
			Amount:     applied.Amount,
			OccurredAt: s.now(),
		})
	}

	return nil
}

// applyIntentOutcome maps the provider status onto the payment record and, on
// settlement, advances the owning order. Must run inside a transaction. The
// second return reports whether the payment actually changed state; callers
// use it to keep replayed deliveries free of downstream side effects.
func (s *paymentService) applyIntentOutcome(txCtx context.Context, payment Payment, status payments.IntentStatus) (Payment, bool, error) {
	target := mapIntentStatus(status)
	now := s.now()

	if payment.Status.IsTerminal() {
		if payment.Status == target {
			// Replay of the event that settled the record; nothing to do.
			return payment, false, nil
		}
		s.logger(txCtx, "payment.webhook.stale", map[string]any{
			"payment": payment.ID,
			"current": payment.Status,
			"event":   target,
		})
		return payment, false, nil
	}

	changed := payment.Status != target
	if !changed {
		return payment, false, nil
	}

	// Transactional reads precede writes, so pull the order before touching
	// the payment record. Order lookup is keyed strictly by the payment's
	// order id.
	var order *Order
	if target == domain.PaymentStatusSucceeded {
		loaded, err := s.orders.FindByID(txCtx, payment.OrderID)
		if err != nil {
			return Payment{}, false, s.mapOrderRepositoryError(err)
		}
		order = &loaded
	}

	payment.Status = target
	payment.UpdatedAt = now
	if target == domain.PaymentStatusSucceeded && payment.PaidAt == nil {
		payment.PaidAt = &now
	}

	if err := s.payments.Update(txCtx, payment); err != nil {
		return Payment{}, false, s.mapRepositoryError(err)
	}

	if order != nil {
		if err := s.settleOrder(txCtx, *order, now); err != nil {
			return Payment{}, false, err
		}
	}

	return payment, true, nil
}

// settleOrder moves an already-loaded order to CONFIRMED unless it is already
// at or past that point, keeping replays side-effect free.
func (s *paymentService) settleOrder(txCtx context.Context, order Order, now time.Time) error {
	needsStatus := order.Status == domain.OrderStatusPending
	needsPaidFlag := order.PaymentStatus != domain.OrderPaymentStatusPaid
	if !needsStatus && !needsPaidFlag {
		return nil
	}

	if needsStatus {
		if err := applyStatusTransition(&order, domain.OrderStatusConfirmed, now); err != nil {
			return err
		}
	}
	order.PaymentStatus = domain.OrderPaymentStatusPaid
	order.UpdatedAt = now

	if err := s.orders.Update(txCtx, order); err != nil {
		return s.mapOrderRepositoryError(err)
	}
	return nil
}

// findActivePayment returns the order's non-terminal payment, or an
// ErrAlreadyPaid failure when a settled one exists.
func (s *paymentService) findActivePayment(ctx context.Context, orderID string) (*Payment, error) {
	list, err := s.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	for i := range list {
		if list[i].Status == domain.PaymentStatusSucceeded {
			return nil, fmt.Errorf("%w: order %s", ErrAlreadyPaid, orderID)
		}
	}
	for i := range list {
		if !list[i].Status.IsTerminal() {
			return &list[i], nil
		}
	}
	return nil, nil
}

func (s *paymentService) cancelProviderIntent(ctx context.Context, intentID string) {
	intent, err := s.provider.RetrieveIntent(ctx, intentID)
	if err != nil {
		s.logger(ctx, "payment.provider.cancel.skipped", map[string]any{
			"intent": intentID,
			"error":  err.Error(),
		})
		return
	}
	if !intent.Status.Cancelable() {
		return
	}
	if _, err := s.provider.CancelIntent(ctx, intentID); err != nil {
		s.logger(ctx, "payment.provider.cancel.failed", map[string]any{
			"intent": intentID,
			"error":  err.Error(),
		})
	}
}

func (s *paymentService) authorizePayer(actor Actor, order Order) error {
	if actor.IsStaff() {
		return nil
	}
	if order.UserID != actor.ID {
		return fmt.Errorf("%w: order belongs to another customer", ErrPaymentUnauthorized)
	}
	return nil
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPaymentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *paymentService) mapOrderRepositoryError(err error) error {
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
			return fmt.Errorf("payment: order repository unavailable: %w", err)
		}
	}

	return err
}

func (s *paymentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *paymentService) now() time.Time {
	return s.clock()
}

func (s *paymentService) publishEvent(ctx context.Context, event PaymentEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishPaymentEvent(ctx, event); err != nil {
		s.logger(ctx, "payment.event.publish.failed", map[string]any{
			"type":    event.Type,
			"payment": event.PaymentID,
			"error":   err.Error(),
		})
	}
}

// mapIntentStatus is the total mapping from the provider's status vocabulary
// onto local payment states.
func mapIntentStatus(status payments.IntentStatus) domain.PaymentStatus {
	switch status {
	case payments.StatusSucceeded:
		return domain.PaymentStatusSucceeded
	case payments.StatusRequiresPaymentMethod, payments.StatusRequiresConfirmation, payments.StatusProcessing:
		return domain.PaymentStatusProcessing
	case payments.StatusRequiresAction:
		return domain.PaymentStatusRequiresAction
	case payments.StatusCanceled:
		return domain.PaymentStatusCancelled
	default:
		return domain.PaymentStatusFailed
	}
}

func cardIntentIdempotencyKey(orderID, paymentID string) string {
	sum := sha256.Sum256([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(sum[:])
}
