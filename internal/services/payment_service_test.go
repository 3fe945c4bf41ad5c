package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	domain "github.com/cleanease/api/internal/domain"
	"github.com/cleanease/api/internal/payments"
	"github.com/cleanease/api/internal/repositories"
)

func TestPaymentServiceCashSettlesOrder(t *testing.T) {
	now := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	var insertedPayment domain.Payment
	var updatedOrder domain.Order

	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID:            orderID,
				UserID:        "user-1",
				Status:        domain.OrderStatusPending,
				PaymentStatus: domain.OrderPaymentStatusUnpaid,
				TotalAmount:   2000,
			}, nil
		},
		updateFunc: func(ctx context.Context, order domain.Order) error {
			updatedOrder = order
			return nil
		},
	}
	paymentsRepo := &stubPaymentRepository{
		insertFunc: func(ctx context.Context, payment domain.Payment) error {
			insertedPayment = payment
			return nil
		},
	}
	events := &stubPaymentEvents{}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments:    paymentsRepo,
		Orders:      orders,
		Provider:    &stubCardProvider{},
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01CASH" },
		Events:      events,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	payment, err := service.ProcessCashPayment(context.Background(), ProcessCashPaymentCommand{
		Actor:   Actor{ID: "user-1"},
		OrderID: "ord_1",
		Amount:  2000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if payment.ID != "pay_01CASH" {
		t.Fatalf("expected id pay_01CASH, got %q", payment.ID)
	}
	if payment.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", payment.Status)
	}
	if payment.Method != domain.PaymentMethodCash {
		t.Fatalf("expected CASH, got %s", payment.Method)
	}
	if payment.ProviderRef != domain.CashProviderRef {
		t.Fatalf("expected cash provider ref, got %q", payment.ProviderRef)
	}
	if payment.PaidAt == nil || !payment.PaidAt.Equal(now) {
		t.Fatalf("expected paid_at %v, got %v", now, payment.PaidAt)
	}
	if insertedPayment.ID != payment.ID {
		t.Fatalf("expected payment persisted")
	}

	if updatedOrder.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected order CONFIRMED, got %s", updatedOrder.Status)
	}
	if updatedOrder.PaymentStatus != domain.OrderPaymentStatusPaid {
		t.Fatalf("expected order PAID, got %s", updatedOrder.PaymentStatus)
	}

	if len(events.paymentEvents) != 1 || events.paymentEvents[0].Type != "payment.settled" {
		t.Fatalf("expected payment.settled event, got %+v", events.paymentEvents)
	}
}

func TestPaymentServiceCashRejectsWhenAlreadyPaid(t *testing.T) {
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1"}, nil
		},
	}
	paymentsRepo := &stubPaymentRepository{
		listByOrderFunc: func(ctx context.Context, orderID string) ([]domain.Payment, error) {
			return []domain.Payment{{ID: "pay_1", OrderID: orderID, Status: domain.PaymentStatusSucceeded}}, nil
		},
	}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments: paymentsRepo,
		Orders:   orders,
		Provider: &stubCardProvider{},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	_, err = service.ProcessCashPayment(context.Background(), ProcessCashPaymentCommand{
		Actor:   Actor{ID: "user-1"},
		OrderID: "ord_1",
		Amount:  2000,
	})
	if !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
}

func TestPaymentServiceCashRejectsPendingAttempt(t *testing.T) {
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1"}, nil
		},
	}
	paymentsRepo := &stubPaymentRepository{
		listByOrderFunc: func(ctx context.Context, orderID string) ([]domain.Payment, error) {
			return []domain.Payment{{ID: "pay_1", OrderID: orderID, Method: domain.PaymentMethodCash, Status: domain.PaymentStatusProcessing}}, nil
		},
	}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments: paymentsRepo,
		Orders:   orders,
		Provider: &stubCardProvider{},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	_, err = service.ProcessCashPayment(context.Background(), ProcessCashPaymentCommand{
		Actor:   Actor{ID: "user-1"},
		OrderID: "ord_1",
		Amount:  2000,
	})
	if !errors.Is(err, ErrPaymentRuleViolation) {
		t.Fatalf("expected ErrPaymentRuleViolation, got %v", err)
	}
}

func TestPaymentServiceCashGuardReadsInsideTransaction(t *testing.T) {
	// A rival settlement lands between the handler's read of the order and
	// the transaction; the guard must see it because it runs transactionally.
	inTx := false
	inserts := 0

	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1"}, nil
		},
	}
	paymentsRepo := &stubPaymentRepository{
		listByOrderFunc: func(ctx context.Context, orderID string) ([]domain.Payment, error) {
			if !inTx {
				return nil, nil
			}
			return []domain.Payment{{ID: "pay_rival", OrderID: orderID, Status: domain.PaymentStatusSucceeded}}, nil
		},
		insertFunc: func(ctx context.Context, payment domain.Payment) error {
			inserts++
			return nil
		},
	}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments:   paymentsRepo,
		Orders:     orders,
		Provider:   &stubCardProvider{},
		UnitOfWork: &hookedUnitOfWork{before: func() { inTx = true }},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	_, err = service.ProcessCashPayment(context.Background(), ProcessCashPaymentCommand{
		Actor:   Actor{ID: "user-1"},
		OrderID: "ord_1",
		Amount:  2000,
	})
	if !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
	if inserts != 0 {
		t.Fatalf("expected no second payment persisted, got %d inserts", inserts)
	}
}

func TestPaymentServiceCardRechecksGuardInTransaction(t *testing.T) {
	listCalls := 0
	inserts := 0

	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1", TotalAmount: 3500}, nil
		},
	}
	paymentsRepo := &stubPaymentRepository{
		listByOrderFunc: func(ctx context.Context, orderID string) ([]domain.Payment, error) {
			listCalls++
			if listCalls == 1 {
				// Pre-flight guard sees a clean order.
				return nil, nil
			}
			// By the time the transaction re-reads, a concurrent attempt exists.
			return []domain.Payment{{ID: "pay_rival", OrderID: orderID, Method: domain.PaymentMethodCard, Status: domain.PaymentStatusProcessing}}, nil
		},
		insertFunc: func(ctx context.Context, payment domain.Payment) error {
			inserts++
			return nil
		},
	}
	provider := &stubCardProvider{
		createFunc: func(ctx context.Context, req payments.CreateIntentRequest) (payments.Intent, error) {
			return payments.Intent{ID: "pi_123", ClientSecret: "pi_123_secret", Status: payments.StatusRequiresPaymentMethod}, nil
		},
	}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments: paymentsRepo,
		Orders:   orders,
		Provider: provider,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	_, err = service.CreateCardPayment(context.Background(), CreateCardPaymentCommand{
		Actor:   Actor{ID: "user-1"},
		OrderID: "ord_1",
		Amount:  3500,
	})
	if !errors.Is(err, ErrPaymentConflict) {
		t.Fatalf("expected ErrPaymentConflict, got %v", err)
	}
	if listCalls != 2 {
		t.Fatalf("expected guard re-run inside the transaction, got %d list calls", listCalls)
	}
	if inserts != 0 {
		t.Fatalf("expected no payment persisted, got %d inserts", inserts)
	}
}

func TestPaymentServiceCardCreatesIntent(t *testing.T) {
	now := time.Date(2025, 4, 2, 11, 0, 0, 0, time.UTC)
	var captured payments.CreateIntentRequest
	var inserted domain.Payment

	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1", Status: domain.OrderStatusPending, TotalAmount: 3500}, nil
		},
	}
	paymentsRepo := &stubPaymentRepository{
		insertFunc: func(ctx context.Context, payment domain.Payment) error {
			inserted = payment
			return nil
		},
	}
	provider := &stubCardProvider{
		createFunc: func(ctx context.Context, req payments.CreateIntentRequest) (payments.Intent, error) {
			captured = req
			return payments.Intent{ID: "pi_123", ClientSecret: "pi_123_secret", Status: payments.StatusRequiresPaymentMethod}, nil
		},
	}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments:    paymentsRepo,
		Orders:      orders,
		Provider:    provider,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01CARD" },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	result, err := service.CreateCardPayment(context.Background(), CreateCardPaymentCommand{
		Actor:   Actor{ID: "user-1"},
		OrderID: "ord_1",
		Amount:  3500,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.ClientSecret != "pi_123_secret" {
		t.Fatalf("expected client secret, got %q", result.ClientSecret)
	}
	if result.Payment.Status != domain.PaymentStatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", result.Payment.Status)
	}
	if result.Payment.ProviderRef != "pi_123" {
		t.Fatalf("expected provider ref pi_123, got %q", result.Payment.ProviderRef)
	}
	if inserted.ProviderRef != "pi_123" {
		t.Fatalf("expected persisted provider ref, got %q", inserted.ProviderRef)
	}

	if captured.Currency != "inr" {
		t.Fatalf("expected currency inr, got %q", captured.Currency)
	}
	if captured.Amount != 3500 {
		t.Fatalf("expected amount 3500, got %d", captured.Amount)
	}
	sum := sha256.Sum256([]byte("ord_1|pay_01CARD"))
	if captured.IdempotencyKey != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected idempotency key %q", captured.IdempotencyKey)
	}
}

func TestPaymentServiceCardDuplicateRefreshesExisting(t *testing.T) {
	now := time.Date(2025, 4, 2, 12, 0, 0, 0, time.UTC)
	existing := domain.Payment{
		ID:          "pay_1",
		OrderID:     "ord_1",
		UserID:      "user-1",
		Amount:      3500,
		Method:      domain.PaymentMethodCard,
		Status:      domain.PaymentStatusProcessing,
		ProviderRef: "pi_123",
	}

	creates := 0
	var updatedPayment domain.Payment
	var updatedOrder domain.Order

	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1", Status: domain.OrderStatusPending, PaymentStatus: domain.OrderPaymentStatusUnpaid}, nil
		},
		updateFunc: func(ctx context.Context, order domain.Order) error {
			updatedOrder = order
			return nil
		},
	}
	paymentsRepo := &stubPaymentRepository{
		listByOrderFunc: func(ctx context.Context, orderID string) ([]domain.Payment, error) {
			return []domain.Payment{existing}, nil
		},
		findByIDFunc: func(ctx context.Context, paymentID string) (domain.Payment, error) {
			return existing, nil
		},
		updateFunc: func(ctx context.Context, payment domain.Payment) error {
			updatedPayment = payment
			return nil
		},
	}
	provider := &stubCardProvider{
		createFunc: func(ctx context.Context, req payments.CreateIntentRequest) (payments.Intent, error) {
			creates++
			return payments.Intent{}, errors.New("unexpected create")
		},
		retrieveFunc: func(ctx context.Context, intentID string) (payments.Intent, error) {
			if intentID != "pi_123" {
				t.Fatalf("unexpected intent id %q", intentID)
			}
			return payments.Intent{ID: intentID, ClientSecret: "pi_123_secret", Status: payments.StatusSucceeded}, nil
		},
	}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments: paymentsRepo,
		Orders:   orders,
		Provider: provider,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	result, err := service.CreateCardPayment(context.Background(), CreateCardPaymentCommand{
		Actor:   Actor{ID: "user-1"},
		OrderID: "ord_1",
		Amount:  3500,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if creates != 0 {
		t.Fatalf("expected no second intent, got %d creates", creates)
	}
	if result.Payment.ID != "pay_1" {
		t.Fatalf("expected existing payment reused, got %q", result.Payment.ID)
	}
	if result.Payment.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("expected SUCCEEDED after refresh, got %s", result.Payment.Status)
	}
	if updatedPayment.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("expected refreshed status persisted, got %s", updatedPayment.Status)
	}
	if updatedOrder.Status != domain.OrderStatusConfirmed || updatedOrder.PaymentStatus != domain.OrderPaymentStatusPaid {
		t.Fatalf("expected order settled, got %s/%s", updatedOrder.Status, updatedOrder.PaymentStatus)
	}
}

func TestPaymentServiceCardUnauthorizedActor(t *testing.T) {
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-2"}, nil
		},
	}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments: &stubPaymentRepository{},
		Orders:   orders,
		Provider: &stubCardProvider{},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	_, err = service.CreateCardPayment(context.Background(), CreateCardPaymentCommand{
		Actor:   Actor{ID: "user-1", Roles: []string{domain.RoleCustomer}},
		OrderID: "ord_1",
		Amount:  100,
	})
	if !errors.Is(err, ErrPaymentUnauthorized) {
		t.Fatalf("expected ErrPaymentUnauthorized, got %v", err)
	}
}

func TestPaymentServiceCardProviderUnavailable(t *testing.T) {
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1"}, nil
		},
	}
	provider := &stubCardProvider{
		createFunc: func(ctx context.Context, req payments.CreateIntentRequest) (payments.Intent, error) {
			return payments.Intent{}, payments.ErrProviderUnavailable
		},
	}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments: &stubPaymentRepository{},
		Orders:   orders,
		Provider: provider,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	_, err = service.CreateCardPayment(context.Background(), CreateCardPaymentCommand{
		Actor:   Actor{ID: "user-1"},
		OrderID: "ord_1",
		Amount:  100,
	})
	if !errors.Is(err, payments.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable passthrough, got %v", err)
	}
}

func TestPaymentServiceHandleProviderEventSettles(t *testing.T) {
	now := time.Date(2025, 4, 3, 8, 0, 0, 0, time.UTC)
	record := domain.Payment{
		ID:          "pay_1",
		OrderID:     "ord_1",
		UserID:      "user-1",
		Amount:      3500,
		Method:      domain.PaymentMethodCard,
		Status:      domain.PaymentStatusProcessing,
		ProviderRef: "pi_123",
	}

	var updatedPayment domain.Payment
	var updatedOrder domain.Order

	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			if orderID != "ord_1" {
				t.Fatalf("expected order lookup by payment's order id, got %q", orderID)
			}
			return domain.Order{ID: orderID, UserID: "user-1", Status: domain.OrderStatusPending, PaymentStatus: domain.OrderPaymentStatusUnpaid}, nil
		},
		updateFunc: func(ctx context.Context, order domain.Order) error {
			updatedOrder = order
			return nil
		},
	}
	paymentsRepo := &stubPaymentRepository{
		findByProviderRefFunc: func(ctx context.Context, providerRef string) (domain.Payment, error) {
			if providerRef != "pi_123" {
				t.Fatalf("unexpected provider ref %q", providerRef)
			}
			return record, nil
		},
		findByIDFunc: func(ctx context.Context, paymentID string) (domain.Payment, error) {
			return record, nil
		},
		updateFunc: func(ctx context.Context, payment domain.Payment) error {
			updatedPayment = payment
			return nil
		},
	}
	events := &stubPaymentEvents{}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments: paymentsRepo,
		Orders:   orders,
		Provider: &stubCardProvider{},
		Clock:    func() time.Time { return now },
		Events:   events,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	err = service.HandleProviderEvent(context.Background(), ProviderEvent{
		Kind:     payments.EventPaymentSucceeded,
		RawType:  "payment_intent.succeeded",
		IntentID: "pi_123",
		Status:   payments.StatusSucceeded,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if updatedPayment.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", updatedPayment.Status)
	}
	if updatedPayment.PaidAt == nil || !updatedPayment.PaidAt.Equal(now) {
		t.Fatalf("expected paid_at stamped, got %v", updatedPayment.PaidAt)
	}
	if updatedOrder.Status != domain.OrderStatusConfirmed || updatedOrder.PaymentStatus != domain.OrderPaymentStatusPaid {
		t.Fatalf("expected order settled, got %s/%s", updatedOrder.Status, updatedOrder.PaymentStatus)
	}
	if len(events.paymentEvents) != 1 || events.paymentEvents[0].Type != "payment.settled" {
		t.Fatalf("expected payment.settled event, got %+v", events.paymentEvents)
	}
}

func TestPaymentServiceHandleProviderEventFailureMarksFailed(t *testing.T) {
	record := domain.Payment{
		ID:          "pay_1",
		OrderID:     "ord_1",
		Method:      domain.PaymentMethodCard,
		Status:      domain.PaymentStatusProcessing,
		ProviderRef: "pi_123",
	}

	orderUpdates := 0
	var updatedPayment domain.Payment

	orders := &stubOrderRepository{
		updateFunc: func(ctx context.Context, order domain.Order) error {
			orderUpdates++
			return nil
		},
	}
	paymentsRepo := &stubPaymentRepository{
		findByProviderRefFunc: func(ctx context.Context, providerRef string) (domain.Payment, error) {
			return record, nil
		},
		findByIDFunc: func(ctx context.Context, paymentID string) (domain.Payment, error) {
			return record, nil
		},
		updateFunc: func(ctx context.Context, payment domain.Payment) error {
			updatedPayment = payment
			return nil
		},
	}
	events := &stubPaymentEvents{}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments: paymentsRepo,
		Orders:   orders,
		Provider: &stubCardProvider{},
		Events:   events,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	err = service.HandleProviderEvent(context.Background(), ProviderEvent{
		Kind:     payments.EventPaymentFailed,
		RawType:  "payment_intent.payment_failed",
		IntentID: "pi_123",
		Status:   payments.StatusUnrecognized,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if updatedPayment.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected FAILED, got %s", updatedPayment.Status)
	}
	if updatedPayment.PaidAt != nil {
		t.Fatalf("expected no paid_at on failure")
	}
	if orderUpdates != 0 {
		t.Fatalf("expected order untouched on failure, got %d updates", orderUpdates)
	}
	if len(events.paymentEvents) != 1 || events.paymentEvents[0].Type != "payment.failed" {
		t.Fatalf("expected payment.failed event, got %+v", events.paymentEvents)
	}
}

func TestPaymentServiceHandleProviderEventReplayIsSideEffectFree(t *testing.T) {
	paid := time.Date(2025, 4, 3, 8, 0, 0, 0, time.UTC)
	record := domain.Payment{
		ID:          "pay_1",
		OrderID:     "ord_1",
		Method:      domain.PaymentMethodCard,
		Status:      domain.PaymentStatusSucceeded,
		ProviderRef: "pi_123",
		PaidAt:      &paid,
	}

	paymentUpdates := 0
	orderUpdates := 0

	orders := &stubOrderRepository{
		updateFunc: func(ctx context.Context, order domain.Order) error {
			orderUpdates++
			return nil
		},
	}
	paymentsRepo := &stubPaymentRepository{
		findByProviderRefFunc: func(ctx context.Context, providerRef string) (domain.Payment, error) {
			return record, nil
		},
		findByIDFunc: func(ctx context.Context, paymentID string) (domain.Payment, error) {
			return record, nil
		},
		updateFunc: func(ctx context.Context, payment domain.Payment) error {
			paymentUpdates++
			return nil
		},
	}

	events := &stubPaymentEvents{}
	service, err := NewPaymentService(PaymentServiceDeps{
		Payments: paymentsRepo,
		Orders:   orders,
		Provider: &stubCardProvider{},
		Events:   events,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	err = service.HandleProviderEvent(context.Background(), ProviderEvent{
		Kind:     payments.EventPaymentSucceeded,
		RawType:  "payment_intent.succeeded",
		IntentID: "pi_123",
		Status:   payments.StatusSucceeded,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if paymentUpdates != 0 || orderUpdates != 0 {
		t.Fatalf("expected replay without writes, got %d payment / %d order updates", paymentUpdates, orderUpdates)
	}
	if len(events.paymentEvents) != 0 {
		t.Fatalf("expected no events re-published on replay, got %+v", events.paymentEvents)
	}
}

func TestPaymentServiceHandleProviderEventStaleDowngradeIgnored(t *testing.T) {
	record := domain.Payment{
		ID:          "pay_1",
		OrderID:     "ord_1",
		Method:      domain.PaymentMethodCard,
		Status:      domain.PaymentStatusSucceeded,
		ProviderRef: "pi_123",
	}

	paymentUpdates := 0
	var logged []string

	paymentsRepo := &stubPaymentRepository{
		findByProviderRefFunc: func(ctx context.Context, providerRef string) (domain.Payment, error) {
			return record, nil
		},
		findByIDFunc: func(ctx context.Context, paymentID string) (domain.Payment, error) {
			return record, nil
		},
		updateFunc: func(ctx context.Context, payment domain.Payment) error {
			paymentUpdates++
			return nil
		},
	}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments: paymentsRepo,
		Orders:   &stubOrderRepository{},
		Provider: &stubCardProvider{},
		Logger: func(ctx context.Context, event string, fields map[string]any) {
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	err = service.HandleProviderEvent(context.Background(), ProviderEvent{
		Kind:     payments.EventPaymentFailed,
		RawType:  "payment_intent.payment_failed",
		IntentID: "pi_123",
		Status:   payments.StatusUnrecognized,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if paymentUpdates != 0 {
		t.Fatalf("expected settled record untouched, got %d updates", paymentUpdates)
	}
	found := false
	for _, event := range logged {
		if event == "payment.webhook.stale" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected payment.webhook.stale log, got %v", logged)
	}
}

func TestPaymentServiceHandleProviderEventUnrecognizedIgnored(t *testing.T) {
	lookups := 0
	var logged []string

	paymentsRepo := &stubPaymentRepository{
		findByProviderRefFunc: func(ctx context.Context, providerRef string) (domain.Payment, error) {
			lookups++
			return domain.Payment{}, errors.New("should not be called")
		},
	}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments: paymentsRepo,
		Orders:   &stubOrderRepository{},
		Provider: &stubCardProvider{},
		Logger: func(ctx context.Context, event string, fields map[string]any) {
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	err = service.HandleProviderEvent(context.Background(), ProviderEvent{
		Kind:    payments.EventUnrecognized,
		RawType: "charge.refund.updated",
	})
	if err != nil {
		t.Fatalf("expected unrecognized event to be acknowledged, got %v", err)
	}
	if lookups != 0 {
		t.Fatalf("expected no repository lookup, got %d", lookups)
	}
	if len(logged) != 1 || logged[0] != "payment.webhook.ignored" {
		t.Fatalf("expected payment.webhook.ignored log, got %v", logged)
	}
}

func TestPaymentServiceHandleProviderEventUnknownIntent(t *testing.T) {
	paymentsRepo := &stubPaymentRepository{
		findByProviderRefFunc: func(ctx context.Context, providerRef string) (domain.Payment, error) {
			return domain.Payment{}, &repositoryErrorStub{notFound: true}
		},
	}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments: paymentsRepo,
		Orders:   &stubOrderRepository{},
		Provider: &stubCardProvider{},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	err = service.HandleProviderEvent(context.Background(), ProviderEvent{
		Kind:     payments.EventPaymentSucceeded,
		RawType:  "payment_intent.succeeded",
		IntentID: "pi_unknown",
		Status:   payments.StatusSucceeded,
	})
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestPaymentServiceCancelPendingCardAbandonsIntent(t *testing.T) {
	now := time.Date(2025, 4, 4, 9, 0, 0, 0, time.UTC)
	record := domain.Payment{
		ID:          "pay_1",
		OrderID:     "ord_1",
		UserID:      "user-1",
		Method:      domain.PaymentMethodCard,
		Status:      domain.PaymentStatusProcessing,
		ProviderRef: "pi_123",
	}

	cancelled := 0
	var updatedPayment domain.Payment

	paymentsRepo := &stubPaymentRepository{
		findByIDFunc: func(ctx context.Context, paymentID string) (domain.Payment, error) {
			return record, nil
		},
		updateFunc: func(ctx context.Context, payment domain.Payment) error {
			updatedPayment = payment
			return nil
		},
	}
	provider := &stubCardProvider{
		retrieveFunc: func(ctx context.Context, intentID string) (payments.Intent, error) {
			return payments.Intent{ID: intentID, Status: payments.StatusRequiresConfirmation}, nil
		},
		cancelFunc: func(ctx context.Context, intentID string) (payments.Intent, error) {
			cancelled++
			return payments.Intent{ID: intentID, Status: payments.StatusCanceled}, nil
		},
	}
	events := &stubPaymentEvents{}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments: paymentsRepo,
		Orders:   &stubOrderRepository{},
		Provider: provider,
		Clock:    func() time.Time { return now },
		Events:   events,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	payment, err := service.CancelPayment(context.Background(), CancelPaymentCommand{
		Actor:     Actor{ID: "user-1"},
		PaymentID: "pay_1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cancelled != 1 {
		t.Fatalf("expected provider intent cancelled once, got %d", cancelled)
	}
	if payment.Status != domain.PaymentStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", payment.Status)
	}
	if updatedPayment.Status != domain.PaymentStatusCancelled {
		t.Fatalf("expected cancellation persisted")
	}
	if len(events.paymentEvents) != 1 || events.paymentEvents[0].Type != "payment.cancelled" {
		t.Fatalf("expected payment.cancelled event, got %+v", events.paymentEvents)
	}
}

func TestPaymentServiceCancelSucceededRejected(t *testing.T) {
	paymentsRepo := &stubPaymentRepository{
		findByIDFunc: func(ctx context.Context, paymentID string) (domain.Payment, error) {
			return domain.Payment{ID: paymentID, UserID: "user-1", Status: domain.PaymentStatusSucceeded}, nil
		},
	}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments: paymentsRepo,
		Orders:   &stubOrderRepository{},
		Provider: &stubCardProvider{},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	_, err = service.CancelPayment(context.Background(), CancelPaymentCommand{
		Actor:     Actor{ID: "user-1"},
		PaymentID: "pay_1",
	})
	if !errors.Is(err, ErrPaymentRuleViolation) {
		t.Fatalf("expected ErrPaymentRuleViolation, got %v", err)
	}
}

func TestPaymentServiceGetPaymentAuthorization(t *testing.T) {
	paymentsRepo := &stubPaymentRepository{
		findByIDFunc: func(ctx context.Context, paymentID string) (domain.Payment, error) {
			return domain.Payment{ID: paymentID, UserID: "user-2"}, nil
		},
	}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments: paymentsRepo,
		Orders:   &stubOrderRepository{},
		Provider: &stubCardProvider{},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	ctx := context.Background()
	_, err = service.GetPayment(ctx, Actor{ID: "user-1", Roles: []string{domain.RoleCustomer}}, "pay_1")
	if !errors.Is(err, ErrPaymentUnauthorized) {
		t.Fatalf("expected ErrPaymentUnauthorized, got %v", err)
	}

	if _, err := service.GetPayment(ctx, Actor{ID: "staff-1", Roles: []string{domain.RoleAdmin}}, "pay_1"); err != nil {
		t.Fatalf("expected staff read to succeed, got %v", err)
	}
}

func TestPaymentServiceListMyPaymentsScopedToActor(t *testing.T) {
	var captured repositories.PaymentListFilter
	paymentsRepo := &stubPaymentRepository{
		listFunc: func(ctx context.Context, filter repositories.PaymentListFilter) (domain.CursorPage[domain.Payment], error) {
			captured = filter
			return domain.CursorPage[domain.Payment]{
				Items:         []domain.Payment{{ID: "pay_1", UserID: filter.UserID}},
				NextPageToken: "next",
			}, nil
		},
	}

	service, err := NewPaymentService(PaymentServiceDeps{
		Payments: paymentsRepo,
		Orders:   &stubOrderRepository{},
		Provider: &stubCardProvider{},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}

	page, err := service.ListMyPayments(context.Background(), Actor{ID: "user-1", Roles: []string{domain.RoleCustomer}}, Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("unexpected error listing payments: %v", err)
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected listing scoped to user-1, got %q", captured.UserID)
	}
	if captured.Pagination.PageSize != 10 {
		t.Fatalf("expected page size 10, got %d", captured.Pagination.PageSize)
	}
	if len(page.Items) != 1 || page.NextPageToken != "next" {
		t.Fatalf("unexpected page: %+v", page)
	}

	if _, err := service.ListMyPayments(context.Background(), Actor{}, Pagination{}); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput for blank actor, got %v", err)
	}
}

// Stubs ----------------------------------------------------------------------

type stubPaymentRepository struct {
	insertFunc            func(ctx context.Context, payment domain.Payment) error
	updateFunc            func(ctx context.Context, payment domain.Payment) error
	findByIDFunc          func(ctx context.Context, paymentID string) (domain.Payment, error)
	findByProviderRefFunc func(ctx context.Context, providerRef string) (domain.Payment, error)
	listByOrderFunc       func(ctx context.Context, orderID string) ([]domain.Payment, error)
	listFunc              func(ctx context.Context, filter repositories.PaymentListFilter) (domain.CursorPage[domain.Payment], error)
}

func (s *stubPaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	if s.insertFunc != nil {
		return s.insertFunc(ctx, payment)
	}
	return nil
}

func (s *stubPaymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, payment)
	}
	return nil
}

func (s *stubPaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	if s.findByIDFunc != nil {
		return s.findByIDFunc(ctx, paymentID)
	}
	return domain.Payment{}, errors.New("not implemented")
}

func (s *stubPaymentRepository) FindByProviderRef(ctx context.Context, providerRef string) (domain.Payment, error) {
	if s.findByProviderRefFunc != nil {
		return s.findByProviderRefFunc(ctx, providerRef)
	}
	return domain.Payment{}, errors.New("not implemented")
}

func (s *stubPaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if s.listByOrderFunc != nil {
		return s.listByOrderFunc(ctx, orderID)
	}
	return nil, nil
}

func (s *stubPaymentRepository) List(ctx context.Context, filter repositories.PaymentListFilter) (domain.CursorPage[domain.Payment], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[domain.Payment]{}, nil
}

type stubCardProvider struct {
	createFunc   func(ctx context.Context, req payments.CreateIntentRequest) (payments.Intent, error)
	retrieveFunc func(ctx context.Context, intentID string) (payments.Intent, error)
	cancelFunc   func(ctx context.Context, intentID string) (payments.Intent, error)
}

func (s *stubCardProvider) CreateIntent(ctx context.Context, req payments.CreateIntentRequest) (payments.Intent, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, req)
	}
	return payments.Intent{}, errors.New("not implemented")
}

func (s *stubCardProvider) RetrieveIntent(ctx context.Context, intentID string) (payments.Intent, error) {
	if s.retrieveFunc != nil {
		return s.retrieveFunc(ctx, intentID)
	}
	return payments.Intent{}, errors.New("not implemented")
}

func (s *stubCardProvider) CancelIntent(ctx context.Context, intentID string) (payments.Intent, error) {
	if s.cancelFunc != nil {
		return s.cancelFunc(ctx, intentID)
	}
	return payments.Intent{}, errors.New("not implemented")
}

type hookedUnitOfWork struct {
	before func()
}

func (u *hookedUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u.before != nil {
		u.before()
	}
	return fn(ctx)
}

type stubPaymentEvents struct {
	paymentEvents []PaymentEvent
	publishErr    error
}

func (s *stubPaymentEvents) PublishPaymentEvent(ctx context.Context, event PaymentEvent) error {
	s.paymentEvents = append(s.paymentEvents, event)
	return s.publishErr
}
