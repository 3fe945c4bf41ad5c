package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/cleanease/api/internal/domain"
	"github.com/cleanease/api/internal/platform/auth"
	"github.com/cleanease/api/internal/services"
)

type stubOrderService struct {
	createFn      func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn         func(context.Context, services.Actor, string) (services.Order, error)
	getByNumberFn func(context.Context, services.Actor, string) (services.Order, error)
	listFn        func(context.Context, services.Actor, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	updateFn      func(context.Context, services.UpdateOrderCommand) (services.Order, error)
	transitionFn  func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	cancelFn      func(context.Context, services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, actor services.Actor, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, actor, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrderByNumber(ctx context.Context, actor services.Actor, orderNumber string) (services.Order, error) {
	if s.getByNumberFn != nil {
		return s.getByNumberFn(ctx, actor, orderNumber)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, actor services.Actor, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, actor, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) UpdateOrder(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func newOrderRouter(orders services.OrderService, payments services.PaymentService) *chi.Mux {
	handler := NewOrderHandlers(nil, orders, payments, nil)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func identityRequest(req *http.Request, uid string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

func decodeErrorCode(t *testing.T, body []byte) string {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("failed to parse error body: %v", err)
	}
	code, _ := payload["error"].(string)
	return code
}

func TestOrderHandlersCreateOrderSuccess(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return services.Order{
				ID:            "ord_1",
				OrderNumber:   "ORD-AB12CD",
				UserID:        cmd.Actor.ID,
				Status:        domain.OrderStatusPending,
				PaymentStatus: domain.OrderPaymentStatusUnpaid,
				Items: []domain.OrderItem{
					{ServiceID: "svc-wash", ServiceName: "Wash & Fold", Quantity: 2, UnitPrice: 500, LineTotal: 1000},
				},
				PickupDate:   cmd.PickupDate,
				DeliveryDate: cmd.DeliveryDate,
				TotalAmount:  1000,
				CreatedAt:    now,
				UpdatedAt:    now,
			}, nil
		},
	}

	body := `{
		"items": [{"service_id": "svc-wash", "quantity": 2}],
		"pickup_date": "2025-03-10T14:00:00Z",
		"delivery_date": "2025-03-11T18:00:00Z",
		"delivery_address": "12 Marine Drive",
		"special_instructions": "no bleach"
	}`

	router := newOrderRouter(service, nil)
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req = identityRequest(req, "user-1", auth.RoleCustomer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	if captured.Actor.ID != "user-1" {
		t.Fatalf("expected actor user-1, got %q", captured.Actor.ID)
	}
	if len(captured.Items) != 1 || captured.Items[0].ServiceID != "svc-wash" || captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items %+v", captured.Items)
	}
	if !captured.PickupDate.Equal(time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected pickup date %v", captured.PickupDate)
	}
	if captured.SpecialInstructions != "no bleach" {
		t.Fatalf("unexpected instructions %q", captured.SpecialInstructions)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.ID != "ord_1" || resp.Order.Status != "PENDING" {
		t.Fatalf("unexpected order payload %+v", resp.Order)
	}
	if resp.Order.TotalAmount != 1000 {
		t.Fatalf("expected total 1000, got %d", resp.Order.TotalAmount)
	}
}

func TestOrderHandlersCreateOrderDateOnly(t *testing.T) {
	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return services.Order{ID: "ord_1"}, nil
		},
	}

	body := `{"items":[{"service_id":"svc-wash","quantity":1}],"pickup_date":"2025-03-12","delivery_date":"2025-03-14"}`

	router := newOrderRouter(service, nil)
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req = identityRequest(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if !captured.PickupDate.Equal(time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected date-only pickup parsed, got %v", captured.PickupDate)
	}
}

func TestOrderHandlersCreateOrderInvalidDate(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, nil)

	body := `{"items":[{"service_id":"svc-wash","quantity":1}],"pickup_date":"next tuesday","delivery_date":"2025-03-14"}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req = identityRequest(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "invalid_request" {
		t.Fatalf("expected invalid_request, got %q", code)
	}
}

func TestOrderHandlersCreateOrderUnauthenticated(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "unauthenticated" {
		t.Fatalf("expected unauthenticated, got %q", code)
	}
}

func TestOrderHandlersListOrdersParsesFilter(t *testing.T) {
	var captured services.OrderListFilter
	service := &stubOrderService{
		listFn: func(ctx context.Context, actor services.Actor, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{{ID: "ord_1", Status: domain.OrderStatusConfirmed}},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	router := newOrderRouter(service, nil)
	req := httptest.NewRequest(http.MethodGet, "/orders?status=confirmed,ready&page_size=10&page_token=tok123&created_after=2025-03-01T00:00:00Z", nil)
	req = identityRequest(req, "user-1", auth.RoleCustomer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if captured.UserID != "user-1" {
		t.Fatalf("expected filter scoped to user-1, got %q", captured.UserID)
	}
	if len(captured.Status) != 2 || captured.Status[0] != "CONFIRMED" || captured.Status[1] != "READY" {
		t.Fatalf("expected uppercased status filters, got %v", captured.Status)
	}
	if captured.Pagination.PageSize != 10 || captured.Pagination.PageToken != "tok123" {
		t.Fatalf("unexpected pagination %+v", captured.Pagination)
	}
	expectedFrom := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if captured.DateRange.From == nil || !captured.DateRange.From.Equal(expectedFrom) {
		t.Fatalf("expected created_after %v, got %#v", expectedFrom, captured.DateRange.From)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.NextPageToken != "tok-next" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOrderHandlersListOrdersStaffUserFilter(t *testing.T) {
	var captured services.OrderListFilter
	service := &stubOrderService{
		listFn: func(ctx context.Context, actor services.Actor, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{}, nil
		},
	}

	router := newOrderRouter(service, nil)
	req := httptest.NewRequest(http.MethodGet, "/orders?user_id=user-42&page_size=500", nil)
	req = identityRequest(req, "staff-1", auth.RoleStaff)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "user-42" {
		t.Fatalf("expected staff user filter user-42, got %q", captured.UserID)
	}
	if captured.Pagination.PageSize != maxOrderPageSize {
		t.Fatalf("expected page size clamped to %d, got %d", maxOrderPageSize, captured.Pagination.PageSize)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, actor services.Actor, orderID string) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}

	router := newOrderRouter(service, nil)
	req := httptest.NewRequest(http.MethodGet, "/orders/ord_missing", nil)
	req = identityRequest(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "order_not_found" {
		t.Fatalf("expected order_not_found, got %q", code)
	}
}

func TestOrderHandlersGetOrderByNumber(t *testing.T) {
	service := &stubOrderService{
		getByNumberFn: func(ctx context.Context, actor services.Actor, orderNumber string) (services.Order, error) {
			if orderNumber != "ORD-AB12CD" {
				t.Fatalf("unexpected order number %q", orderNumber)
			}
			return services.Order{ID: "ord_1", OrderNumber: orderNumber}, nil
		},
	}

	router := newOrderRouter(service, nil)
	req := httptest.NewRequest(http.MethodGet, "/orders/by-number/ORD-AB12CD", nil)
	req = identityRequest(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.OrderNumber != "ORD-AB12CD" {
		t.Fatalf("unexpected payload %+v", resp.Order)
	}
}

func TestOrderHandlersUpdateOrderPartial(t *testing.T) {
	var captured services.UpdateOrderCommand
	service := &stubOrderService{
		updateFn: func(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
			captured = cmd
			return services.Order{ID: cmd.OrderID}, nil
		},
	}

	router := newOrderRouter(service, nil)
	req := httptest.NewRequest(http.MethodPatch, "/orders/ord_1", strings.NewReader(`{"special_instructions":"leave at reception"}`))
	req = identityRequest(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if captured.OrderID != "ord_1" {
		t.Fatalf("expected order id ord_1, got %q", captured.OrderID)
	}
	if captured.Items != nil {
		t.Fatalf("expected items untouched, got %+v", captured.Items)
	}
	if captured.PickupDate != nil || captured.DeliveryDate != nil || captured.DeliveryAddress != nil {
		t.Fatalf("expected only instructions patched")
	}
	if captured.SpecialInstructions == nil || *captured.SpecialInstructions != "leave at reception" {
		t.Fatalf("unexpected instructions %#v", captured.SpecialInstructions)
	}
}

func TestOrderHandlersTransitionOrder(t *testing.T) {
	var captured services.OrderStatusTransitionCommand
	service := &stubOrderService{
		transitionFn: func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			captured = cmd
			return services.Order{ID: cmd.OrderID, Status: cmd.TargetStatus}, nil
		},
	}

	router := newOrderRouter(service, nil)
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1:transition", strings.NewReader(`{"status":"picked_up"}`))
	req = identityRequest(req, "staff-1", auth.RoleStaff)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.TargetStatus != domain.OrderStatusPickedUp {
		t.Fatalf("expected uppercased target status, got %q", captured.TargetStatus)
	}
}

func TestOrderHandlersTransitionOrderInvalid(t *testing.T) {
	service := &stubOrderService{
		transitionFn: func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidTransition
		},
	}

	router := newOrderRouter(service, nil)
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1:transition", strings.NewReader(`{"status":"READY"}`))
	req = identityRequest(req, "staff-1", auth.RoleStaff)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "order_invalid_transition" {
		t.Fatalf("expected order_invalid_transition, got %q", code)
	}
}

func TestOrderHandlersCancelOrderEmptyBody(t *testing.T) {
	var captured services.CancelOrderCommand
	service := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			return services.Order{ID: cmd.OrderID, Status: domain.OrderStatusCancelled}, nil
		},
	}

	router := newOrderRouter(service, nil)
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1:cancel", bytes.NewReader(nil))
	req = identityRequest(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Reason != "" {
		t.Fatalf("expected empty reason, got %q", captured.Reason)
	}
}

func TestOrderHandlersCancelOrderAlreadyCancelled(t *testing.T) {
	service := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderAlreadyCancelled
		},
	}

	router := newOrderRouter(service, nil)
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1:cancel", strings.NewReader(`{"reason":"changed plans"}`))
	req = identityRequest(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "order_already_cancelled" {
		t.Fatalf("expected order_already_cancelled, got %q", code)
	}
}

func TestOrderHandlersListOrderPayments(t *testing.T) {
	paid := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	payments := &stubPaymentService{
		listOrderFn: func(ctx context.Context, actor services.Actor, orderID string) ([]services.Payment, error) {
			if orderID != "ord_1" {
				t.Fatalf("unexpected order id %q", orderID)
			}
			return []services.Payment{
				{ID: "pay_1", OrderID: orderID, Amount: 2000, Method: domain.PaymentMethodCash, Status: domain.PaymentStatusSucceeded, PaidAt: &paid},
			}, nil
		},
	}

	router := newOrderRouter(&stubOrderService{}, payments)
	req := httptest.NewRequest(http.MethodGet, "/orders/ord_1/payments", nil)
	req = identityRequest(req, "user-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp paymentListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 payment, got %d", len(resp.Items))
	}
	if resp.Items[0].Method != "CASH" || resp.Items[0].PaidAt == "" {
		t.Fatalf("unexpected payment payload %+v", resp.Items[0])
	}
}
