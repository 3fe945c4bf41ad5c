package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cleanease/api/internal/payments"
	"github.com/cleanease/api/internal/platform/auth"
	"github.com/cleanease/api/internal/platform/httpx"
	"github.com/cleanease/api/internal/services"
)

const (
	defaultPaymentPageSize = 20
	maxPaymentPageSize     = 100
)

type createCardPaymentRequest struct {
	OrderID string `json:"order_id"`
	Amount  string `json:"amount"`
}

type processCashPaymentRequest struct {
	OrderID string `json:"order_id"`
	Amount  string `json:"amount"`
}

// parseRupeeAmount converts a decimal rupee string ("350", "350.5", "350.50")
// into int64 paise. Conversion happens here once; everything past the handler
// works in minor units.
func parseRupeeAmount(raw string) (int64, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, errors.New("amount is required")
	}

	whole, frac, hasFrac := strings.Cut(value, ".")
	if strings.HasPrefix(whole, "+") || strings.HasPrefix(whole, "-") {
		return 0, errors.New("amount must be a non-negative decimal")
	}
	rupees, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, errors.New("amount must be a non-negative decimal")
	}

	var paise int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, errors.New("amount supports at most two decimal places")
		}
		padded := frac + strings.Repeat("0", 2-len(frac))
		paise, err = strconv.ParseInt(padded, 10, 64)
		if err != nil || paise < 0 {
			return 0, errors.New("amount must be a non-negative decimal")
		}
	}

	if rupees > (math.MaxInt64-paise)/100 {
		return 0, errors.New("amount is too large")
	}
	return rupees*100 + paise, nil
}

// PaymentHandlers exposes payment settlement endpoints for authenticated users.
type PaymentHandlers struct {
	authn *auth.Authenticator
	svc   services.PaymentService
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(authn *auth.Authenticator, svc services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{
		authn: authn,
		svc:   svc,
	}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listMyPayments)
	r.Post("/card", h.createCardPayment)
	r.Post("/cash", h.processCashPayment)
	r.Get("/{paymentID}", h.getPayment)
	r.Post("/{paymentID}:cancel", h.cancelPayment)
}

func (h *PaymentHandlers) createCardPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := requestActor(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req createCardPaymentRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}
	amount, err := parseRupeeAmount(req.Amount)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.svc.CreateCardPayment(ctx, services.CreateCardPaymentCommand{
		Actor:   actor,
		OrderID: strings.TrimSpace(req.OrderID),
		Amount:  amount,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, cardPaymentResponse{
		Payment:      buildPaymentPayload(result.Payment),
		ClientSecret: result.ClientSecret,
	})
}

func (h *PaymentHandlers) processCashPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := requestActor(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req processCashPaymentRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}
	amount, err := parseRupeeAmount(req.Amount)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	payment, err := h.svc.ProcessCashPayment(ctx, services.ProcessCashPaymentCommand{
		Actor:   actor,
		OrderID: strings.TrimSpace(req.OrderID),
		Amount:  amount,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, paymentResponse{Payment: buildPaymentPayload(payment)})
}

func (h *PaymentHandlers) listMyPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := requestActor(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()
	pageSize, ok := parsePageSize(ctx, w, query.Get("page_size"), defaultPaymentPageSize, maxPaymentPageSize)
	if !ok {
		return
	}

	page, err := h.svc.ListMyPayments(ctx, actor, services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	items := make([]paymentPayload, 0, len(page.Items))
	for _, payment := range page.Items {
		items = append(items, buildPaymentPayload(payment))
	}
	writeJSONResponse(w, http.StatusOK, paymentListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *PaymentHandlers) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := requestActor(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
	if paymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment id is required", http.StatusBadRequest))
		return
	}

	payment, err := h.svc.GetPayment(ctx, actor, paymentID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}

func (h *PaymentHandlers) cancelPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	actor, ok := requestActor(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
	if paymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment id is required", http.StatusBadRequest))
		return
	}

	payment, err := h.svc.CancelPayment(ctx, services.CancelPaymentCommand{
		Actor:     actor,
		PaymentID: paymentID,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}

type paymentListResponse struct {
	Items         []paymentPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type paymentResponse struct {
	Payment paymentPayload `json:"payment"`
}

type cardPaymentResponse struct {
	Payment      paymentPayload `json:"payment"`
	ClientSecret string         `json:"client_secret,omitempty"`
}

type paymentPayload struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Method      string `json:"method"`
	Status      string `json:"status"`
	ProviderRef string `json:"provider_ref,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	PaidAt      string `json:"paid_at,omitempty"`
}

func buildPaymentPayload(payment services.Payment) paymentPayload {
	payload := paymentPayload{
		ID:          strings.TrimSpace(payment.ID),
		OrderID:     strings.TrimSpace(payment.OrderID),
		UserID:      strings.TrimSpace(payment.UserID),
		Amount:      payment.Amount,
		Method:      strings.TrimSpace(string(payment.Method)),
		Status:      strings.TrimSpace(string(payment.Status)),
		ProviderRef: strings.TrimSpace(payment.ProviderRef),
		CreatedAt:   formatTime(payment.CreatedAt),
		UpdatedAt:   formatTime(payment.UpdatedAt),
	}
	if payment.PaidAt != nil {
		payload.PaidAt = formatTime(*payment.PaidAt)
	}
	return payload
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this payment", http.StatusForbidden))
	case errors.Is(err, services.ErrAlreadyPaid):
		httpx.WriteError(ctx, w, httpx.NewError("order_already_paid", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentConflict), errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("payment_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentRuleViolation):
		httpx.WriteError(ctx, w, httpx.NewError("payment_rule_violation", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, payments.ErrProviderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("provider_unavailable", "payment provider unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}
