package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cleanease/api/internal/payments"
	"github.com/cleanease/api/internal/platform/httpx"
	"github.com/cleanease/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

const stripeSignatureHeader = "Stripe-Signature"

// WebhookLogger records webhook processing events for observability.
type WebhookLogger func(ctx context.Context, event string, fields map[string]any)

// WebhookHandlers receives provider callbacks. The group is mounted without
// authentication middleware; the payload signature is the only credential.
type WebhookHandlers struct {
	verifier payments.WebhookVerifier
	svc      services.PaymentService
	logger   WebhookLogger
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(verifier payments.WebhookVerifier, svc services.PaymentService, logger WebhookLogger) *WebhookHandlers {
	return &WebhookHandlers{
		verifier: verifier,
		svc:      svc,
		logger:   logger,
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.svc == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	signature := strings.TrimSpace(r.Header.Get(stripeSignatureHeader))
	if signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "missing signature header", http.StatusBadRequest))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if len(body) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return
	}
	if len(body) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := h.verifier.VerifyAndParse(body, signature)
	if err != nil {
		h.log(ctx, "webhook.stripe.rejected", map[string]any{"error": err.Error()})
		if errors.Is(err, payments.ErrSignatureInvalid) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to parse webhook payload", http.StatusBadRequest))
		return
	}

	if err := h.svc.HandleProviderEvent(ctx, event); err != nil {
		h.log(ctx, "webhook.stripe.failed", map[string]any{
			"event_type": event.RawType,
			"intent_id":  event.IntentID,
			"error":      err.Error(),
		})
		writeWebhookError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandlers) log(ctx context.Context, event string, fields map[string]any) {
	if h.logger == nil {
		return
	}
	h.logger(ctx, event, fields)
}

func writeWebhookError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "no payment matches provider reference", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentConflict), errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("payment_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, payments.ErrProviderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("provider_unavailable", "payment provider unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook", http.StatusInternalServerError))
	}
}
