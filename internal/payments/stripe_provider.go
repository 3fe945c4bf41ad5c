package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	CallTimeout   time.Duration
	Logger        StripeLogger
	Clients       *stripeClients
}

// StripeProvider implements Provider and WebhookVerifier against the Stripe API.
type StripeProvider struct {
	api           stripeClients
	webhookSecret string
	callTimeout   time.Duration
	logger        StripeLogger
}

const defaultStripeCallTimeout = 15 * time.Second

// NewStripeProvider constructs a Stripe-backed card payment provider.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{intents: sc.PaymentIntents}
	}
	if clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultStripeCallTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:           clients,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		callTimeout:   timeout,
		logger:        logger,
	}, nil
}

// CreateIntent opens a payment intent for the given minor-unit amount.
func (p *StripeProvider) CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	metadata := make(map[string]string, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.OrderID != "" {
		metadata["orderId"] = req.OrderID
	}
	if req.PaymentID != "" {
		metadata["paymentId"] = req.PaymentID
	}
	if req.CustomerRef != "" {
		metadata["userId"] = req.CustomerRef
	}
	params.Metadata = metadata

	intent, err := p.api.intents.New(params)
	if err != nil {
		return Intent{}, p.wrapError("create payment intent", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
		"status":        intent.Status,
	})

	return stripeIntent(intent), nil
}

// RetrieveIntent fetches the current provider-side state of an intent.
func (p *StripeProvider) RetrieveIntent(ctx context.Context, intentID string) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := p.api.intents.Get(intentID, params)
	if err != nil {
		return Intent{}, p.wrapError("retrieve payment intent", err)
	}
	return stripeIntent(intent), nil
}

// CancelIntent asks the provider to abandon an intent.
func (p *StripeProvider) CancelIntent(ctx context.Context, intentID string) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	intent, err := p.api.intents.Cancel(intentID, params)
	if err != nil {
		return Intent{}, p.wrapError("cancel payment intent", err)
	}

	p.logger(ctx, "payments.stripe.intent.canceled", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
	})

	return stripeIntent(intent), nil
}

// VerifyAndParse authenticates a webhook delivery and normalises it into an Event.
func (p *StripeProvider) VerifyAndParse(payload []byte, signature string) (Event, error) {
	if p == nil || p.webhookSecret == "" {
		return Event{}, errors.New("stripe: webhook secret not configured")
	}

	stripeEvent, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	rawType := string(stripeEvent.Type)
	event := Event{
		Kind:    mapStripeEventKind(rawType),
		RawType: rawType,
	}

	if stripeEvent.Data != nil {
		if id, ok := stripeEvent.Data.Object["id"].(string); ok {
			event.IntentID = id
		}
		if status, ok := stripeEvent.Data.Object["status"].(string); ok {
			event.Status = mapStripeIntentStatus(stripe.PaymentIntentStatus(status))
		}
	}

	return event, nil
}

func (p *StripeProvider) wrapError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return fmt.Errorf("%w: %s: %v", ErrIntentNotFound, op, err)
		case stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, op, err)
		default:
			return fmt.Errorf("stripe: %s: %w", op, err)
		}
	}
	// Transport failures surface as plain errors; classify them as retryable.
	return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, op, err)
}

func stripeIntent(intent *stripe.PaymentIntent) Intent {
	if intent == nil {
		return Intent{}
	}
	return Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       mapStripeIntentStatus(intent.Status),
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
	}
}

func mapStripeIntentStatus(status stripe.PaymentIntentStatus) IntentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return StatusRequiresPaymentMethod
	case stripe.PaymentIntentStatusRequiresConfirmation:
		return StatusRequiresConfirmation
	case stripe.PaymentIntentStatusRequiresAction:
		return StatusRequiresAction
	case stripe.PaymentIntentStatusProcessing:
		return StatusProcessing
	case stripe.PaymentIntentStatusCanceled:
		return StatusCanceled
	default:
		return StatusUnrecognized
	}
}

func mapStripeEventKind(eventType string) EventKind {
	switch eventType {
	case string(EventPaymentSucceeded):
		return EventPaymentSucceeded
	case string(EventPaymentFailed):
		return EventPaymentFailed
	case string(EventPaymentRequiresAction):
		return EventPaymentRequiresAction
	default:
		return EventUnrecognized
	}
}
