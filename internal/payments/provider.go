package payments

import (
	"context"
	"errors"
)

// IntentStatus is the closed set of provider intent statuses the reconciliation
// engine maps from. Statuses outside the documented vocabulary collapse into
// StatusUnrecognized so the mapping stays total.
type IntentStatus string

const (
	// StatusSucceeded indicates the provider captured the charge.
	StatusSucceeded IntentStatus = "succeeded"
	// StatusRequiresPaymentMethod indicates the customer must supply a payment method.
	StatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	// StatusRequiresConfirmation indicates the intent awaits confirmation.
	StatusRequiresConfirmation IntentStatus = "requires_confirmation"
	// StatusRequiresAction indicates the customer must complete an extra step (3DS etc).
	StatusRequiresAction IntentStatus = "requires_action"
	// StatusProcessing indicates the provider is still processing the charge.
	StatusProcessing IntentStatus = "processing"
	// StatusCanceled indicates the intent was abandoned on the provider side.
	StatusCanceled IntentStatus = "canceled"
	// StatusUnrecognized covers any status outside the documented vocabulary.
	StatusUnrecognized IntentStatus = "unrecognized"
)

// Cancelable reports whether the provider still accepts a cancel request for
// an intent in this status.
func (s IntentStatus) Cancelable() bool {
	switch s {
	case StatusRequiresPaymentMethod, StatusRequiresConfirmation:
		return true
	default:
		return false
	}
}

// EventKind is the closed set of provider webhook event types handled by the
// reconciliation engine.
type EventKind string

const (
	// EventPaymentSucceeded signals the intent settled.
	EventPaymentSucceeded EventKind = "payment_intent.succeeded"
	// EventPaymentFailed signals the charge attempt failed.
	EventPaymentFailed EventKind = "payment_intent.payment_failed"
	// EventPaymentRequiresAction signals the customer must complete an extra step.
	EventPaymentRequiresAction EventKind = "payment_intent.requires_action"
	// EventUnrecognized covers event types outside the handled vocabulary.
	EventUnrecognized EventKind = "unrecognized"
)

var (
	// ErrProviderUnavailable indicates a network or availability failure talking
	// to the provider. Callers must treat it as retryable, never as payment failure.
	ErrProviderUnavailable = errors.New("payments: provider unavailable")
	// ErrIntentNotFound indicates the provider has no record of the intent.
	ErrIntentNotFound = errors.New("payments: intent not found")
	// ErrSignatureInvalid indicates webhook signature verification failed.
	ErrSignatureInvalid = errors.New("payments: webhook signature invalid")
)

// CreateIntentRequest captures the payload required to open a provider intent.
// Amount is denominated in the currency's minor unit.
type CreateIntentRequest struct {
	Amount         int64
	Currency       string
	CustomerRef    string
	OrderID        string
	PaymentID      string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent normalises the provider's in-progress charge representation.
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	Amount       int64
	Currency     string
}

// Event is a verified provider callback.
type Event struct {
	Kind     EventKind
	RawType  string
	IntentID string
	Status   IntentStatus
}

// Provider is the card payment gateway contract consumed by the payment service.
type Provider interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (Intent, error)
	CancelIntent(ctx context.Context, intentID string) (Intent, error)
}

// WebhookVerifier authenticates and parses inbound provider callbacks.
// Verification failure fails closed: no event, no state change.
type WebhookVerifier interface {
	VerifyAndParse(payload []byte, signature string) (Event, error)
}
