package service

import (
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failed provisioning request
type Kind string

const (
	KindAuth          Kind = "auth"
	KindConfig        Kind = "config"
	KindQuota         Kind = "quota"
	KindAbuse         Kind = "abuse"
	KindValidation    Kind = "validation"
	KindSlugExhausted Kind = "slug_exhausted"
	KindPlatform      Kind = "platform_error"
	KindAdminBinding  Kind = "admin_binding_failed"
	KindInternal      Kind = "internal"
)

// HTTPStatus maps a failure kind to its response status
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuth:
		return http.StatusUnauthorized
	case KindQuota:
		return http.StatusTooManyRequests
	case KindAbuse:
		return http.StatusForbidden
	case KindValidation, KindSlugExhausted:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// State is a step of the provisioning pipeline
type State string

const (
	StateReceived            State = "received"
	StateAuthorized          State = "authorized"
	StateQuotaChecked        State = "quota_checked"
	StateSlugResolved        State = "slug_resolved"
	StateTenantCreated       State = "tenant_created"
	StateContentBootstrapped State = "content_bootstrapped"
	StateAdminBound          State = "admin_bound"
	StateNotificationSent    State = "notification_sent"
	StateCompleted           State = "completed"
)

// Validation reasons for request bodies that never reach the pipeline
const (
	ReasonInvalidJSON     = "Invalid JSON payload"
	ReasonPayloadTooLarge = "Payload too large"
)

// GenericFailureMessage is the only text clients see for server-side failures
const GenericFailureMessage = "Failed to create website. Please try again."

// ProvisionError is a terminal pipeline failure. Err carries the diagnostic
// cause and is never shown to clients.
type ProvisionError struct {
	Kind       Kind
	State      State
	Reason     string
	// RetryAfter is set on quota denials.
	RetryAfter time.Duration
	Err        error
}

func (e *ProvisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provision %s at %s: %s: %v", e.Kind, e.State, e.Reason, e.Err)
	}
	return fmt.Sprintf("provision %s at %s: %s", e.Kind, e.State, e.Reason)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// PublicMessage is the client-facing message for the failure
func (e *ProvisionError) PublicMessage() string {
	switch e.Kind {
	case KindAuth:
		return "Unauthorized"
	case KindQuota:
		return "Rate limit exceeded. Please try again later."
	case KindAbuse:
		return "Access denied"
	case KindValidation:
		return e.Reason
	case KindSlugExhausted:
		return "No site address is available for this business name"
	default:
		return GenericFailureMessage
	}
}

// NotificationError reports a welcome mail that could not be delivered.
// It never fails a provisioning request.
type NotificationError struct {
	To  string
	Err error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("welcome notification to %s: %v", e.To, e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}
