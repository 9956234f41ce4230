package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the externally visible category of a failure
type Kind string

const (
	KindValidation            Kind = "validation_error"
	KindInvalidDelegation     Kind = "invalid_delegation"
	KindExternalService       Kind = "external_service_error"
	KindContract              Kind = "contract_error"
	KindInsufficientFunds     Kind = "insufficient_funds"
	KindTokenDeploymentFailed Kind = "token_deployment_failed"
)

// ReconnectHint is attached to every authentication failure
const ReconnectHint = "Please disconnect and reconnect your wallet, then try again."

// Status maps a kind to the HTTP status the outer layer should answer with
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindInvalidDelegation:
		return http.StatusUnauthorized
	case KindInsufficientFunds:
		return http.StatusPaymentRequired
	case KindContract:
		return http.StatusUnprocessableEntity
	case KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is the single error type crossing package boundaries of the core.
// Message and Detail are safe to show to callers; Cause is for logs only.
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	Detail  map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	if other.Kind != e.Kind {
		return false
	}
	return other.Message == "" || other.Message == e.Message
}

// Public is the caller-facing rendering: kind, message, hint and redacted details
func (e *Error) Public() map[string]any {
	out := map[string]any{
		"error":   string(e.Kind),
		"message": e.Message,
	}
	if e.Hint != "" {
		out["hint"] = e.Hint
	}
	if len(e.Detail) > 0 {
		out["details"] = Redact(e.Detail)
	}
	return out
}

// WithDetail returns a copy of e with one more detail entry
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Detail = make(map[string]any, len(e.Detail)+1)
	for k, v := range e.Detail {
		cp.Detail[k] = v
	}
	cp.Detail[key] = value
	return &cp
}

func newError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Validation reports malformed input caught before any side effect
func Validation(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

// InvalidDelegation reports an identity or authentication failure. The
// reason must already be free of key material.
func InvalidDelegation(reason string, cause error) *Error {
	e := newError(KindInvalidDelegation, cause, "invalid delegation: %s", reason)
	e.Hint = ReconnectHint
	return e
}

// ExternalService reports a network, timeout or unexpected-shape failure
func ExternalService(service string, cause error) *Error {
	e := newError(KindExternalService, cause, "%s request failed", service)
	e.Detail = map[string]any{"service": service}
	return e
}

// Contract reports a well-formed Err response from a canister
func Contract(method string, reason any) *Error {
	e := newError(KindContract, nil, "%s returned an error", method)
	e.Detail = map[string]any{"method": method, "reason": reason}
	return e
}

// InsufficientFunds reports a balance shortfall
func InsufficientFunds(format string, args ...any) *Error {
	return newError(KindInsufficientFunds, nil, format, args...)
}

// TokenDeploymentFailed reports a terminal provisioning failure
func TokenDeploymentFailed(stage string, cause error) *Error {
	e := newError(KindTokenDeploymentFailed, cause, "token deployment failed during %s", stage)
	e.Detail = map[string]any{"stage": stage}
	return e
}

// KindOf extracts the kind of err. Unclassified errors count as ExternalService.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindExternalService
}

// IsKind reports whether err carries kind anywhere in its chain
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Kind == kind {
				return true
			}
			err = e.Cause
			continue
		}
		return false
	}
	return false
}

var sensitiveKeys = []string{
	"delegation",
	"identity",
	"secret",
	"private",
	"sk",
	"signature",
	"sig",
	"wasm",
	"module_bytes",
	"arg",
	"args",
	"seed",
	"mnemonic",
}

const redacted = "[REDACTED]"

// Redact returns a copy of detail with sensitive values replaced
func Redact(detail map[string]any) map[string]any {
	out := make(map[string]any, len(detail))
	for k, v := range detail {
		if isSensitive(k) {
			out[k] = redacted
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if lower == s || strings.Contains(lower, s) && len(s) > 3 {
			return true
		}
	}
	return false
}
