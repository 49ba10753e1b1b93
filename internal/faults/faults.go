package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers classifying every failure the daemon can surface. Callers
// wrap errors with one of these via Wrap and later branch with errors.Is.
var (
	// ErrPermissionDenied means capture cannot start or continue. Fatal to
	// the current recording attempt, never retried.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrStorageExhausted means local disk dropped below the free-space
	// floor. Fatal to capture, checked before every segment open.
	ErrStorageExhausted = errors.New("storage exhausted")
	// ErrTransientDelivery marks delivery failures worth retrying with
	// backoff (network errors, 5xx responses).
	ErrTransientDelivery = errors.New("transient delivery failure")
	// ErrPermanentDelivery marks delivery failures that retrying cannot fix
	// (rejected payloads, exhausted retry budgets).
	ErrPermanentDelivery = errors.New("permanent delivery failure")
	// ErrRemoteProcessing means the processing service reported failure for
	// a session.
	ErrRemoteProcessing = errors.New("remote processing failure")
	// ErrPollTimeout means the status poll budget was exhausted without a
	// terminal answer from the processing service.
	ErrPollTimeout = errors.New("polling timeout")
)

// Kind identifiers persisted on sessions so the UI can distinguish failure
// causes after a restart.
const (
	KindPermissionDenied  = "permission_denied"
	KindStorageExhausted  = "storage_exhausted"
	KindTransientDelivery = "transient_delivery_failure"
	KindPermanentDelivery = "permanent_delivery_failure"
	KindRemoteProcessing  = "remote_processing_failure"
	KindPollTimeout       = "polling_timeout"
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransientDelivery
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps a classified error to its stable kind identifier. Unclassified
// errors report as transient delivery failures, the only retryable default.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrStorageExhausted):
		return KindStorageExhausted
	case errors.Is(err, ErrPermanentDelivery):
		return KindPermanentDelivery
	case errors.Is(err, ErrRemoteProcessing):
		return KindRemoteProcessing
	case errors.Is(err, ErrPollTimeout):
		return KindPollTimeout
	default:
		return KindTransientDelivery
	}
}

// Retryable reports whether the delivery layer should keep attempting the
// operation that produced err.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrStorageExhausted),
		errors.Is(err, ErrPermanentDelivery),
		errors.Is(err, ErrRemoteProcessing),
		errors.Is(err, ErrPollTimeout):
		return false
	default:
		return true
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "component failure"
	}
	return strings.Join(parts, ": ")
}
