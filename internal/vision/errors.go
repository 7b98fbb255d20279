package vision

import (
	"fmt"
	"net/http"

	"github.com/spherical/pdf-enricher/internal/domain"
)

// AuthError reports a rejected or missing credential. Never retried.
func AuthError(provider, msg string, err error) error {
	return domain.ProviderAuthError(fmt.Sprintf("%s: %s", provider, msg), err)
}

// TransientError reports a failure worth retrying: timeouts, refused
// connections, rate limits and 5xx responses.
func TransientError(provider, msg string, err error) error {
	return domain.ProviderTransientError(fmt.Sprintf("%s: %s", provider, msg), err)
}

// MalformedResponseError reports an empty or unparsable answer, or a request
// the provider rejected. Never retried.
func MalformedResponseError(provider, msg string, err error) error {
	return domain.MalformedResponseError(fmt.Sprintf("%s: %s", provider, msg), err)
}

func IsAuth(err error) bool      { return domain.IsType(err, domain.ErrorTypeProviderAuth) }
func IsTransient(err error) bool { return domain.IsType(err, domain.ErrorTypeProviderTransient) }
func IsMalformed(err error) bool { return domain.IsType(err, domain.ErrorTypeProviderMalformed) }

type statusClass int

const (
	statusOK statusClass = iota
	statusRetry
	statusAuth
	statusRejected
)

func classifyStatus(code int) statusClass {
	switch {
	case code >= 200 && code < 300:
		return statusOK
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return statusAuth
	case shouldRetry(code):
		return statusRetry
	default:
		return statusRejected
	}
}

// outcome labels a call result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsAuth(err):
		return "auth_error"
	case IsTransient(err):
		return "transient_error"
	case IsMalformed(err):
		return "malformed"
	case domain.IsType(err, domain.ErrorTypeCancelled):
		return "cancelled"
	default:
		return "error"
	}
}
