package remote

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/xprocessing/neoaigc/internal/domain"
)

// ErrLoginPending is returned by ProbeLogin while the challenge is unresolved.
var ErrLoginPending = errors.New("remote: login not resolved yet")

// TransportError means the request never produced a usable HTTP response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ApplicationError is an explicit rejection carried in a {success:false} payload.
// Message is the server reason, shown to the user verbatim.
type ApplicationError struct {
	Op      string
	Message string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("remote: %s: %s", e.Op, e.Message)
}

// Is maps the well-known server reasons onto domain sentinels.
func (e *ApplicationError) Is(target error) bool {
	msg := strings.ToLower(e.Message)
	switch target {
	case domain.ErrNotFound:
		return strings.Contains(msg, "not found")
	case domain.ErrUnauthorized:
		return strings.Contains(msg, "unauthorized")
	}
	return false
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote: %s: http %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote: %s: http %d", e.Op, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case domain.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case domain.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// IsTransient reports whether retrying the same request later may succeed:
// transport failures, 429 and 5xx responses.
func IsTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= http.StatusInternalServerError
	}
	return false
}

// Reason extracts the user-facing message from a submission failure.
func Reason(err error) string {
	var ae *ApplicationError
	if errors.As(err, &ae) {
		return ae.Message
	}
	var se *StatusError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
