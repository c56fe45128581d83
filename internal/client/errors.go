package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cpvl/dues-server/internal/ledger"
)

var (
	ErrUnauthorized = errors.New("session expired, please log in again")
	ErrForbidden    = errors.New("access denied")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")

	// ErrSuperseded is returned by a request cancelled because a newer one
	// started on the same channel. Callers drop it silently.
	ErrSuperseded = errors.New("request superseded")

	ErrConfirmationInFlight = errors.New("a confirmation is already in progress")
	ErrInvalidPilot         = errors.New("invalid pilot identifier")
	ErrPlanNotOffered       = errors.New("plan not offered for the missing months")
)

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

// Is lets callers match status classes with errors.Is
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// PartialNoticeError reports a payment notice that stopped midway. The
// months in Submitted were created and stay on the server as ToConfirm.
type PartialNoticeError struct {
	Submitted []ledger.Key
	Failed    ledger.Key
	Err       error
}

func (e *PartialNoticeError) Error() string {
	if len(e.Submitted) == 0 {
		return fmt.Sprintf("payment notice failed at %s: %v", e.Failed, e.Err)
	}
	done := make([]string, len(e.Submitted))
	for i, k := range e.Submitted {
		done[i] = k.String()
	}
	return fmt.Sprintf("payment notice failed at %s after submitting %s: %v",
		e.Failed, strings.Join(done, ", "), e.Err)
}

func (e *PartialNoticeError) Unwrap() error {
	return e.Err
}
