package security

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSettings = errors.New("security: invalid settings")
	ErrStoreRequired   = errors.New("security: request store is required")
)

// SecurityType names the check that rejected a request.
type SecurityType string

const (
	TypeUserLogin   SecurityType = "USER_LOGIN"
	TypeGlobalLogin SecurityType = "GLOBAL_LOGIN"
	TypeUserEmail   SecurityType = "USER_EMAIL"
	TypeGlobalEmail SecurityType = "GLOBAL_EMAIL"
)

// ThrottleError reports an abuse-check violation. Callers must surface Type and Delay to
// the client so it can wait or solve a captcha.
type ThrottleError struct {
	Type   SecurityType
	Delay  Delay
	Reason string
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("security: %s: %s (remaining delay: %s)", e.Type, e.Reason, e.Delay)
}

// AsThrottle extracts a ThrottleError from err.
func AsThrottle(err error) (*ThrottleError, bool) {
	var te *ThrottleError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsThrottle reports whether err carries a ThrottleError.
func IsThrottle(err error) bool {
	_, ok := AsThrottle(err)
	return ok
}
