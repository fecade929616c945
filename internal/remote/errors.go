package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a classified failure from the remote store. Responses the
// server may later accept unchanged (timeouts, throttling, 5xx) are
// retryable; validation and authorization rejections are permanent.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote: %d: %s", e.Status, e.Message)
}

// Retryable reports whether a later identical attempt could succeed.
func (e *Error) Retryable() bool {
	switch {
	case e.Status >= 500:
		return true
	case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// IsRetryable classifies any error from a remote call. Transport-level
// failures (unreachable, reset, timeout) carry no status and are always
// worth retrying.
func IsRetryable(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return true
}
