package domain

import "errors"

// Error taxonomy (sentinels). Wrap with fmt.Errorf("%w: detail", ...) so
// callers can classify via errors.Is.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrConfig           = errors.New("config error")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRateLimited      = errors.New("rate limited")
	ErrTimeout          = errors.New("timeout")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrParse            = errors.New("parse error")
	ErrTool             = errors.New("tool error")
	ErrCancelled        = errors.New("cancelled")
	ErrStorage          = errors.New("storage error")
)

// IsRetriable reports whether a provider or tool failure is worth retrying.
// Only transient upstream conditions qualify; everything else fails fast.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}
