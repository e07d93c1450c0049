package apperrors

import "errors"

// Standardized execution and market-data errors
var (
	ErrInvalidPrice      = errors.New("invalid price")
	ErrMarketClosed      = errors.New("market closed")
	ErrUnknownTarget     = errors.New("unknown execution target")
	ErrLegMismatch       = errors.New("order event matches no leg of the target")
	ErrDuplicateTarget   = errors.New("duplicate execution target")
	ErrTargetTerminal    = errors.New("execution target already terminal")
	ErrDuplicateOrder    = errors.New("duplicate order")
	ErrOrderRejected     = errors.New("order rejected")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrExecutionHalted   = errors.New("execution halted")
	ErrStoreClosed       = errors.New("history store closed")
	ErrNetwork           = errors.New("network error")
)
