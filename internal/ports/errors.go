package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these so callers can
// branch with errors.Is without knowing the transport.
var (
	// General
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Valuation / calculators
	ErrStaleValuation      = errors.New("valuation snapshot missing or past TTL")
	ErrScheduleUnavailable = errors.New("adaptive schedule cannot be evaluated")

	// Broker
	ErrBrokerUnavailable = errors.New("broker API is unavailable")
	ErrRateLimited       = errors.New("broker rate limit exceeded")
	ErrOrderRejected     = errors.New("close order rejected by broker")
	ErrOrderFailed       = errors.New("close order failed after retries")

	// Dispatch
	ErrClaimHeld = errors.New("exit claim already held for position")

	// State integrity
	ErrInvariantViolation = errors.New("position invariant violated")

	// Database
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)
