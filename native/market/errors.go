package market

import "errors"

var (
	// Validation failures, rejected before any state change.
	ErrUnsupportedToken = errors.New("market: reward token not whitelisted")
	ErrInvalidAncillary = errors.New("market: invalid ancillary data length")
	ErrInvalidPayouts   = errors.New("market: payout vector must have two elements")

	// State-precondition failures, rejected with no partial mutation.
	ErrAlreadyInitialized = errors.New("market: question already initialized")
	ErrNotInitialized     = errors.New("market: question not initialized")
	ErrAlreadyResolved    = errors.New("market: question already resolved")
	ErrNotReady           = errors.New("market: question not ready to resolve")
	ErrPaused             = errors.New("market: question paused")
	ErrNotPaused          = errors.New("market: question not paused")
	ErrAlreadyFlagged     = errors.New("market: question already flagged")
	ErrNotFlagged         = errors.New("market: question not flagged")
	ErrSafetyPeriodActive = errors.New("market: safety period has not passed")

	// Authorization failures.
	ErrUnauthorized = errors.New("market: caller is not a market admin")
	ErrNotOracle    = errors.New("market: dispute callback from unexpected caller")

	// Upstream failures, surfaced verbatim and never coerced.
	ErrInvalidPrice = errors.New("market: settled price outside canonical values")

	errNilState      = errors.New("market engine: state not configured")
	errNilOracle     = errors.New("market engine: oracle gateway not configured")
	errNilConditions = errors.New("market engine: condition reporter not configured")
	errNilWhitelist  = errors.New("market engine: token whitelist not configured")
)
