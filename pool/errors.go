package pool

import "errors"

// Business-rule errors. Arithmetic domain errors (liquidity over/underflow,
// division by zero) surface from the calculator packages as their own
// sentinels and are not retryable either way; callers discriminate with
// errors.Is.
var (
	ErrInvalidTickRange     = errors.New("invalid tick range")
	ErrZeroLiquidity        = errors.New("liquidity amount must be greater than zero")
	ErrZeroAmount           = errors.New("amount specified must be nonzero")
	ErrInvalidPriceLimit    = errors.New("price limit on wrong side of current price or out of bounds")
	ErrInsufficientInput    = errors.New("insufficient input amount paid to pool")
	ErrNotEnoughLiquidity   = errors.New("not enough active liquidity")
	ErrFlashNotPaid         = errors.New("flash loan not repaid with fee")
	ErrAlreadyInitialized   = errors.New("pool already initialized")
	ErrNotInitialized       = errors.New("pool not initialized")
	ErrAssetOrder           = errors.New("asset0 must sort before asset1")
	ErrInvalidConfiguration = errors.New("invalid pool configuration")
)
