package apperrors

import "errors"

// Standardized strategy errors
var (
	ErrPriceUnavailable      = errors.New("price unavailable")
	ErrNoLiquidationRoute    = errors.New("no liquidation route")
	ErrPriceImpactTooHigh    = errors.New("price impact too high")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidProportion     = errors.New("invalid proportion")
	ErrUnknownAsset          = errors.New("unknown asset")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrUnknownPlatform       = errors.New("unknown platform")
)
