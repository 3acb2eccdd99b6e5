package cdp

import (
	"errors"
	"fmt"

	"stablevault/core/types"
	nativecommon "stablevault/native/common"
)

var (
	errNilState      = errors.New("cdp engine: state not configured")
	errNilCollateral = errors.New("cdp engine: collateral token must not be nil")
	errNilFeed       = errors.New("cdp engine: price feed must not be nil")

	// Validation errors.
	ErrZeroAmount           = errors.New("cdp engine: amount must be more than zero")
	ErrUnsupportedAsset     = errors.New("cdp engine: asset not supported")
	ErrConfigLengthMismatch = errors.New("cdp engine: asset, price feed and token lists must have equal length")
	ErrFeedPrecision        = errors.New("cdp engine: price feed must report 8 decimals")

	// Invariant errors.
	ErrBreaksHealthFactor      = errors.New("cdp engine: health factor below minimum")
	ErrHealthFactorOk          = errors.New("cdp engine: health factor ok")
	ErrHealthFactorNotImproved = errors.New("cdp engine: health factor not improved")

	// External collaborator errors.
	ErrTransferFailed    = errors.New("cdp engine: transfer failed")
	ErrMintFailed        = errors.New("cdp engine: mint failed")
	ErrBurnFailed        = errors.New("cdp engine: burn failed")
	ErrStalePrice        = errors.New("cdp engine: stale price")
	ErrInvalidPrice      = errors.New("cdp engine: price must be positive")
	ErrOracleUnavailable = errors.New("cdp engine: price feed unavailable")

	ErrReentrantCall = nativecommon.ErrReentrantCall

	// Arithmetic errors.
	ErrInsufficientCollateral = fmt.Errorf("cdp engine: insufficient collateral: %w", types.ErrUnderflow)
	ErrInsufficientDebt       = fmt.Errorf("cdp engine: insufficient debt: %w", types.ErrUnderflow)
)

// BreaksHealthFactorError carries the health factor that failed the check.
type BreaksHealthFactorError struct {
	Value types.Wad
}

func (e *BreaksHealthFactorError) Error() string {
	return fmt.Sprintf("%s: %s", ErrBreaksHealthFactor.Error(), e.Value.Text())
}

// Is lets errors.Is(err, ErrBreaksHealthFactor) match.
func (e *BreaksHealthFactorError) Is(target error) bool {
	return target == ErrBreaksHealthFactor
}

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation reports errors caused by malformed arguments or configuration.
func IsValidation(err error) bool {
	return isAny(err, ErrZeroAmount, ErrUnsupportedAsset, ErrConfigLengthMismatch, ErrFeedPrecision)
}

// IsInvariant reports errors raised by the solvency and liquidation checks,
// including ledger underflows.
func IsInvariant(err error) bool {
	return isAny(err, ErrBreaksHealthFactor, ErrHealthFactorOk, ErrHealthFactorNotImproved, types.ErrUnderflow)
}

// IsPrice reports errors originating from the price oracle.
func IsPrice(err error) bool {
	return isAny(err, ErrStalePrice, ErrInvalidPrice, ErrOracleUnavailable)
}

// IsCollaborator reports failures of the external token ledgers.
func IsCollaborator(err error) bool {
	return isAny(err, ErrTransferFailed, ErrMintFailed, ErrBurnFailed)
}

// Reason maps an error to a stable identifier for metrics and API payloads.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrUnsupportedAsset):
		return "unsupported_asset"
	case errors.Is(err, ErrConfigLengthMismatch), errors.Is(err, ErrFeedPrecision):
		return "invalid_config"
	case errors.Is(err, ErrBreaksHealthFactor):
		return "breaks_health_factor"
	case errors.Is(err, ErrHealthFactorOk):
		return "health_factor_ok"
	case errors.Is(err, ErrHealthFactorNotImproved):
		return "health_factor_not_improved"
	case errors.Is(err, ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrInsufficientDebt):
		return "insufficient_debt"
	case errors.Is(err, types.ErrUnderflow):
		return "underflow"
	case errors.Is(err, types.ErrOverflow):
		return "overflow"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrMintFailed):
		return "mint_failed"
	case errors.Is(err, ErrBurnFailed):
		return "burn_failed"
	case errors.Is(err, ErrStalePrice):
		return "stale_price"
	case errors.Is(err, ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrOracleUnavailable):
		return "oracle_unavailable"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant_call"
	default:
		return "internal"
	}
}
