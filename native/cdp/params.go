package cdp

import (
	"time"

	"stablevault/core/types"
)

const moduleName = "cdp"

const (
	// FeedDecimals is the precision every price feed must report.
	FeedDecimals uint8 = 8
	// LiquidationThreshold is the percentage of collateral value counted
	// towards the health factor; 50 requires 200% nominal collateral.
	LiquidationThreshold uint64 = 50
	LiquidationPrecision uint64 = 100
	// LiquidationBonus is the percentage paid to liquidators on top of the
	// debt-equivalent collateral they seize.
	LiquidationBonus uint64 = 10
	// OracleTimeout bounds the age of a price round still accepted.
	OracleTimeout = 3 * time.Hour
)

var (
	precision               = types.Whole(1)
	feedPrecision           = types.NewWad(100_000_000)
	additionalFeedPrecision = types.NewWad(10_000_000_000)
	minHealthFactor         = types.Whole(1)
	one                     = types.NewWad(1)
)

// Constants exposes the fixed parameters of the engine on the read surface.
type Constants struct {
	Precision               types.Wad     `json:"precision"`
	FeedPrecision           types.Wad     `json:"feedPrecision"`
	AdditionalFeedPrecision types.Wad     `json:"additionalFeedPrecision"`
	LiquidationThreshold    uint64        `json:"liquidationThreshold"`
	LiquidationPrecision    uint64        `json:"liquidationPrecision"`
	LiquidationBonus        uint64        `json:"liquidationBonus"`
	MinHealthFactor         types.Wad     `json:"minHealthFactor"`
	OracleTimeout           time.Duration `json:"oracleTimeout"`
}

// DefaultConstants returns the engine parameters. They are not configurable.
func DefaultConstants() Constants {
	return Constants{
		Precision:               precision,
		FeedPrecision:           feedPrecision,
		AdditionalFeedPrecision: additionalFeedPrecision,
		LiquidationThreshold:    LiquidationThreshold,
		LiquidationPrecision:    LiquidationPrecision,
		LiquidationBonus:        LiquidationBonus,
		MinHealthFactor:         minHealthFactor,
		OracleTimeout:           OracleTimeout,
	}
}
