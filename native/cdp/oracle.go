package cdp

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"stablevault/core/types"
	"stablevault/crypto"
)

// RoundData is a single answer reported by a price feed.
type RoundData struct {
	RoundID         uint64
	Answer          *big.Int
	StartedAt       time.Time
	UpdatedAt       time.Time
	AnsweredInRound uint64
}

// PriceFeed is the external oracle contract consulted for every valuation.
type PriceFeed interface {
	Decimals() uint8
	LatestRoundData(ctx context.Context) (RoundData, error)
}

// latestPrice reads the feed for asset and validates freshness. The returned
// price carries FeedDecimals of precision.
func (e *Engine) latestPrice(ctx context.Context, asset crypto.Address) (types.Wad, time.Time, error) {
	feed, err := e.registry.Feed(asset)
	if err != nil {
		return types.Wad{}, time.Time{}, err
	}
	round, err := feed.LatestRoundData(ctx)
	if err != nil {
		return types.Wad{}, time.Time{}, fmt.Errorf("%w: %s: %w", ErrOracleUnavailable, asset, err)
	}
	if age := e.now().Sub(round.UpdatedAt); age > OracleTimeout {
		return types.Wad{}, time.Time{}, fmt.Errorf("%w: %s updated %s ago", ErrStalePrice, asset, age.Truncate(time.Second))
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return types.Wad{}, time.Time{}, fmt.Errorf("%w: %s answered %v", ErrInvalidPrice, asset, round.Answer)
	}
	price, err := types.WadFromBig(round.Answer)
	if err != nil {
		return types.Wad{}, time.Time{}, fmt.Errorf("%w: %s: %w", ErrInvalidPrice, asset, err)
	}
	return price, round.UpdatedAt, nil
}

// normalisedPrice scales a feed price to 18 decimals.
func (e *Engine) normalisedPrice(ctx context.Context, asset crypto.Address) (types.Wad, error) {
	price, _, err := e.latestPrice(ctx, asset)
	if err != nil {
		return types.Wad{}, err
	}
	return price.MulDiv(additionalFeedPrecision, one)
}

// USDValue converts a quantity of asset into the unit of account, flooring.
func (e *Engine) USDValue(ctx context.Context, asset crypto.Address, quantity types.Wad) (types.Wad, error) {
	price, err := e.normalisedPrice(ctx, asset)
	if err != nil {
		return types.Wad{}, err
	}
	return price.MulDiv(quantity, precision)
}

// QuantityFromUSD converts a unit-of-account value into a quantity of asset,
// flooring.
func (e *Engine) QuantityFromUSD(ctx context.Context, asset crypto.Address, usd types.Wad) (types.Wad, error) {
	price, err := e.normalisedPrice(ctx, asset)
	if err != nil {
		return types.Wad{}, err
	}
	return usd.MulDiv(precision, price)
}
