package cdp

import (
	"fmt"

	"stablevault/crypto"
)

// Registry maps supported collateral assets to their price feed and token
// ledger. It is built once at boot and never mutated.
type Registry struct {
	assets []crypto.Address
	feeds  map[crypto.Address]PriceFeed
	tokens map[crypto.Address]CollateralToken
}

// NewRegistry pairs the three lists by index. Duplicate assets are accepted:
// the asset list keeps every entry while the lookups keep the last one.
func NewRegistry(assets []crypto.Address, feeds []PriceFeed, tokens []CollateralToken) (*Registry, error) {
	if len(assets) != len(feeds) || len(assets) != len(tokens) {
		return nil, fmt.Errorf("%w: %d assets, %d feeds, %d tokens", ErrConfigLengthMismatch, len(assets), len(feeds), len(tokens))
	}
	reg := &Registry{
		assets: make([]crypto.Address, 0, len(assets)),
		feeds:  make(map[crypto.Address]PriceFeed, len(assets)),
		tokens: make(map[crypto.Address]CollateralToken, len(assets)),
	}
	for i, asset := range assets {
		if feeds[i] == nil {
			return nil, fmt.Errorf("%w: asset %s", errNilFeed, asset)
		}
		if tokens[i] == nil {
			return nil, fmt.Errorf("%w: asset %s", errNilCollateral, asset)
		}
		if decimals := feeds[i].Decimals(); decimals != FeedDecimals {
			return nil, fmt.Errorf("%w: asset %s reports %d", ErrFeedPrecision, asset, decimals)
		}
		reg.assets = append(reg.assets, asset)
		reg.feeds[asset] = feeds[i]
		reg.tokens[asset] = tokens[i]
	}
	return reg, nil
}

// Assets returns the supported assets in configuration order, duplicates
// included.
func (r *Registry) Assets() []crypto.Address {
	if r == nil {
		return nil
	}
	out := make([]crypto.Address, len(r.assets))
	copy(out, r.assets)
	return out
}

// Supported reports whether asset has a registry entry.
func (r *Registry) Supported(asset crypto.Address) bool {
	if r == nil {
		return false
	}
	_, ok := r.feeds[asset]
	return ok
}

func (r *Registry) Feed(asset crypto.Address) (PriceFeed, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	feed, ok := r.feeds[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	return feed, nil
}

func (r *Registry) Token(asset crypto.Address) (CollateralToken, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	token, ok := r.tokens[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	return token, nil
}
