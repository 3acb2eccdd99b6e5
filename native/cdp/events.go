package cdp

import (
	"stablevault/core/types"
	"stablevault/crypto"
)

const (
	EventCollateralDeposited = "cdp.collateral.deposited"
	EventCollateralRedeemed  = "cdp.collateral.redeemed"
	EventDebtMinted          = "cdp.debt.minted"
	EventDebtBurned          = "cdp.debt.burned"
	EventPositionLiquidated  = "cdp.position.liquidated"
)

func collateralDepositedEvent(user, asset crypto.Address, amount types.Wad) *types.Event {
	return types.NewEvent(EventCollateralDeposited).
		With("user", user.String()).
		With("asset", asset.String()).
		With("amount", amount.String())
}

func collateralRedeemedEvent(from, to, asset crypto.Address, amount types.Wad) *types.Event {
	return types.NewEvent(EventCollateralRedeemed).
		With("from", from.String()).
		With("to", to.String()).
		With("asset", asset.String()).
		With("amount", amount.String())
}

func debtMintedEvent(user crypto.Address, amount types.Wad) *types.Event {
	return types.NewEvent(EventDebtMinted).
		With("user", user.String()).
		With("amount", amount.String())
}

func debtBurnedEvent(onBehalfOf, payer crypto.Address, amount types.Wad) *types.Event {
	return types.NewEvent(EventDebtBurned).
		With("on_behalf_of", onBehalfOf.String()).
		With("payer", payer.String()).
		With("amount", amount.String())
}

func positionLiquidatedEvent(liquidator, user, asset crypto.Address, quote LiquidationQuote, debtCovered, starting, ending types.Wad) *types.Event {
	return types.NewEvent(EventPositionLiquidated).
		With("liquidator", liquidator.String()).
		With("user", user.String()).
		With("asset", asset.String()).
		With("debt_covered", debtCovered.String()).
		With("collateral_seized", quote.Total.String()).
		With("bonus", quote.Bonus.String()).
		With("starting_health", starting.String()).
		With("ending_health", ending.String())
}
