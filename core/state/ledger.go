package state

import (
	"github.com/holiman/uint256"

	"stablevault/core/types"
	"stablevault/crypto"
)

func (m *Manager) loadWad(key []byte) (types.Wad, error) {
	value := new(uint256.Int)
	ok, err := m.KVGet(key, value)
	if err != nil || !ok {
		return types.Wad{}, err
	}
	return types.WadFromUint256(value), nil
}

// Zero amounts are written as zero rather than deleted.
func (m *Manager) storeWad(key []byte, amount types.Wad) error {
	return m.KVPut(key, amount.Uint256())
}

func (m *Manager) Collateral(user, asset crypto.Address) (types.Wad, error) {
	return m.loadWad(CollateralKey(user, asset))
}

func (m *Manager) SetCollateral(user, asset crypto.Address, amount types.Wad) error {
	return m.storeWad(CollateralKey(user, asset), amount)
}

func (m *Manager) Debt(user crypto.Address) (types.Wad, error) {
	return m.loadWad(DebtKey(user))
}

func (m *Manager) SetDebt(user crypto.Address, amount types.Wad) error {
	return m.storeWad(DebtKey(user), amount)
}

func (m *Manager) TokenBalance(token, holder crypto.Address) (types.Wad, error) {
	return m.loadWad(TokenBalanceKey(token, holder))
}

func (m *Manager) SetTokenBalance(token, holder crypto.Address, amount types.Wad) error {
	return m.storeWad(TokenBalanceKey(token, holder), amount)
}

func (m *Manager) TokenAllowance(token, owner, spender crypto.Address) (types.Wad, error) {
	return m.loadWad(TokenAllowanceKey(token, owner, spender))
}

func (m *Manager) SetTokenAllowance(token, owner, spender crypto.Address, amount types.Wad) error {
	return m.storeWad(TokenAllowanceKey(token, owner, spender), amount)
}

func (m *Manager) TokenSupply(token crypto.Address) (types.Wad, error) {
	return m.loadWad(TokenSupplyKey(token))
}

func (m *Manager) SetTokenSupply(token crypto.Address, amount types.Wad) error {
	return m.storeWad(TokenSupplyKey(token), amount)
}

// GenesisApplied reports whether boot-time funding has already been written.
func (m *Manager) GenesisApplied() (bool, error) {
	var applied bool
	ok, err := m.KVGet(GenesisKey(), &applied)
	if err != nil || !ok {
		return false, err
	}
	return applied, nil
}

func (m *Manager) MarkGenesis() error {
	return m.KVPut(GenesisKey(), true)
}
