package state

import "stablevault/crypto"

var (
	collateralPrefix = []byte("cdp/collateral/")
	debtPrefix       = []byte("cdp/debt/")
	balancePrefix    = []byte("bank/balance/")
	allowancePrefix  = []byte("bank/allowance/")
	supplyPrefix     = []byte("bank/supply/")
	genesisKeyBytes  = []byte("genesis/applied")
)

func addressPart(addr crypto.Address) []byte {
	prefix := string(addr.Prefix())
	buf := make([]byte, 0, len(prefix)+1+crypto.AddressLength)
	buf = append(buf, prefix...)
	buf = append(buf, ':')
	return append(buf, addr.Bytes()...)
}

func compositeKey(prefix []byte, parts ...crypto.Address) []byte {
	key := append([]byte(nil), prefix...)
	for i, part := range parts {
		if i > 0 {
			key = append(key, '/')
		}
		key = append(key, addressPart(part)...)
	}
	return key
}

// CollateralKey addresses the deposited quantity of asset held for user.
func CollateralKey(user, asset crypto.Address) []byte {
	return compositeKey(collateralPrefix, user, asset)
}

// DebtKey addresses the minted debt of user.
func DebtKey(user crypto.Address) []byte {
	return compositeKey(debtPrefix, user)
}

func TokenBalanceKey(token, holder crypto.Address) []byte {
	return compositeKey(balancePrefix, token, holder)
}

func TokenAllowanceKey(token, owner, spender crypto.Address) []byte {
	return compositeKey(allowancePrefix, token, owner, spender)
}

func TokenSupplyKey(token crypto.Address) []byte {
	return compositeKey(supplyPrefix, token)
}

func GenesisKey() []byte {
	return append([]byte(nil), genesisKeyBytes...)
}
