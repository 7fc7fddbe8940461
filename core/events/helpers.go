package events

import (
	"github.com/holiman/uint256"

	"lendledger/crypto"
)

func formatAmount(amount *uint256.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.Dec()
}

func formatAsset(asset crypto.Address) string {
	if asset.IsZero() {
		return "native"
	}
	return asset.Encode(crypto.AssetPrefix)
}
