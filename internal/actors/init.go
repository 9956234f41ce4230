package actors

import (
	"math/big"

	"launchpad/internal/candid"
	"launchpad/internal/principal"
)

// TokenInitArgType is the install argument of the launchpad token module
var TokenInitArgType = candid.RecordOf(
	candid.F("name", candid.Text),
	candid.F("symbol", candid.Text),
	candid.F("decimals", candid.Nat8),
	candid.F("total_supply", candid.Nat),
	candid.F("owner", candid.Principal),
	candid.F("fee", candid.Nat),
	candid.F("logo", candid.Opt(candid.Text)),
	candid.F("description", candid.Opt(candid.Text)),
)

// TokenInit holds the parameters a new token canister starts with
type TokenInit struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
	Owner       principal.Principal
	Fee         *big.Int
	Logo        string
	Description string
}

// EncodeTokenInit encodes init as the install_code argument
func EncodeTokenInit(init TokenInit) ([]byte, error) {
	fee := init.Fee
	if fee == nil {
		fee = new(big.Int)
	}
	v := map[string]any{
		"name":         init.Name,
		"symbol":       init.Symbol,
		"decimals":     init.Decimals,
		"total_supply": init.TotalSupply,
		"owner":        init.Owner,
		"fee":          fee,
	}
	if init.Logo != "" {
		v["logo"] = init.Logo
	}
	if init.Description != "" {
		v["description"] = init.Description
	}
	return encode("install_code(init)", []candid.Type{TokenInitArgType}, []any{v})
}
