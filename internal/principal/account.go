package principal

import (
	"encoding/hex"
	"fmt"
)

// SubaccountLength is the fixed size of an ICRC-1 subaccount
const SubaccountLength = 32

// Account is an ICRC-1 account: an owner and an optional subaccount
type Account struct {
	Owner      Principal
	Subaccount []byte
}

// NewAccount builds the default account of owner
func NewAccount(owner Principal) Account {
	return Account{Owner: owner}
}

// ParseSubaccount decodes a hex subaccount, left padding it to 32 bytes
func ParseSubaccount(hexText string) ([]byte, error) {
	if hexText == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(hexText)
	if err != nil {
		return nil, fmt.Errorf("invalid subaccount hex: %w", err)
	}
	if len(raw) > SubaccountLength {
		return nil, fmt.Errorf("subaccount is %d bytes, max %d", len(raw), SubaccountLength)
	}
	padded := make([]byte, SubaccountLength)
	copy(padded[SubaccountLength-len(raw):], raw)
	return padded, nil
}

// String renders the owner, plus the subaccount in hex when it is not default
func (a Account) String() string {
	if a.isDefaultSubaccount() {
		return a.Owner.String()
	}
	return a.Owner.String() + "." + hex.EncodeToString(a.Subaccount)
}

func (a Account) isDefaultSubaccount() bool {
	for _, b := range a.Subaccount {
		if b != 0 {
			return false
		}
	}
	return true
}
