package orchestrator

import (
	"math/big"
	"strings"
	"unicode/utf8"

	"launchpad/internal/apperror"
	"launchpad/internal/principal"
)

const (
	maxNameLength        = 64
	minSymbolLength      = 2
	maxSymbolLength      = 10
	maxDecimals          = 18
	maxDescriptionLength = 1000
	maxLogoLength        = 2048
	defaultTransferFee   = 10_000
)

var maxSupply = new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)

// Request asks for one token deployment
type Request struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"total_supply"` // minor units
	TransferFee string `json:"transfer_fee,omitempty"`
	Logo        string `json:"logo,omitempty"`
	Description string `json:"description,omitempty"`

	// Owner is optional; when set it must match the delegation's principal
	Owner string `json:"owner,omitempty"`

	// Delegation is the client's identity payload in any accepted shape
	Delegation any `json:"delegation"`
}

type validated struct {
	name        string
	symbol      string
	decimals    uint8
	supply      *big.Int
	transferFee *big.Int
	logo        string
	description string
	owner       *principal.Principal
}

func validate(req Request) (*validated, error) {
	v := &validated{
		name:        strings.TrimSpace(req.Name),
		symbol:      strings.TrimSpace(req.Symbol),
		decimals:    req.Decimals,
		logo:        strings.TrimSpace(req.Logo),
		description: strings.TrimSpace(req.Description),
	}

	if n := utf8.RuneCountInString(v.name); n == 0 || n > maxNameLength {
		return nil, apperror.Validation("name must be 1 to %d characters", maxNameLength)
	}
	if len(v.symbol) < minSymbolLength || len(v.symbol) > maxSymbolLength || !isSymbol(v.symbol) {
		return nil, apperror.Validation("symbol must be %d to %d characters of A-Z and 0-9", minSymbolLength, maxSymbolLength)
	}
	if v.decimals > maxDecimals {
		return nil, apperror.Validation("decimals must be at most %d", maxDecimals)
	}

	supply, ok := new(big.Int).SetString(strings.TrimSpace(req.TotalSupply), 10)
	if !ok || supply.Sign() <= 0 || supply.Cmp(maxSupply) > 0 {
		return nil, apperror.Validation("total_supply must be a positive integer no larger than 10^30")
	}
	v.supply = supply

	v.transferFee = big.NewInt(defaultTransferFee)
	if s := strings.TrimSpace(req.TransferFee); s != "" {
		fee, ok := new(big.Int).SetString(s, 10)
		if !ok || fee.Sign() < 0 {
			return nil, apperror.Validation("transfer_fee must be a non-negative integer")
		}
		v.transferFee = fee
	}

	if utf8.RuneCountInString(v.description) > maxDescriptionLength {
		return nil, apperror.Validation("description must be at most %d characters", maxDescriptionLength)
	}
	if len(v.logo) > maxLogoLength {
		return nil, apperror.Validation("logo must be a URL of at most %d bytes", maxLogoLength)
	}

	if s := strings.TrimSpace(req.Owner); s != "" {
		p, err := principal.Decode(s)
		if err != nil {
			return nil, apperror.Validation("owner is not a valid principal: %v", err)
		}
		v.owner = &p
	}

	if isEmptyPayload(req.Delegation) {
		return nil, apperror.Validation("delegation is required")
	}
	return v, nil
}

func isSymbol(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func isEmptyPayload(p any) bool {
	switch v := p.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case map[string]any:
		return len(v) == 0
	case []byte:
		return len(v) == 0
	}
	return false
}
