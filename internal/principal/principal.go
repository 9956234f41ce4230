package principal

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	agentprincipal "github.com/aviate-labs/agent-go/principal"
)

// Principal is the binary identifier of a user or a canister on the network
type Principal struct {
	raw []byte
}

// Well-known principals
var (
	// Management is the reserved management canister address (aaaaa-aa)
	Management = Principal{raw: []byte{}}

	// Anonymous is the principal used by unsigned requests
	Anonymous = Principal{raw: []byte{0x04}}

	// Ledger is the ICP ledger canister on mainnet
	Ledger = MustDecode("ryjl3-tyaaa-aaaaa-aaaba-cai")
)

const maxLength = 29

// New wraps raw principal bytes
func New(raw []byte) Principal {
	return Principal{raw: append([]byte{}, raw...)}
}

// SelfAuthenticating derives the principal of a DER-encoded public key
func SelfAuthenticating(derPublicKey []byte) Principal {
	return Principal{raw: agentprincipal.NewSelfAuthenticating(derPublicKey).Raw}
}

// Decode parses the textual form and verifies its checksum. Only the
// canonical lower-case grouping is accepted.
func Decode(text string) (Principal, error) {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	if cleaned == "" {
		return Principal{}, fmt.Errorf("principal is empty")
	}

	decoded, err := agentprincipal.Decode(cleaned)
	if err != nil {
		return Principal{}, fmt.Errorf("invalid principal %q: %w", text, err)
	}
	if len(decoded.Raw) > maxLength {
		return Principal{}, fmt.Errorf("principal %q is too long", text)
	}

	p := New(decoded.Raw)
	if p.String() != cleaned {
		return Principal{}, fmt.Errorf("principal %q is not in canonical form", text)
	}
	return p, nil
}

// MustDecode is Decode for compile-time constants
func MustDecode(text string) Principal {
	p, err := Decode(text)
	if err != nil {
		panic(err)
	}
	return p
}

// Raw returns a copy of the underlying bytes
func (p Principal) Raw() []byte {
	return append([]byte{}, p.raw...)
}

// String returns the dash-grouped textual representation
func (p Principal) String() string {
	return agentprincipal.Principal{Raw: p.raw}.Encode()
}

// Hex returns the raw bytes hex encoded
func (p Principal) Hex() string {
	return hex.EncodeToString(p.raw)
}

// Equal reports whether both principals hold the same bytes
func (p Principal) Equal(other Principal) bool {
	return bytes.Equal(p.raw, other.raw)
}

// IsAnonymous reports whether p is the anonymous principal
func (p Principal) IsAnonymous() bool {
	return p.Equal(Anonymous)
}

// IsManagement reports whether p is the management canister
func (p Principal) IsManagement() bool {
	return len(p.raw) == 0
}

// MarshalText implements encoding.TextMarshaler
func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Principal) UnmarshalText(text []byte) error {
	decoded, err := Decode(string(text))
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}
