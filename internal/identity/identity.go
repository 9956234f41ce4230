// Package identity holds the signing identities requests are sent under and
// rebuilds them from the loosely shaped payloads clients hand over.
package identity

import (
	"errors"

	"launchpad/internal/principal"
)

// ErrAnonymousCannotSign is returned when an unsigned identity is asked to sign
var ErrAnonymousCannotSign = errors.New("anonymous identity cannot sign")

// Identity signs outgoing requests and names their sender
type Identity interface {
	// Principal is the sender of requests signed by this identity
	Principal() (principal.Principal, error)

	// PublicKey is the DER-encoded key carried in request envelopes; nil for anonymous
	PublicKey() []byte

	// Sign signs an already domain-separated message
	Sign(message []byte) ([]byte, error)

	// Delegations returns the chain attached to envelopes, nil when signing directly
	Delegations() []SignedDelegation
}

// Anonymous is the distinguished unsigned identity
type Anonymous struct{}

// NewAnonymous returns the anonymous identity
func NewAnonymous() Anonymous {
	return Anonymous{}
}

func (Anonymous) Principal() (principal.Principal, error) { return principal.Anonymous, nil }
func (Anonymous) PublicKey() []byte                      { return nil }
func (Anonymous) Sign([]byte) ([]byte, error)            { return nil, ErrAnonymousCannotSign }
func (Anonymous) Delegations() []SignedDelegation         { return nil }

// IsAnonymous reports whether id sends unsigned requests
func IsAnonymous(id Identity) bool {
	if id == nil {
		return true
	}
	_, ok := id.(Anonymous)
	return ok
}

// Validate checks that id can name a sender. Key identities must carry a
// public key; anonymous is always valid.
func Validate(id Identity) (principal.Principal, error) {
	if id == nil {
		return principal.Principal{}, errors.New("identity is nil")
	}
	p, err := id.Principal()
	if err != nil {
		return principal.Principal{}, err
	}
	if IsAnonymous(id) {
		return p, nil
	}
	if len(id.PublicKey()) == 0 {
		return principal.Principal{}, errors.New("identity has no public key")
	}
	if len(p.Raw()) == 0 {
		return principal.Principal{}, errors.New("identity produced an empty principal")
	}
	return p, nil
}
