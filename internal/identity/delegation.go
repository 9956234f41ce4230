package identity

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"launchpad/internal/principal"
)

// Delegation grants PubKey the right to sign for the delegating key until Expiration
type Delegation struct {
	PubKey     []byte
	Expiration uint64 // nanoseconds since the epoch
	Targets    []principal.Principal
}

// ExpiresAt returns the expiration as a time
func (d Delegation) ExpiresAt() time.Time {
	return time.Unix(0, int64(d.Expiration))
}

// SignedDelegation is a delegation plus the signature of the key it delegates from
type SignedDelegation struct {
	Delegation Delegation
	Signature  []byte
}

// Chain is an ordered list of delegations rooted at PublicKey
type Chain struct {
	PublicKey   []byte
	Delegations []SignedDelegation
}

// DelegationIdentity signs with an inner key on behalf of the chain's root key.
// Requests carry the root key as sender, so the principal is derived from it.
type DelegationIdentity struct {
	inner Identity
	chain Chain
}

// NewDelegationIdentity binds inner to chain after checking expiry and that the
// last delegation names inner's key
func NewDelegationIdentity(inner Identity, chain Chain, now time.Time) (*DelegationIdentity, error) {
	if inner == nil || IsAnonymous(inner) {
		return nil, errors.New("delegation requires a signing inner identity")
	}
	if _, ok := inner.(*DelegationIdentity); ok {
		return nil, errors.New("delegation inner identity cannot itself be delegated")
	}
	if len(chain.PublicKey) == 0 {
		return nil, errors.New("delegation chain has no public key")
	}
	if len(chain.Delegations) == 0 {
		return nil, errors.New("delegation chain is empty")
	}

	nowNanos := uint64(now.UnixNano())
	for i, d := range chain.Delegations {
		if len(d.Delegation.PubKey) == 0 {
			return nil, fmt.Errorf("delegation %d has no public key", i)
		}
		if len(d.Signature) == 0 {
			return nil, fmt.Errorf("delegation %d has no signature", i)
		}
		if d.Delegation.Expiration <= nowNanos {
			return nil, fmt.Errorf("delegation %d expired at %s", i, d.Delegation.ExpiresAt().UTC().Format(time.RFC3339))
		}
	}

	last, _, err := NormalizePublicKey(chain.Delegations[len(chain.Delegations)-1].Delegation.PubKey)
	if err != nil {
		return nil, fmt.Errorf("last delegation key: %w", err)
	}
	if !bytes.Equal(last, inner.PublicKey()) {
		return nil, errors.New("delegation chain is not bound to the supplied identity key")
	}

	return &DelegationIdentity{inner: inner, chain: chain}, nil
}

func (d *DelegationIdentity) Principal() (principal.Principal, error) {
	return principal.SelfAuthenticating(d.chain.PublicKey), nil
}

func (d *DelegationIdentity) PublicKey() []byte {
	return append([]byte{}, d.chain.PublicKey...)
}

func (d *DelegationIdentity) Sign(message []byte) ([]byte, error) {
	return d.inner.Sign(message)
}

func (d *DelegationIdentity) Delegations() []SignedDelegation {
	return d.chain.Delegations
}

// Inner returns the session key the chain delegates to
func (d *DelegationIdentity) Inner() Identity {
	return d.inner
}

// Expiration is the earliest expiry across the chain
func (d *DelegationIdentity) Expiration() time.Time {
	earliest := d.chain.Delegations[0].Delegation.Expiration
	for _, sd := range d.chain.Delegations[1:] {
		if sd.Delegation.Expiration < earliest {
			earliest = sd.Delegation.Expiration
		}
	}
	return time.Unix(0, int64(earliest))
}
