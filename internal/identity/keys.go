package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"launchpad/internal/principal"
)

// KeyType names the signature scheme of a key identity
type KeyType string

const (
	KeyTypeEd25519   KeyType = "ed25519"
	KeyTypeSecp256k1 KeyType = "secp256k1"
)

var (
	ed25519DERPrefix   = mustHex("302a300506032b6570032100")
	secp256k1DERPrefix = mustHex("3056301006072a8648ce3d020106052b8104000a034200")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Ed25519Identity signs with an Ed25519 key
type Ed25519Identity struct {
	key ed25519.PrivateKey
	der []byte
}

// NewEd25519FromSeed builds an identity from a 32 byte seed
func NewEd25519FromSeed(seed []byte) (*Ed25519Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	pub := key.Public().(ed25519.PublicKey)
	return &Ed25519Identity{key: key, der: append(append([]byte{}, ed25519DERPrefix...), pub...)}, nil
}

// NewEd25519 builds an identity from a 32 byte seed or a 64 byte seed||public key
func NewEd25519(secret []byte) (*Ed25519Identity, error) {
	switch len(secret) {
	case ed25519.SeedSize:
		return NewEd25519FromSeed(secret)
	case ed25519.PrivateKeySize:
		id, err := NewEd25519FromSeed(secret[:ed25519.SeedSize])
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(id.rawPublicKey(), secret[ed25519.SeedSize:]) {
			return nil, errors.New("ed25519 secret key does not match its embedded public key")
		}
		return id, nil
	default:
		return nil, fmt.Errorf("ed25519 secret key must be 32 or 64 bytes, got %d", len(secret))
	}
}

func (i *Ed25519Identity) rawPublicKey() []byte {
	return i.der[len(ed25519DERPrefix):]
}

func (i *Ed25519Identity) Principal() (principal.Principal, error) {
	return principal.SelfAuthenticating(i.der), nil
}

func (i *Ed25519Identity) PublicKey() []byte {
	return append([]byte{}, i.der...)
}

func (i *Ed25519Identity) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(i.key, message), nil
}

func (i *Ed25519Identity) Delegations() []SignedDelegation { return nil }

// Secp256k1Identity signs ECDSA over SHA-256 with a secp256k1 key
type Secp256k1Identity struct {
	key *secp256k1.PrivateKey
	der []byte
}

// NewSecp256k1 builds an identity from a 32 byte private scalar
func NewSecp256k1(secret []byte) (*Secp256k1Identity, error) {
	if len(secret) != 32 {
		return nil, fmt.Errorf("secp256k1 secret key must be 32 bytes, got %d", len(secret))
	}
	key := secp256k1.PrivKeyFromBytes(secret)
	if key.Key.IsZero() {
		return nil, errors.New("secp256k1 secret key is zero")
	}
	der := append(append([]byte{}, secp256k1DERPrefix...), key.PubKey().SerializeUncompressed()...)
	return &Secp256k1Identity{key: key, der: der}, nil
}

func (i *Secp256k1Identity) Principal() (principal.Principal, error) {
	return principal.SelfAuthenticating(i.der), nil
}

func (i *Secp256k1Identity) PublicKey() []byte {
	return append([]byte{}, i.der...)
}

// Sign returns the 64 byte r||s signature over SHA-256(message)
func (i *Secp256k1Identity) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	compact := ecdsa.SignCompact(i.key, digest[:], false)
	// compact is recovery byte || r || s
	return compact[1:], nil
}

func (i *Secp256k1Identity) Delegations() []SignedDelegation { return nil }

// NormalizePublicKey turns a raw or DER public key into its DER form and
// reports the scheme it belongs to
func NormalizePublicKey(key []byte) ([]byte, KeyType, error) {
	switch {
	case len(key) == len(ed25519DERPrefix)+ed25519.PublicKeySize && bytes.HasPrefix(key, ed25519DERPrefix):
		return key, KeyTypeEd25519, nil
	case len(key) == ed25519.PublicKeySize:
		return append(append([]byte{}, ed25519DERPrefix...), key...), KeyTypeEd25519, nil
	case len(key) == len(secp256k1DERPrefix)+65 && bytes.HasPrefix(key, secp256k1DERPrefix):
		return key, KeyTypeSecp256k1, nil
	case len(key) == 65 || len(key) == 33:
		pub, err := secp256k1.ParsePubKey(key)
		if err != nil {
			return nil, "", fmt.Errorf("invalid secp256k1 public key: %w", err)
		}
		return append(append([]byte{}, secp256k1DERPrefix...), pub.SerializeUncompressed()...), KeyTypeSecp256k1, nil
	default:
		// Delegation chains may be rooted in other schemes (canister signatures).
		// Those stay opaque DER.
		if len(key) > 0 && key[0] == 0x30 {
			return key, "", nil
		}
		return nil, "", fmt.Errorf("unrecognized public key encoding (%d bytes)", len(key))
	}
}

// NewKeyIdentity builds a key identity of the given scheme from secret bytes
func NewKeyIdentity(keyType KeyType, secret []byte) (Identity, error) {
	switch keyType {
	case KeyTypeSecp256k1:
		return NewSecp256k1(secret)
	case KeyTypeEd25519, "":
		return NewEd25519(secret)
	default:
		return nil, fmt.Errorf("unsupported key type %q", keyType)
	}
}
