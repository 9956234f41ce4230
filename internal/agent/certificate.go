package agent

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/aviate-labs/agent-go/certification/hashtree"
	blst "github.com/supranational/blst/bindings/go"

	"launchpad/internal/candid"
	"launchpad/internal/principal"
)

const (
	blsDST          = "BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_"
	blsKeyLength    = 96
	blsSigLength    = 48
	stateRootDomain = "ic-state-root"
)

var blsDERPrefix, _ = hex.DecodeString("308182301d060d2b0601040182dc7c0503010201060c2b0601040182dc7c05030201036100")

// MainnetRootKey is the DER encoded root public key of the IC mainnet
var MainnetRootKey, _ = hex.DecodeString("308182301d060d2b0601040182dc7c0503010201060c2b0601040182dc7c05030201036100" +
	"814c0e6ec71fab583b08bd81373c255c3c371b2e84863c98a4f1e08b74235d14fb5d9c0cd546d9685f913a0c0b2cc5341583bf4b4392e467db96d65b9bb4cb717112f8472e0d5a4d14505ffd7484b01291091c5f87b98883463f98091a0baaae")

// ErrCertificateVerification marks certificates whose signature or delegation do not check out
var ErrCertificateVerification = errors.New("certificate verification failed")

type wireCertificate struct {
	Tree       any                `cbor:"tree"`
	Signature  []byte             `cbor:"signature"`
	Delegation *wireCertDelegation `cbor:"delegation,omitempty"`
}

type wireCertDelegation struct {
	SubnetID    []byte `cbor:"subnet_id"`
	Certificate []byte `cbor:"certificate"`
}

// Certificate is a parsed, verified state certificate
type Certificate struct {
	tree hashtree.Node
}

// Lookup returns the leaf at path
func (c *Certificate) Lookup(path ...string) ([]byte, LookupResult) {
	return lookup(c.tree, labels(path...)...)
}

// LookupBytes is Lookup with binary path segments
func (c *Certificate) LookupBytes(path ...[]byte) ([]byte, LookupResult) {
	return lookup(c.tree, path...)
}

func labels(path ...string) [][]byte {
	out := make([][]byte, len(path))
	for i, p := range path {
		out[i] = []byte(p)
	}
	return out
}

// rawRootKey strips the DER header from a BLS root key
func rawRootKey(der []byte) ([]byte, error) {
	if len(der) == blsKeyLength {
		return der, nil
	}
	if len(der) != len(blsDERPrefix)+blsKeyLength || !bytes.HasPrefix(der, blsDERPrefix) {
		return nil, fmt.Errorf("root key is not a DER encoded BLS key (%d bytes)", len(der))
	}
	return der[len(blsDERPrefix):], nil
}

// verifyCertificate parses and verifies data against rootKey. effective names
// the canister the certificate must be allowed to speak for; the management
// principal skips the range check.
func verifyCertificate(data []byte, rootKey []byte, effective principal.Principal) (*Certificate, error) {
	return verifyCertificateDepth(data, rootKey, effective, false)
}

func verifyCertificateDepth(data []byte, rootKey []byte, effective principal.Principal, nested bool) (*Certificate, error) {
	var wc wireCertificate
	if err := unmarshalCBOR(data, &wc); err != nil {
		return nil, fmt.Errorf("failed to decode certificate: %w", err)
	}
	tree, err := parseTree(wc.Tree)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate tree: %w", err)
	}

	key := rootKey
	if wc.Delegation != nil {
		if nested {
			return nil, fmt.Errorf("%w: nested delegations are not allowed", ErrCertificateVerification)
		}
		key, err = subnetKey(wc.Delegation, rootKey, effective)
		if err != nil {
			return nil, err
		}
	}

	msg := append([]byte{byte(len(stateRootDomain))}, stateRootDomain...)
	msg = append(msg, digest(tree)...)
	if err := verifyBLS(key, wc.Signature, msg); err != nil {
		return nil, err
	}
	return &Certificate{tree: tree}, nil
}

// subnetKey verifies the delegation certificate and returns the subnet's key
func subnetKey(d *wireCertDelegation, rootKey []byte, effective principal.Principal) ([]byte, error) {
	cert, err := verifyCertificateDepth(d.Certificate, rootKey, effective, true)
	if err != nil {
		return nil, fmt.Errorf("delegation certificate: %w", err)
	}

	der, res := cert.LookupBytes([]byte("subnet"), d.SubnetID, []byte("public_key"))
	if res != LookupFound {
		return nil, fmt.Errorf("%w: delegation has no subnet public key", ErrCertificateVerification)
	}

	if !effective.IsManagement() {
		ranges, res := cert.LookupBytes([]byte("subnet"), d.SubnetID, []byte("canister_ranges"))
		if res != LookupFound {
			return nil, fmt.Errorf("%w: delegation has no canister ranges", ErrCertificateVerification)
		}
		ok, err := inRanges(ranges, effective.Raw())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: canister %s is outside the delegated subnet", ErrCertificateVerification, effective)
		}
	}

	return rawRootKey(der)
}

func inRanges(data []byte, id []byte) (bool, error) {
	var ranges [][][]byte
	if err := unmarshalCBOR(data, &ranges); err != nil {
		return false, fmt.Errorf("failed to decode canister ranges: %w", err)
	}
	for _, r := range ranges {
		if len(r) != 2 {
			continue
		}
		if bytes.Compare(r[0], id) <= 0 && bytes.Compare(id, r[1]) <= 0 {
			return true, nil
		}
	}
	return false, nil
}

func verifyBLS(key, sig, msg []byte) error {
	if len(key) != blsKeyLength {
		return fmt.Errorf("%w: BLS key must be %d bytes", ErrCertificateVerification, blsKeyLength)
	}
	if len(sig) != blsSigLength {
		return fmt.Errorf("%w: BLS signature must be %d bytes", ErrCertificateVerification, blsSigLength)
	}
	pk := new(blst.P2Affine).Uncompress(key)
	if pk == nil {
		return fmt.Errorf("%w: malformed BLS public key", ErrCertificateVerification)
	}
	s := new(blst.P1Affine).Uncompress(sig)
	if s == nil {
		return fmt.Errorf("%w: malformed BLS signature", ErrCertificateVerification)
	}
	if !s.Verify(true, pk, true, msg, []byte(blsDST)) {
		return fmt.Errorf("%w: bad signature", ErrCertificateVerification)
	}
	return nil
}

// requestStatus is what a certificate says about one request
type requestStatus struct {
	Status        string
	Reply         []byte
	RejectCode    uint64
	RejectMessage string
	ErrorCode     string
}

func readRequestStatus(cert *Certificate, requestID []byte) (requestStatus, LookupResult) {
	base := [][]byte{[]byte("request_status"), requestID}
	path := func(leaf string) [][]byte {
		return append(append([][]byte{}, base...), []byte(leaf))
	}

	status, res := cert.LookupBytes(path("status")...)
	if res != LookupFound {
		return requestStatus{}, res
	}
	rs := requestStatus{Status: string(status)}
	switch rs.Status {
	case "replied":
		rs.Reply, _ = cert.LookupBytes(path("reply")...)
	case "rejected":
		code, _ := cert.LookupBytes(path("reject_code")...)
		rs.RejectCode = decodeUleb(code)
		msg, _ := cert.LookupBytes(path("reject_message")...)
		rs.RejectMessage = string(msg)
		ec, _ := cert.LookupBytes(path("error_code")...)
		rs.ErrorCode = string(ec)
	}
	return rs, LookupFound
}

func decodeUleb(b []byte) uint64 {
	v, err := candid.DecodeUleb(b)
	if err != nil {
		return 0
	}
	return v
}
