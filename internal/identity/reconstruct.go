package identity

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"launchpad/internal/apperror"
	"launchpad/internal/principal"
)

// maxNesting bounds JSON-in-string and identity-in-delegation recursion
const maxNesting = 4

// AnonymousMarker is the literal payload selecting the anonymous identity
const AnonymousMarker = "anonymous"

var secretFields = []string{"secretKey", "privateKey", "sk"}

// shape is the closed set of payload forms the reconstructor recognizes
type shape int

const (
	shapeUnknown shape = iota
	shapeAnonymous
	shapeJSONString
	shapeRawKey
	shapeKeyPair
	shapeSecretField
	shapeDelegation
)

// Reconstructor rebuilds identities from client payloads
type Reconstructor struct {
	now func() time.Time
}

// NewReconstructor returns a reconstructor that checks delegation expiry against now
func NewReconstructor(now func() time.Time) *Reconstructor {
	if now == nil {
		now = time.Now
	}
	return &Reconstructor{now: now}
}

var defaultReconstructor = NewReconstructor(nil)

// Reconstruct rebuilds an identity using the wall clock
func Reconstruct(payload any) (Identity, error) {
	return defaultReconstructor.Reconstruct(payload)
}

// Reconstruct returns a signing identity for payload. Every failure is an
// InvalidDelegation error whose reason never contains key material.
func (r *Reconstructor) Reconstruct(payload any) (Identity, error) {
	id, err := r.reconstruct(normalize(payload), 0)
	if err != nil {
		return nil, apperror.InvalidDelegation(err.Error(), nil)
	}
	if _, err := Validate(id); err != nil {
		return nil, apperror.InvalidDelegation(err.Error(), nil)
	}
	return id, nil
}

// normalize maps byte-ish inputs onto the JSON value space
func normalize(payload any) any {
	switch v := payload.(type) {
	case json.RawMessage:
		return string(v)
	case []byte:
		return string(v)
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return m
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return payload
	}
}

func classify(v any) shape {
	switch p := v.(type) {
	case nil:
		return shapeAnonymous
	case string:
		s := strings.TrimSpace(p)
		switch {
		case s == AnonymousMarker:
			return shapeAnonymous
		case looksLikeJSON(s):
			return shapeJSONString
		default:
			return shapeRawKey
		}
	case []any:
		if len(p) == 2 {
			if _, ok := p[0].(string); ok {
				if _, ok := p[1].(string); ok {
					return shapeKeyPair
				}
			}
		}
		return shapeUnknown
	case map[string]any:
		if hasAny(p, "delegations", "delegation") {
			return shapeDelegation
		}
		if _, ok := p["publicKey"]; ok && firstSecret(p) != "" {
			return shapeKeyPair
		}
		if firstSecret(p) != "" {
			return shapeSecretField
		}
		return shapeUnknown
	default:
		return shapeUnknown
	}
}

func (r *Reconstructor) reconstruct(v any, depth int) (Identity, error) {
	if depth > maxNesting {
		return nil, errors.New("payload nested too deeply")
	}

	switch classify(v) {
	case shapeAnonymous:
		return NewAnonymous(), nil

	case shapeJSONString:
		parsed, err := DecodeJSON([]byte(strings.TrimSpace(v.(string))))
		if err != nil {
			return nil, errors.New("payload is not valid JSON")
		}
		return r.reconstruct(parsed, depth+1)

	case shapeRawKey:
		secret, err := decodeMaterial(v.(string))
		if err != nil {
			return nil, errors.New("string payload is neither JSON nor hex/base64 key material")
		}
		if len(secret) != 32 && len(secret) != 64 {
			return nil, fmt.Errorf("raw secret key must be 32 or 64 bytes, got %d", len(secret))
		}
		return NewEd25519(secret)

	case shapeKeyPair:
		return keyPair(v)

	case shapeSecretField:
		return secretField(v.(map[string]any))

	case shapeDelegation:
		return r.delegation(v.(map[string]any), depth)

	default:
		return nil, fmt.Errorf("unsupported identity payload of type %s", describeType(v))
	}
}

// keyPair handles [publicDER, secret] arrays and {publicKey, secretKey} objects.
// The public half decides the scheme and must match the secret.
func keyPair(v any) (Identity, error) {
	var pubText, secretText string
	keyType := KeyType("")
	switch p := v.(type) {
	case []any:
		pubText, secretText = p[0].(string), p[1].(string)
	case map[string]any:
		s, ok := p["publicKey"].(string)
		if !ok {
			return nil, errors.New("keypair publicKey must be a string")
		}
		pubText, secretText = s, firstSecret(p)
		keyType = keyTypeOf(p)
	}

	pubRaw, err := decodeMaterial(pubText)
	if err != nil {
		return nil, errors.New("keypair public key is not hex/base64")
	}
	pub, inferred, err := NormalizePublicKey(pubRaw)
	if err != nil {
		return nil, errors.New("keypair public key is not a recognized key encoding")
	}
	if keyType == "" {
		keyType = inferred
	}
	if inferred != "" && inferred != keyType {
		return nil, errors.New("keypair type does not match its public key")
	}

	secret, err := decodeMaterial(secretText)
	if err != nil {
		return nil, errors.New("keypair secret key is not hex/base64")
	}
	id, err := NewKeyIdentity(keyType, secret)
	if err != nil {
		return nil, err
	}
	if string(id.PublicKey()) != string(pub) {
		return nil, errors.New("keypair secret key does not match its public key")
	}
	return id, nil
}

func secretField(m map[string]any) (Identity, error) {
	secret, err := decodeMaterial(firstSecret(m))
	if err != nil {
		return nil, errors.New("secret key field is not hex/base64")
	}
	return NewKeyIdentity(keyTypeOf(m), secret)
}

func (r *Reconstructor) delegation(m map[string]any, depth int) (Identity, error) {
	chain, err := parseChain(m)
	if err != nil {
		return nil, err
	}

	var inner Identity
	switch {
	case m["identity"] != nil:
		inner, err = r.reconstruct(normalize(m["identity"]), depth+1)
		if err != nil {
			return nil, fmt.Errorf("inner identity: %w", err)
		}
	case firstSecret(m) != "":
		inner, err = secretField(m)
		if err != nil {
			return nil, fmt.Errorf("inner identity: %w", err)
		}
	default:
		return nil, errors.New("delegation has no inner identity")
	}

	return NewDelegationIdentity(inner, chain, r.now())
}

// parseChain reads the agent-js DelegationChain JSON form. The chain may sit at
// the root or under a "delegation" object.
func parseChain(m map[string]any) (Chain, error) {
	src := m
	if nested, ok := m["delegation"].(map[string]any); ok {
		src = nested
	}

	pubText := stringField(src, "publicKey", "public_key")
	if pubText == "" {
		pubText = stringField(m, "publicKey", "public_key")
	}
	if pubText == "" {
		return Chain{}, errors.New("delegation chain has no public key")
	}
	pub, err := decodeMaterial(pubText)
	if err != nil {
		return Chain{}, errors.New("delegation chain public key is not hex/base64")
	}
	if pub, _, err = NormalizePublicKey(pub); err != nil {
		return Chain{}, errors.New("delegation chain public key is not a recognized key encoding")
	}

	var list []any
	switch d := src["delegations"].(type) {
	case []any:
		list = d
	case nil:
		if arr, ok := m["delegation"].([]any); ok {
			list = arr
		}
	default:
		return Chain{}, errors.New("delegations must be a list")
	}
	if len(list) == 0 {
		return Chain{}, errors.New("delegation chain is empty")
	}

	chain := Chain{PublicKey: pub, Delegations: make([]SignedDelegation, 0, len(list))}
	for i, item := range list {
		sd, err := parseSignedDelegation(item)
		if err != nil {
			return Chain{}, fmt.Errorf("delegation %d: %w", i, err)
		}
		chain.Delegations = append(chain.Delegations, sd)
	}
	return chain, nil
}

func parseSignedDelegation(item any) (SignedDelegation, error) {
	obj, ok := item.(map[string]any)
	if !ok {
		return SignedDelegation{}, errors.New("entry is not an object")
	}
	body, ok := obj["delegation"].(map[string]any)
	if !ok {
		return SignedDelegation{}, errors.New("entry has no delegation body")
	}

	pub, err := decodeMaterial(stringField(body, "pubkey", "pubKey"))
	if err != nil || len(pub) == 0 {
		return SignedDelegation{}, errors.New("pubkey is missing or not hex/base64")
	}
	expiration, err := parseExpiration(body["expiration"])
	if err != nil {
		return SignedDelegation{}, err
	}
	sig, err := decodeMaterial(stringField(obj, "signature"))
	if err != nil || len(sig) == 0 {
		return SignedDelegation{}, errors.New("signature is missing or not hex/base64")
	}

	d := Delegation{PubKey: pub, Expiration: expiration}
	if targets, ok := body["targets"].([]any); ok {
		for _, t := range targets {
			s, ok := t.(string)
			if !ok {
				return SignedDelegation{}, errors.New("target is not a string")
			}
			p, err := parseTarget(s)
			if err != nil {
				return SignedDelegation{}, err
			}
			d.Targets = append(d.Targets, p)
		}
	}
	return SignedDelegation{Delegation: d, Signature: sig}, nil
}

// DecodeJSON parses an identity payload keeping numbers as json.Number, so
// nanosecond expirations above 2^53 survive intact
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// maxExactFloat is the largest integer a float64 holds without rounding
const maxExactFloat = 1 << 53

// parseExpiration accepts a JSON number of nanoseconds or the hex string agent-js emits
func parseExpiration(v any) (uint64, error) {
	switch e := v.(type) {
	case float64:
		if e <= 0 {
			return 0, errors.New("expiration must be positive")
		}
		if e != math.Trunc(e) || e > maxExactFloat {
			return 0, errors.New("expiration is not an exact integer, send it as a string or exact JSON number")
		}
		return uint64(e), nil
	case uint64:
		if e == 0 {
			return 0, errors.New("expiration must be positive")
		}
		return e, nil
	case json.Number:
		n, ok := new(big.Int).SetString(e.String(), 10)
		if !ok || n.Sign() <= 0 || !n.IsUint64() {
			return 0, errors.New("expiration is not a valid integer")
		}
		return n.Uint64(), nil
	case string:
		s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e)), "0x")
		n, ok := new(big.Int).SetString(s, 16)
		if !ok || !n.IsUint64() {
			return 0, errors.New("expiration is not a valid hex integer")
		}
		return n.Uint64(), nil
	default:
		return 0, errors.New("expiration is missing")
	}
}

func parseTarget(s string) (principal.Principal, error) {
	if p, err := principal.Decode(s); err == nil {
		return p, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return principal.Principal{}, errors.New("target is not a principal")
	}
	return principal.New(raw), nil
}

func looksLikeJSON(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case '{', '[', '"':
		return true
	}
	return s == "null"
}

// decodeMaterial decodes hex (optionally 0x prefixed) or any base64 flavor
func decodeMaterial(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty")
	}
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(h)%2 == 0 {
		if b, err := hex.DecodeString(h); err == nil {
			return b, nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("not hex or base64")
}

func firstSecret(m map[string]any) string {
	return stringField(m, secretFields...)
}

func stringField(m map[string]any, names ...string) string {
	for _, n := range names {
		if s, ok := m[n].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func hasAny(m map[string]any, names ...string) bool {
	for _, n := range names {
		if _, ok := m[n]; ok {
			return true
		}
	}
	return false
}

func keyTypeOf(m map[string]any) KeyType {
	t := strings.ToLower(stringField(m, "keyType", "type", "curve"))
	switch t {
	case "secp256k1", "ecdsa":
		return KeyTypeSecp256k1
	case "ed25519":
		return KeyTypeEd25519
	default:
		// unknown names are rejected by NewKeyIdentity
		return KeyType(t)
	}
}

func describeType(v any) string {
	switch v.(type) {
	case bool:
		return "bool"
	case float64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
