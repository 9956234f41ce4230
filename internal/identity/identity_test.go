package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad/internal/apperror"
	"launchpad/internal/principal"
)

func seed(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func mustEd25519(t *testing.T, b byte) *Ed25519Identity {
	t.Helper()
	id, err := NewEd25519FromSeed(seed(b))
	require.NoError(t, err)
	return id
}

func principalOf(t *testing.T, id Identity) principal.Principal {
	t.Helper()
	p, err := id.Principal()
	require.NoError(t, err)
	return p
}

func TestReconstruct_Anonymous(t *testing.T) {
	for _, payload := range []any{nil, "anonymous", " anonymous ", "null", `"anonymous"`} {
		id, err := Reconstruct(payload)
		require.NoError(t, err, "payload %v", payload)
		assert.True(t, IsAnonymous(id))
		assert.True(t, principalOf(t, id).IsAnonymous())
	}
}

func TestReconstruct_RawKeyIsDeterministic(t *testing.T) {
	hexSeed := hex.EncodeToString(seed(7))
	b64Seed := base64.StdEncoding.EncodeToString(seed(7))

	a, err := Reconstruct(hexSeed)
	require.NoError(t, err)
	b, err := Reconstruct(b64Seed)
	require.NoError(t, err)
	c, err := Reconstruct("0x" + hexSeed)
	require.NoError(t, err)

	assert.Equal(t, principalOf(t, a), principalOf(t, b))
	assert.Equal(t, principalOf(t, a), principalOf(t, c))

	other, err := Reconstruct(hex.EncodeToString(seed(8)))
	require.NoError(t, err)
	assert.NotEqual(t, principalOf(t, a), principalOf(t, other))
}

func TestReconstruct_SixtyFourByteSecret(t *testing.T) {
	key := ed25519.NewKeyFromSeed(seed(3))
	id, err := Reconstruct(hex.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, principalOf(t, mustEd25519(t, 3)), principalOf(t, id))

	// Mismatched public half
	bad := append([]byte{}, key...)
	bad[63] ^= 0xff
	_, err = Reconstruct(hex.EncodeToString(bad))
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidDelegation))
}

func TestReconstruct_KeyPairArray(t *testing.T) {
	id := mustEd25519(t, 5)
	payload := fmt.Sprintf(`["%s","%s"]`, hex.EncodeToString(id.PublicKey()), hex.EncodeToString(ed25519.NewKeyFromSeed(seed(5))))

	got, err := Reconstruct(payload)
	require.NoError(t, err)
	assert.Equal(t, principalOf(t, id), principalOf(t, got))

	// Public key from another seed
	wrong := fmt.Sprintf(`["%s","%s"]`, hex.EncodeToString(mustEd25519(t, 6).PublicKey()), hex.EncodeToString(seed(5)))
	_, err = Reconstruct(wrong)
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidDelegation))
}

func TestReconstruct_SecretFields(t *testing.T) {
	want := principalOf(t, mustEd25519(t, 9))
	for _, field := range []string{"secretKey", "privateKey", "sk"} {
		got, err := Reconstruct(map[string]any{field: hex.EncodeToString(seed(9))})
		require.NoError(t, err, field)
		assert.Equal(t, want, principalOf(t, got), field)
	}
}

func TestReconstruct_Secp256k1(t *testing.T) {
	secret := seed(0x11)
	id, err := Reconstruct(map[string]any{"secretKey": hex.EncodeToString(secret), "keyType": "secp256k1"})
	require.NoError(t, err)

	k, ok := id.(*Secp256k1Identity)
	require.True(t, ok)
	assert.Len(t, k.PublicKey(), 88)

	msg := []byte("\x0Aic-request payload")
	sig, err := k.Sign(msg)
	require.NoError(t, err)
	require.Len(t, sig, 64)

	var r, s secp256k1.ModNScalar
	r.SetByteSlice(sig[:32])
	s.SetByteSlice(sig[32:])
	digest := sha256.Sum256(msg)
	pub := secp256k1.PrivKeyFromBytes(secret).PubKey()
	assert.True(t, ecdsa.NewSignature(&r, &s).Verify(digest[:], pub))
}

func TestEd25519_SignVerifies(t *testing.T) {
	id := mustEd25519(t, 1)
	msg := []byte("message")
	sig, err := id.Sign(msg)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(id.rawPublicKey(), msg, sig))
}

func delegationPayload(t *testing.T, root, session *Ed25519Identity, expires time.Time) map[string]any {
	t.Helper()
	return map[string]any{
		"publicKey": hex.EncodeToString(root.PublicKey()),
		"delegations": []any{
			map[string]any{
				"delegation": map[string]any{
					"pubkey":     hex.EncodeToString(session.PublicKey()),
					"expiration": fmt.Sprintf("%x", expires.UnixNano()),
				},
				"signature": hex.EncodeToString([]byte("root-signature")),
			},
		},
		"identity": []any{hex.EncodeToString(session.PublicKey()), hex.EncodeToString(seed(2))},
	}
}

func TestReconstruct_DelegationChain(t *testing.T) {
	root, session := mustEd25519(t, 1), mustEd25519(t, 2)
	now := time.Unix(1_700_000_000, 0)
	r := NewReconstructor(func() time.Time { return now })

	id, err := r.Reconstruct(delegationPayload(t, root, session, now.Add(time.Hour)))
	require.NoError(t, err)

	// Sender is the root key, signatures come from the session key
	assert.Equal(t, principalOf(t, root), principalOf(t, id))
	assert.Equal(t, root.PublicKey(), id.PublicKey())
	require.Len(t, id.Delegations(), 1)

	sig, err := id.Sign([]byte("m"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(session.rawPublicKey(), []byte("m"), sig))
}

func TestReconstruct_DelegationAsJSONString(t *testing.T) {
	root, session := mustEd25519(t, 1), mustEd25519(t, 2)
	now := time.Unix(1_700_000_000, 0)
	r := NewReconstructor(func() time.Time { return now })

	raw, err := json.Marshal(delegationPayload(t, root, session, now.Add(time.Hour)))
	require.NoError(t, err)

	id, err := r.Reconstruct(string(raw))
	require.NoError(t, err)
	assert.Equal(t, principalOf(t, root), principalOf(t, id))
}

func TestReconstruct_DelegationRootSecret(t *testing.T) {
	root, session := mustEd25519(t, 1), mustEd25519(t, 2)
	now := time.Unix(1_700_000_000, 0)
	r := NewReconstructor(func() time.Time { return now })

	payload := delegationPayload(t, root, session, now.Add(time.Hour))
	delete(payload, "identity")
	payload["secretKey"] = hex.EncodeToString(seed(2))

	id, err := r.Reconstruct(payload)
	require.NoError(t, err)
	assert.Equal(t, principalOf(t, root), principalOf(t, id))
}

func TestReconstruct_DelegationFailures(t *testing.T) {
	root, session := mustEd25519(t, 1), mustEd25519(t, 2)
	now := time.Unix(1_700_000_000, 0)
	r := NewReconstructor(func() time.Time { return now })

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"expired", func(p map[string]any) {
			p["delegations"].([]any)[0].(map[string]any)["delegation"].(map[string]any)["expiration"] = fmt.Sprintf("%x", now.Add(-time.Minute).UnixNano())
		}},
		{"unbound inner key", func(p map[string]any) {
			other := mustEd25519(t, 3)
			p["identity"] = []any{hex.EncodeToString(other.PublicKey()), hex.EncodeToString(seed(3))}
		}},
		{"no inner identity", func(p map[string]any) { delete(p, "identity") }},
		{"no public key", func(p map[string]any) { delete(p, "publicKey") }},
		{"empty chain", func(p map[string]any) { p["delegations"] = []any{} }},
		{"anonymous inner", func(p map[string]any) { p["identity"] = "anonymous" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := delegationPayload(t, root, session, now.Add(time.Hour))
			tt.mutate(payload)
			_, err := r.Reconstruct(payload)
			require.Error(t, err)
			assert.True(t, apperror.IsKind(err, apperror.KindInvalidDelegation))
		})
	}
}

func TestReconstruct_UnsupportedShapes(t *testing.T) {
	secretHex := hex.EncodeToString(seed(4))
	payloads := []any{
		42,
		true,
		"not a key",
		"abcd",
		"{broken json",
		map[string]any{"foo": "bar"},
		[]any{1, 2},
		[]any{"a", "b", "c"},
		map[string]any{"secretKey": "zz"},
		map[string]any{"secretKey": secretHex, "keyType": "rsa"},
	}

	for _, p := range payloads {
		id, err := Reconstruct(p)
		require.Error(t, err, "payload %v", p)
		assert.Nil(t, id)
		assert.True(t, apperror.IsKind(err, apperror.KindInvalidDelegation), "payload %v", p)
		// Reasons never echo key material
		assert.NotContains(t, err.Error(), secretHex)
	}
}

func TestNormalizePublicKey(t *testing.T) {
	id := mustEd25519(t, 1)
	der, kt, err := NormalizePublicKey(id.rawPublicKey())
	require.NoError(t, err)
	assert.Equal(t, KeyTypeEd25519, kt)
	assert.Equal(t, id.PublicKey(), der)

	_, _, err = NormalizePublicKey([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestReconstruct_NumericExpirationIsExact(t *testing.T) {
	root, session := mustEd25519(t, 1), mustEd25519(t, 2)
	now := time.Unix(1_700_000_000, 0)
	r := NewReconstructor(func() time.Time { return now })

	const expiration uint64 = 1_700_000_000_123_456_789
	payload := delegationPayload(t, root, session, now.Add(time.Hour))
	payload["delegations"].([]any)[0].(map[string]any)["delegation"].(map[string]any)["expiration"] = expiration
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	id, err := r.Reconstruct(string(raw))
	require.NoError(t, err)
	require.Len(t, id.Delegations(), 1)
	assert.Equal(t, expiration, id.Delegations()[0].Delegation.Expiration)
}

func TestParseExpiration(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want uint64
		ok   bool
	}{
		{"json number", json.Number("1700000000123456789"), 1_700_000_000_123_456_789, true},
		{"hex string", "179a7e2c8fd7ee15", 0x179a7e2c8fd7ee15, true},
		{"exact float", float64(1 << 40), 1 << 40, true},
		{"float above 2^53", float64(1_700_000_000_123_456_789), 0, false},
		{"float beyond uint64", 1e30, 0, false},
		{"fractional float", 1.5, 0, false},
		{"negative number", json.Number("-5"), 0, false},
		{"zero", float64(0), 0, false},
		{"missing", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseExpiration(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	v, err := DecodeJSON([]byte(`{"expiration": 1700000000123456789}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("1700000000123456789"), v.(map[string]any)["expiration"])

	_, err = DecodeJSON([]byte(`{} {}`))
	assert.Error(t, err)
	_, err = DecodeJSON([]byte(`{`))
	assert.Error(t, err)
}
