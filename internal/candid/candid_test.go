package candid

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad/internal/principal"
)

func TestEncodePrimitives(t *testing.T) {
	tests := []struct {
		name     string
		typ      Type
		value    any
		expected string
	}{
		{"nat", Nat, uint64(42), "4449444c00017d2a"},
		{"nat multi-byte", Nat, uint64(624485), "4449444c00017de58e26"},
		{"int negative", Int, int64(-123456), "4449444c00017cc0bb78"},
		{"text", Text, "hello", "4449444c00017105" + hex.EncodeToString([]byte("hello"))},
		{"bool", Bool, true, "4449444c00017e01"},
		{"nat8", Nat8, uint8(7), "4449444c00017b07"},
		{"nat64", Nat64, uint64(1), "4449444c0001780100000000000000"},
		{"principal", Principal, principal.Anonymous, "4449444c0001680101" + "04"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Encode([]Type{tt.typ}, []any{tt.value})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, hex.EncodeToString(out))
		})
	}
}

func TestEncodeEmpty(t *testing.T) {
	assert.Equal(t, "4449444c0000", hex.EncodeToString(EncodeEmpty()))
}

func TestHash(t *testing.T) {
	// Well-known ids from the Candid reference
	assert.Equal(t, uint32(17724), Hash("Ok"))
	assert.Equal(t, uint32(3456837), Hash("Err"))
	assert.Equal(t, uint32(1), Hash("1"))
}

func TestRecordRoundTrip(t *testing.T) {
	account := RecordOf(
		F("owner", Principal),
		F("subaccount", Opt(Blob)),
	)
	args := RecordOf(
		F("to", account),
		F("amount", Nat),
		F("memo", Opt(Blob)),
		F("created_at_time", Opt(Nat64)),
		F("tags", Vec(Text)),
	)

	owner := principal.Ledger
	amount := new(big.Int).Lsh(big.NewInt(1), 80)
	encoded, err := Encode([]Type{args}, []any{map[string]any{
		"to":              map[string]any{"owner": owner},
		"amount":          amount,
		"created_at_time": uint64(99),
		"tags":            []string{"a", "b"},
	}})
	require.NoError(t, err)

	value, err := DecodeOne(encoded)
	require.NoError(t, err)

	rec, err := AsRecord(value)
	require.NoError(t, err)

	gotAmount, err := rec.Nat("amount")
	require.NoError(t, err)
	assert.Equal(t, 0, amount.Cmp(gotAmount))

	created, ok := rec.Get("created_at_time")
	require.True(t, ok)
	assert.Equal(t, uint64(99), created)

	memo, err := rec.Blob("memo")
	require.NoError(t, err)
	assert.Nil(t, memo)

	tags, ok := rec.Get("tags")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, tags)

	to, ok := rec.Get("to")
	require.True(t, ok)
	toRec, err := AsRecord(to)
	require.NoError(t, err)
	gotOwner, err := toRec.Principal("owner")
	require.NoError(t, err)
	assert.True(t, gotOwner.Equal(owner))
}

func TestVariantRoundTrip(t *testing.T) {
	result := VariantOf(
		F("Ok", Nat),
		F("Err", VariantOf(
			F("InsufficientFunds", RecordOf(F("balance", Nat))),
			F("TooOld", Null),
		)),
	)

	encoded, err := Encode([]Type{result}, []any{Variant{
		Name: "Err",
		Value: Variant{
			Name:  "InsufficientFunds",
			Value: map[string]any{"balance": uint64(5)},
		},
	}})
	require.NoError(t, err)

	value, err := DecodeOne(encoded)
	require.NoError(t, err)

	outer, err := AsVariant(value)
	require.NoError(t, err)
	require.True(t, outer.Is("Err"))

	inner, err := AsVariant(outer.Value)
	require.NoError(t, err)
	assert.True(t, inner.Is("InsufficientFunds"))
	assert.False(t, inner.Is("TooOld"))

	described := Describe(outer, "Err", "InsufficientFunds", "balance")
	assert.Equal(t, map[string]any{
		"Err": map[string]any{
			"InsufficientFunds": map[string]any{"balance": "5"},
		},
	}, described)
}

func TestTypeTableDeduplicates(t *testing.T) {
	account := RecordOf(F("owner", Principal))
	pair := RecordOf(F("from", account), F("to", account))

	encoded, err := Encode([]Type{pair}, []any{map[string]any{
		"from": map[string]any{"owner": principal.Anonymous},
		"to":   map[string]any{"owner": principal.Management},
	}})
	require.NoError(t, err)

	// magic + table length 2 (pair record, account record)
	assert.Equal(t, byte(2), encoded[4])
}

func TestEncodeErrors(t *testing.T) {
	_, err := Encode([]Type{Nat}, []any{"not a number"})
	assert.Error(t, err)

	_, err = Encode([]Type{Nat}, []any{int64(-1)})
	assert.Error(t, err)

	_, err = Encode([]Type{RecordOf(F("required", Nat))}, []any{map[string]any{}})
	assert.Error(t, err)

	_, err = Encode([]Type{VariantOf(F("A", Null))}, []any{Variant{Name: "B"}})
	assert.Error(t, err)

	_, err = Encode([]Type{Nat, Nat}, []any{uint64(1)})
	assert.Error(t, err)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no magic", "00000000"},
		{"truncated nat", "4449444c00017d"},
		{"bad type index", "4449444c000105"},
		{"truncated blob", "4449444c016d7b010005"},
		{"func type", "4449444c016a000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := hex.DecodeString(tt.data)
			require.NoError(t, err)
			_, err = Decode(raw)
			assert.Error(t, err)
		})
	}
}
