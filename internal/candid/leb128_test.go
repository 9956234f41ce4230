package candid

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLEB128_RoundTripsLargeValues(t *testing.T) {
	huge, ok := new(big.Int).SetString("24197857200151252728969465429440056815", 10)
	require.True(t, ok)
	above63 := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 63), big.NewInt(5))

	for _, n := range []*big.Int{big.NewInt(0), big.NewInt(127), huge, above63} {
		var buf bytes.Buffer
		writeUlebBig(&buf, n)
		r := &reader{data: buf.Bytes()}
		got, err := r.ulebBig()
		require.NoError(t, err)
		assert.Equal(t, 0, n.Cmp(got), "nat %s decoded as %s", n, got)
		assert.Zero(t, r.remaining())
	}

	for _, n := range []*big.Int{big.NewInt(-1), big.NewInt(63), big.NewInt(-64), above63, new(big.Int).Neg(above63), new(big.Int).Neg(huge)} {
		var buf bytes.Buffer
		writeSleb(&buf, n)
		r := &reader{data: buf.Bytes()}
		got, err := r.slebBig()
		require.NoError(t, err)
		assert.Equal(t, 0, n.Cmp(got), "int %s decoded as %s", n, got)
		assert.Zero(t, r.remaining())
	}
}

func TestLEB128_ReaderStopsAtGroupEnd(t *testing.T) {
	r := &reader{data: []byte{0xe5, 0x8e, 0x26, 0x7f}}
	n, err := r.uleb()
	require.NoError(t, err)
	assert.Equal(t, uint64(624485), n)

	s, err := r.sleb()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), s)
	assert.Zero(t, r.remaining())

	_, err = (&reader{data: []byte{0x80, 0x80}}).uleb()
	assert.ErrorContains(t, err, "unterminated")
}

func TestDecodeUleb_RejectsTrailingBytes(t *testing.T) {
	var buf bytes.Buffer
	writeUleb(&buf, 1<<40)
	v, err := DecodeUleb(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), v)

	_, err = DecodeUleb([]byte{0x01, 0x02})
	assert.Error(t, err)
}
