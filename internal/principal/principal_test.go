package principal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWellKnownPrincipals(t *testing.T) {
	tests := []struct {
		name     string
		p        Principal
		text     string
		hexBytes string
	}{
		{"management", Management, "aaaaa-aa", ""},
		{"anonymous", Anonymous, "2vxsx-fae", "04"},
		{"ledger", Ledger, "ryjl3-tyaaa-aaaaa-aaaba-cai", "00000000000000020101"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.text, tt.p.String())
			assert.Equal(t, tt.hexBytes, tt.p.Hex())

			decoded, err := Decode(tt.text)
			require.NoError(t, err)
			assert.True(t, decoded.Equal(tt.p))
		})
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"bad checksum", "ryjl3-tyaaa-aaaaa-aaaba-caa"},
		{"not base32", "hello-world!"},
		{"wrong grouping", "ryjl3tyaaa-aaaaa-aaaba-cai"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.text)
			assert.Error(t, err)
		})
	}
}

func TestSelfAuthenticatingIsDeterministic(t *testing.T) {
	der := []byte("some-der-public-key")

	a := SelfAuthenticating(der)
	b := SelfAuthenticating(der)
	c := SelfAuthenticating([]byte("another-key"))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Len(t, a.Raw(), 29)
	assert.Equal(t, byte(0x02), a.Raw()[28])

	roundTrip, err := Decode(a.String())
	require.NoError(t, err)
	assert.True(t, roundTrip.Equal(a))
}

func TestParseSubaccount(t *testing.T) {
	sub, err := ParseSubaccount("01")
	require.NoError(t, err)
	require.Len(t, sub, SubaccountLength)
	assert.Equal(t, byte(0x01), sub[31])

	none, err := ParseSubaccount("")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = ParseSubaccount("zz")
	assert.Error(t, err)

	account := Account{Owner: Anonymous, Subaccount: sub}
	assert.Equal(t, "2vxsx-fae."+"0000000000000000000000000000000000000000000000000000000000000001", account.String())
	assert.Equal(t, "2vxsx-fae", NewAccount(Anonymous).String())
}
