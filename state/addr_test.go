package state

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddrFromBytes(t *testing.T) {
	a, err := AddrFromBytes([]byte{0x00, 0x12, 0x4b, 0x00, 0x06, 0x15, 0xa5, 0x88})
	require.NoError(t, err)
	assert.Equal(t, Addr("0012:4b00:0615:a588"), a)
	assert.Equal(t, []byte{0x00, 0x12, 0x4b, 0x00, 0x06, 0x15, 0xa5, 0x88}, a.Bytes())
	assert.Equal(t, "a588", a.Short())
	assert.True(t, a.HasSuffix("88"))
	assert.False(t, a.HasSuffix("01"))
	assert.False(t, a.HasSuffix(""))
}

func TestAddrFromBytesInvalid(t *testing.T) {
	_, err := AddrFromBytes([]byte{0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, ErrOddAddress)
	_, err = AddrFromBytes(nil)
	assert.Error(t, err)
}

func TestParseAddr(t *testing.T) {
	for _, in := range []string{"00124B000615A588", "0012:4b00:0615:a588", " 0012:4B00:0615:A588 "} {
		a, err := ParseAddr(in)
		require.NoError(t, err, in)
		assert.Equal(t, Addr("0012:4b00:0615:a588"), a, in)
	}
	_, err := ParseAddr("zz12")
	assert.Error(t, err)
	_, err = ParseAddr("")
	assert.Error(t, err)
}

func TestAddrOrdering(t *testing.T) {
	a := MustAddr(0x00, 0x01)
	b := MustAddr(0x00, 0x02)
	c := MustAddr(0xff, 0x00)
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, c.Compare(b))
	assert.Equal(t, 0, a.Compare(MustAddr(0x00, 0x01)))
}

func TestAddrIP(t *testing.T) {
	a := MustAddr(0x00, 0x12, 0x4b, 0x00, 0x06, 0x15, 0xa5, 0x88)
	ip, err := a.IP(netip.MustParsePrefix("bbbb::/64"))
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("bbbb::12:4b00:615:a588"), ip)

	_, err = a.IP(netip.MustParsePrefix("10.0.0.0/8"))
	assert.Error(t, err)
}

func TestAddrText(t *testing.T) {
	var a Addr
	require.NoError(t, a.UnmarshalText([]byte("0000:0000:0000:0001")))
	txt, err := a.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "0000:0000:0000:0001", string(txt))
}
