package fetch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPeerHostStripsPort(t *testing.T) {
	require := require.New(t)

	require.Equal("10.0.0.9", peerHost("10.0.0.9:51413"))
	require.Equal("10.0.0.9", peerHost("10.0.0.9"))
	require.Equal("2001:db8::1", peerHost("[2001:db8::1]:51413"))
}

func TestMaxmindResolverRejectsBadAddress(t *testing.T) {
	r := &MaxmindGeoResolver{}
	_, err := r.Resolve("not-an-address")
	require.Error(t, err)
}

func TestDNSHostResolverRejectsBadAddress(t *testing.T) {
	r := NewDNSHostResolver(0)
	_, err := r.Resolve("not-an-address")
	require.Error(t, err)
}
