package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddrKeepsHostBits(t *testing.T) {
	addr, err := ParseAddr("192.168.0.1/24")
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.1/24", addr.String())
	assert.True(t, IsIPv4(addr))
}

func TestParseAddrIPv6(t *testing.T) {
	addr, err := ParseAddr("2001:db8::1/64")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1/64", addr.String())
	assert.False(t, IsIPv4(addr))
}

func TestParseAddrRejectsBareIP(t *testing.T) {
	_, err := ParseAddr("192.168.0.1")
	require.Error(t, err)

	_, err = ParseAddr("192.168.0.1/33")
	require.Error(t, err)
}
