package category

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestColorRoundTripFromAmule(t *testing.T) {
	require := require.New(t)

	for _, n := range []uint32{0, 1, 0xff, 0x00ff00, 0xff0000, 0xffffff, 0x123456, 0xabcdef} {
		require.Equal(n, HexToAmule(AmuleToHex(n)), "n=%#x", n)
	}
}

func TestColorRoundTripFromHex(t *testing.T) {
	require := require.New(t)

	for _, hex := range []string{"#000000", "#ffffff", "#ff8800", "#123abc", "#0000ff"} {
		require.Equal(hex, AmuleToHex(HexToAmule(hex)))
	}
	// Case normalization.
	require.Equal("#abcdef", AmuleToHex(HexToAmule("#ABCDEF")))
}

func TestHexToAmulePacksBGR(t *testing.T) {
	require := require.New(t)

	require.Equal(uint32(0x0000ff), HexToAmule("#ff0000"), "red lands in low byte")
	require.Equal(uint32(0xff0000), HexToAmule("#0000ff"), "blue lands in high byte")
	require.Equal(uint32(0x00ff00), HexToAmule("#00ff00"))
}

func TestHexToAmuleTotal(t *testing.T) {
	require := require.New(t)

	for _, bad := range []string{"", "red", "#12345", "#1234567", "123456"} {
		require.Equal(uint32(0), HexToAmule(bad), fmt.Sprintf("input %q", bad))
	}
}
