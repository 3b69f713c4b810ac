package amule

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	require := require.New(t)

	hash := bytes.Repeat([]byte{0xAB}, 16)
	p := &ecPacket{
		Opcode: opDloadQueue,
		Tags: []ecTag{
			{
				Name: tagPartfile, Type: ecTypeHash16, Data: hash,
				Children: []ecTag{
					stringTag(tagPartfileName, "Film.iso"),
					uintTag(tagPartfileSizeFull, 730_000_000),
					uintTag(tagPartfileSizeDone, 365_000_000),
					uintTag(tagPartfileStatus, 0),
					uintTag(tagPartfileSpeed, 125_000),
				},
			},
			uintTag(tagCategory, 3),
		},
	}

	frame, err := encodePacket(p)
	require.NoError(err)

	got, err := decodePacket(bytes.NewReader(frame))
	require.NoError(err)
	require.Equal(p.Opcode, got.Opcode)
	require.Len(got.Tags, 2)

	pf, ok := got.Tag(tagPartfile)
	require.True(ok)
	require.Equal(hash, pf.Data)
	require.Equal("Film.iso", pf.ChildString(tagPartfileName))
	require.Equal(uint64(730_000_000), pf.ChildUint(tagPartfileSizeFull))
	require.Equal(uint64(125_000), pf.ChildUint(tagPartfileSpeed))

	cat, ok := got.Tag(tagCategory)
	require.True(ok)
	require.Equal(uint64(3), cat.Uint())
}

func TestUintTagPicksNarrowestWidth(t *testing.T) {
	tests := []struct {
		v    uint64
		typ  uint8
		size int
	}{
		{7, ecTypeUint8, 1},
		{300, ecTypeUint16, 2},
		{70_000, ecTypeUint32, 4},
		{5_000_000_000, ecTypeUint64, 8},
	}
	for _, test := range tests {
		tag := uintTag(0x01, test.v)
		require.Equal(t, test.typ, tag.Type)
		require.Len(t, tag.Data, test.size)
		require.Equal(t, test.v, tag.Uint())
	}
}

func TestStringTagNulTerminated(t *testing.T) {
	require := require.New(t)

	tag := stringTag(tagClientName, "peerhub")
	require.Equal(byte(0), tag.Data[len(tag.Data)-1])
	require.Equal("peerhub", tag.String())
}

func TestDecodePacketRejectsBadLength(t *testing.T) {
	require := require.New(t)

	// Header claims a 32 MB payload.
	frame := []byte{0, 0, 0, 0x20, 0x02, 0, 0, 0}
	_, err := decodePacket(bytes.NewReader(frame))
	require.Error(err)
}

func TestSaltedPasswordHashDeterministic(t *testing.T) {
	require := require.New(t)

	h1 := saltedPasswordHash("secret", 0xDEADBEEF)
	h2 := saltedPasswordHash("secret", 0xDEADBEEF)
	require.Equal(h1, h2)
	require.Len(h1, 16)

	require.NotEqual(h1, saltedPasswordHash("secret", 0xCAFE))
	require.NotEqual(h1, saltedPasswordHash("other", 0xDEADBEEF))
}

func TestHashBytes(t *testing.T) {
	require := require.New(t)

	b, err := hashBytes("0123456789abcdef0123456789abcdef")
	require.NoError(err)
	require.Len(b, 16)

	_, err = hashBytes("short")
	require.Error(err)
	_, err = hashBytes("zzzz456789abcdef0123456789abcdef")
	require.Error(err)
}
