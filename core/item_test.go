package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCompleteTracksProgress(t *testing.T) {
	require := require.New(t)

	i := ItemFixture(TypeQBittorrent, "qbittorrent-localhost-8080")
	i.Progress = 1.2
	i.Normalize()
	require.True(i.Complete)
	require.Equal(1.0, i.Progress)
	require.False(i.Downloading)
}

func TestNormalizeSeedingImpliesComplete(t *testing.T) {
	require := require.New(t)

	i := ItemFixture(TypeAmule, "amule-localhost-4712")
	i.Seeding = true
	i.Progress = 0.4
	i.Normalize()
	require.True(i.Complete)
	require.Equal(1.0, i.Progress)
	require.Equal(i.Size, i.SizeDownloaded)
}

func TestNormalizeIncompleteUntouched(t *testing.T) {
	require := require.New(t)

	i := ItemFixture(TypeRTorrent, "rtorrent-localhost-5000")
	i.Progress = 0.5
	i.Normalize()
	require.False(i.Complete)
	require.True(i.Downloading)
}
