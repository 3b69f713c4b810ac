package clientregistry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/lib/adapter"
)

func TestRegisterAndLookup(t *testing.T) {
	require := require.New(t)

	r := New()
	a := adapter.NewTestAdapter(core.TypeAmule)
	require.NoError(r.Register("amule-localhost-4712", core.TypeAmule, a, Options{
		DisplayName: "home nas",
	}))

	got, err := r.Get("amule-localhost-4712")
	require.NoError(err)
	require.Equal("amule-localhost-4712", got.InstanceID())
	require.Equal("home nas", got.DisplayName())
	require.True(r.Has("amule-localhost-4712"))
}

func TestRegisterDuplicateFails(t *testing.T) {
	require := require.New(t)

	r := New()
	require.NoError(r.Register(
		"amule-localhost-4712", core.TypeAmule,
		adapter.NewTestAdapter(core.TypeAmule), Options{}))

	err := r.Register(
		"amule-localhost-4712", core.TypeAmule,
		adapter.NewTestAdapter(core.TypeAmule), Options{})
	require.ErrorIs(err, ErrAlreadyRegistered)
}

func TestRegisterValidation(t *testing.T) {
	require := require.New(t)

	r := New()
	a := adapter.NewTestAdapter(core.TypeAmule)

	require.Error(r.Register("bad:id", core.TypeAmule, a, Options{}))
	require.ErrorIs(
		r.Register("ok-id", core.ClientType("mystery"), a, Options{}),
		ErrUnknownType)
}

func TestUnregisterDetachesIdentity(t *testing.T) {
	require := require.New(t)

	r := New()
	a := adapter.NewTestAdapter(core.TypeQBittorrent)
	require.NoError(r.Register("qbittorrent-h-8080", core.TypeQBittorrent, a, Options{}))
	require.NoError(r.Unregister("qbittorrent-h-8080"))

	require.Empty(a.InstanceID())
	require.False(r.Has("qbittorrent-h-8080"))
	require.ErrorIs(r.Unregister("qbittorrent-h-8080"), ErrNotFound)
}

func TestFilters(t *testing.T) {
	require := require.New(t)

	r := New()
	connected := adapter.NewTestAdapter(core.TypeAmule)
	disconnected := adapter.NewTestAdapter(core.TypeQBittorrent)
	disconnected.SetConnected(false)
	disabled := adapter.NewTestAdapter(core.TypeRTorrent)
	disabled.SetEnabled(false)

	require.NoError(r.Register("amule-a-1", core.TypeAmule, connected, Options{}))
	require.NoError(r.Register("qbittorrent-b-2", core.TypeQBittorrent, disconnected, Options{}))
	require.NoError(r.Register("rtorrent-c-3", core.TypeRTorrent, disabled, Options{}))

	require.Len(r.GetAll(), 3)
	require.Len(r.GetConnected(), 1)
	require.Len(r.GetEnabled(), 2)
	require.Len(r.GetByType(core.TypeAmule), 1)

	r.Clear()
	require.Empty(r.GetAll())
}
