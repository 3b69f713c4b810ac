package category

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePassSkipsNativeMoveMappings(t *testing.T) {
	require := require.New(t)

	m, _, cleanup := managerFixture(t)
	defer cleanup.Run()

	// qbittorrent moves natively, so its mapped path is not probed locally
	// and reports healthy even though it does not exist here.
	_, err := m.Create(context.Background(), Spec{
		Name: "Remote",
		Path: t.TempDir(),
		PathMappings: map[string]string{
			"qbittorrent": "/mnt/remote/only",
		},
	})
	require.NoError(err)

	v, err := m.validatePass()
	require.NoError(err)

	r := v.(Validation)["/mnt/remote/only"]
	require.Empty(r.Error)
	require.NotNil(r.Status)
	require.True(r.Status.Writable)
}

func TestValidatePassProbesAmuleMappings(t *testing.T) {
	require := require.New(t)

	m, _, cleanup := managerFixture(t)
	defer cleanup.Run()

	_, err := m.Create(context.Background(), Spec{
		Name: "Local",
		Path: t.TempDir(),
		PathMappings: map[string]string{
			"amule": "/mnt/missing/share",
		},
	})
	require.NoError(err)

	v, err := m.validatePass()
	require.NoError(err)

	r := v.(Validation)["/mnt/missing/share"]
	require.NotEmpty(r.Error)
}
