package config

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peerhub/peerhub/core"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

func writeConfig(t *testing.T, dir string, doc map[string]interface{}) {
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t,
		ioutil.WriteFile(filepath.Join(dir, FileName), raw, 0600))
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	c, err := load(dir, noEnv)
	require.NoError(err)

	require.Equal("0.0.0.0", c.Server.Host)
	require.Equal(3000, c.Server.Port)
	require.True(c.Server.Auth.Enabled)
	require.Equal("admin", c.Server.Auth.AdminUsername)
	require.Equal(dir, c.Directories.Data)
	require.True(c.History.Enabled)
	require.Empty(c.Clients)
}

func TestFileOverridesNonSensitiveEnv(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	writeConfig(t, dir, map[string]interface{}{
		"server": map[string]interface{}{"host": "127.0.0.1", "port": 4000},
	})

	c, err := load(dir, envMap(map[string]string{
		"PEERHUB_HOST": "10.0.0.1",
		"PEERHUB_PORT": "9999",
	}))
	require.NoError(err)

	// Non-sensitive: the file wins over the environment.
	require.Equal("127.0.0.1", c.Server.Host)
	require.Equal(4000, c.Server.Port)
}

func TestEnvFillsGapsTheFileLeaves(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	writeConfig(t, dir, map[string]interface{}{
		"server": map[string]interface{}{"port": 4000},
	})

	c, err := load(dir, envMap(map[string]string{"PEERHUB_HOST": "10.0.0.1"}))
	require.NoError(err)
	require.Equal("10.0.0.1", c.Server.Host)
	require.Equal(4000, c.Server.Port)
}

func TestSensitiveEnvWinsOverFile(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	writeConfig(t, dir, map[string]interface{}{
		"server": map[string]interface{}{
			"auth": map[string]interface{}{
				"password":      "from-file",
				"sessionSecret": "file-secret",
			},
		},
	})

	c, err := load(dir, envMap(map[string]string{
		"PEERHUB_AUTH_PASSWORD": "from-env",
	}))
	require.NoError(err)
	require.Equal("from-env", c.Server.Auth.Password)
	require.Equal("file-secret", c.Server.Auth.SessionSecret)
}

func TestMalformedEnvRejected(t *testing.T) {
	dir := t.TempDir()
	_, err := load(dir, envMap(map[string]string{"PEERHUB_PORT": "not-a-port"}))
	require.Error(t, err)
	require.IsType(t, &Error{}, err)
}

func TestEnvClientBootstrap(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	c, err := load(dir, envMap(map[string]string{
		"AMULE_HOST":     "nas.local",
		"AMULE_PASSWORD": "secret",
	}))
	require.NoError(err)
	require.Len(c.Clients, 1)

	client := c.Clients[0]
	require.Equal(core.TypeAmule, client.Type)
	require.Equal("amule-nas.local-4712", client.ID)
	require.Equal(4712, client.Port)
	require.Equal("amule", client.Username)
	require.Equal("secret", client.Password)
	require.Equal(SourceEnv, client.Source)
	require.True(client.Enabled)
}

func TestEnvPasswordMergesIntoFileClient(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	writeConfig(t, dir, map[string]interface{}{
		"clients": []map[string]interface{}{{
			"type":    "amule",
			"enabled": true,
			"host":    "nas.local",
			"port":    4712,
		}},
	})

	c, err := load(dir, envMap(map[string]string{
		"AMULE_HOST":     "nas.local",
		"AMULE_PASSWORD": "secret",
	}))
	require.NoError(err)
	require.Len(c.Clients, 1)
	require.Equal("secret", c.Clients[0].Password)
	require.NotEqual(SourceEnv, c.Clients[0].Source)
}

func TestDuplicateInstancesRejected(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, map[string]interface{}{
		"clients": []map[string]interface{}{
			{"type": "qbittorrent", "enabled": true, "host": "box", "port": 8080},
			{"type": "qbittorrent", "enabled": true, "host": "box", "port": 8080},
		},
	})

	_, err := load(dir, noEnv)
	require.Error(t, err)
	require.IsType(t, &Error{}, err)
	require.Contains(t, err.Error(), "duplicate client instance")
}

func TestEnabledClientRequiresHost(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, map[string]interface{}{
		"clients": []map[string]interface{}{
			{"type": "rtorrent", "enabled": true},
		},
	})

	_, err := load(dir, noEnv)
	require.Error(t, err)
	require.IsType(t, &Error{}, err)
}

func TestUnknownClientTypeRejected(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, map[string]interface{}{
		"clients": []map[string]interface{}{
			{"type": "floppynet", "enabled": false, "host": "x"},
		},
	})

	_, err := load(dir, noEnv)
	require.Error(t, err)
}

func TestSaveStripsEnvSourcedClients(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	env := envMap(map[string]string{
		"QBITTORRENT_HOST":     "box",
		"QBITTORRENT_PASSWORD": "secret",
	})
	c, err := load(dir, env)
	require.NoError(err)
	require.Len(c.Clients, 1)

	require.NoError(c.save(dir, env))

	raw, err := ioutil.ReadFile(filepath.Join(dir, FileName))
	require.NoError(err)
	require.NotContains(string(raw), "secret")
	require.NotContains(string(raw), `"box"`)

	// The entry re-derives on the next load.
	again, err := load(dir, env)
	require.NoError(err)
	require.Len(again.Clients, 1)
	require.Equal("secret", again.Clients[0].Password)
}

func TestSaveKeepsEditedEnvClients(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	env := envMap(map[string]string{"RTORRENT_HOST": "seed.local"})
	c, err := load(dir, env)
	require.NoError(err)
	require.Len(c.Clients, 1)

	// A user edit diverges the entry from the environment; it must persist.
	c.Clients[0].Port = 5001
	require.NoError(c.save(dir, env))

	raw, err := ioutil.ReadFile(filepath.Join(dir, FileName))
	require.NoError(err)
	require.Contains(string(raw), "seed.local")
	require.Contains(string(raw), "5001")
}

func TestSaveRoundTrip(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	c, err := load(dir, noEnv)
	require.NoError(err)
	c.FirstRunCompleted = true
	c.Clients = append(c.Clients, ClientConfig{
		Type:    core.TypeAmule,
		Enabled: true,
		Host:    "nas.local",
		Port:    4712,
	})
	require.NoError(c.save(dir, noEnv))

	again, err := load(dir, noEnv)
	require.NoError(err)
	require.True(again.FirstRunCompleted)
	require.Len(again.Clients, 1)
	require.Equal("amule-nas.local-4712", again.Clients[0].ID)

	// Saved with pretty indentation.
	raw, err := ioutil.ReadFile(filepath.Join(dir, FileName))
	require.NoError(err)
	require.Contains(string(raw), "\n  \"version\"")

	fi, err := os.Stat(filepath.Join(dir, FileName))
	require.NoError(err)
	require.Equal(os.FileMode(0600), fi.Mode().Perm())
}
