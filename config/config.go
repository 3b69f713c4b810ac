// Package config loads, validates and persists config.json, the single
// runtime configuration document at the data-dir root. Precedence is fixed:
// defaults fill gaps, config.json overrides non-sensitive defaults, and the
// environment always wins for sensitive fields (passwords, API keys,
// secrets). Client instances may also be bootstrapped entirely from
// environment variables; those entries are marked source:"env" and stripped
// again on save while they still match the environment.
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/peerhub/peerhub/core"
)

// FileName is the config document name under the data dir.
const FileName = "config.json"

// SourceEnv marks a client entry bootstrapped from environment variables.
const SourceEnv = "env"

// Error is a fatal configuration problem. Startup aborts on it.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func errorf(format string, args ...interface{}) *Error {
	return &Error{fmt.Sprintf(format, args...)}
}

// Config is the parsed config.json document.
type Config struct {
	Version           int             `json:"version"`
	FirstRunCompleted bool            `json:"firstRunCompleted"`
	Server            ServerConfig    `json:"server"`
	Clients           []ClientConfig  `json:"clients"`
	Directories       DirectoryConfig `json:"directories"`
	Integrations      Integrations    `json:"integrations"`
	History           HistoryConfig   `json:"history"`
	EventScripting    EventScripting  `json:"eventScripting"`
}

// ServerConfig configures the listener and authentication.
type ServerConfig struct {
	Host string     `json:"host"`
	Port int        `json:"port"`
	Auth AuthConfig `json:"auth"`
}

// AuthConfig configures session authentication.
type AuthConfig struct {
	Enabled       bool               `json:"enabled"`
	Password      string             `json:"password,omitempty"`
	SessionSecret string             `json:"sessionSecret,omitempty"`
	AdminUsername string             `json:"adminUsername"`
	TrustedProxy  TrustedProxyConfig `json:"trustedProxy"`
}

// TrustedProxyConfig configures client-IP extraction behind reverse proxies.
type TrustedProxyConfig struct {
	Enabled bool     `json:"enabled"`
	Header  string   `json:"header,omitempty"`
	Proxies []string `json:"proxies,omitempty"`
}

// ClientConfig is one download client instance.
type ClientConfig struct {
	ID          string          `json:"id"`
	Type        core.ClientType `json:"type"`
	DisplayName string          `json:"displayName,omitempty"`
	Enabled     bool            `json:"enabled"`
	Host        string          `json:"host"`
	Port        int             `json:"port"`
	Username    string          `json:"username,omitempty"`
	Password    string          `json:"password,omitempty"`

	// Source records where the entry came from; entries marked SourceEnv
	// are re-derived from the environment at every load.
	Source string `json:"source,omitempty"`
}

// DirectoryConfig locates the writable directories.
type DirectoryConfig struct {
	Data  string `json:"data"`
	Logs  string `json:"logs"`
	GeoIP string `json:"geoip,omitempty"`
}

// Integrations toggles the compatibility surfaces.
type Integrations struct {
	TorznabEnabled     bool `json:"torznabEnabled"`
	WebUICompatEnabled bool `json:"webuiCompatEnabled"`
}

// HistoryConfig configures download history retention.
type HistoryConfig struct {
	Enabled       bool `json:"enabled"`
	RetentionDays int  `json:"retentionDays"`
}

// EventScripting maps event types to external commands.
type EventScripting struct {
	Enabled bool              `json:"enabled"`
	Scripts map[string]string `json:"scripts,omitempty"`
}

func defaults() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
			Auth: AuthConfig{
				Enabled:       true,
				AdminUsername: "admin",
			},
		},
		Integrations: Integrations{
			TorznabEnabled:     true,
			WebUICompatEnabled: true,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 180,
		},
	}
}

// Load reads config.json from dataDir, overlaying defaults and applying the
// environment per the precedence table. A missing file yields the default
// configuration (still subject to environment overrides).
func Load(dataDir string) (*Config, error) {
	return load(dataDir, os.LookupEnv)
}

func load(dataDir string, lookup func(string) (string, bool)) (*Config, error) {
	c := defaults()
	c.Directories.Data = dataDir

	if err := applyEnv(c, lookup, false); err != nil {
		return nil, err
	}
	path := filepath.Join(dataDir, FileName)
	raw, err := ioutil.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %s", path, err)
	}
	if err == nil {
		if err := json.Unmarshal(raw, c); err != nil {
			return nil, errorf("parse %s: %s", path, err)
		}
	}
	if err := applyEnv(c, lookup, true); err != nil {
		return nil, err
	}
	bootstrapEnvClients(c, lookup)

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes the document back under dataDir with pretty indentation.
// Env-sourced client entries whose fields still equal the current
// environment are stripped, so they re-derive at next load and the file
// never captures secrets the environment already holds.
func (c *Config) Save(dataDir string) error {
	return c.save(dataDir, os.LookupEnv)
}

func (c *Config) save(dataDir string, lookup func(string) (string, bool)) error {
	out := *c
	out.Clients = nil
	for _, client := range c.Clients {
		if client.Source == SourceEnv && matchesEnv(client, lookup) {
			continue
		}
		out.Clients = append(out.Clients, client)
	}
	raw, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %s", err)
	}
	path := filepath.Join(dataDir, FileName)
	tmp := path + ".tmp"
	if err := ioutil.WriteFile(tmp, append(raw, '\n'), 0600); err != nil {
		return fmt.Errorf("write %s: %s", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename: %s", err)
	}
	return nil
}

// validate rejects configurations that cannot start: unknown client types,
// enabled clients without a host, and duplicate instances (same
// type+host+port).
func (c *Config) validate() error {
	seen := make(map[string]string)
	for i := range c.Clients {
		client := &c.Clients[i]
		if !core.ValidType(client.Type) {
			return errorf("client %d: unknown type %q", i, client.Type)
		}
		if client.Port == 0 {
			client.Port = core.MustMeta(client.Type).Defaults.Port
		}
		if client.Enabled && client.Host == "" {
			return errorf("client %s: enabled but no host configured", client.Type)
		}
		if client.ID == "" {
			client.ID = core.GenerateInstanceID(client.Type, client.Host, client.Port)
		}
		identity := fmt.Sprintf("%s/%s/%d", client.Type, client.Host, client.Port)
		if prev, ok := seen[identity]; ok {
			return errorf(
				"duplicate client instance %s (entries %s and %s)",
				identity, prev, client.ID)
		}
		seen[identity] = client.ID
	}
	if c.History.RetentionDays < 0 {
		return errorf("history retention days must be >= 0")
	}
	return nil
}
