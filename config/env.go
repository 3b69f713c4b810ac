package config

import (
	"strconv"
	"strings"

	"github.com/peerhub/peerhub/core"
)

// envVar binds one environment variable to a config field. kind is one of
// int, bool, string, csv. Sensitive variables always win over the file;
// non-sensitive ones only seed defaults before the file is overlaid.
type envVar struct {
	name      string
	kind      string
	sensitive bool
	apply     func(c *Config, v interface{})
}

var _envTable = []envVar{
	{"PEERHUB_HOST", "string", false,
		func(c *Config, v interface{}) { c.Server.Host = v.(string) }},
	{"PEERHUB_PORT", "int", false,
		func(c *Config, v interface{}) { c.Server.Port = v.(int) }},
	{"PEERHUB_AUTH_ENABLED", "bool", false,
		func(c *Config, v interface{}) { c.Server.Auth.Enabled = v.(bool) }},
	{"PEERHUB_AUTH_PASSWORD", "string", true,
		func(c *Config, v interface{}) { c.Server.Auth.Password = v.(string) }},
	{"PEERHUB_SESSION_SECRET", "string", true,
		func(c *Config, v interface{}) { c.Server.Auth.SessionSecret = v.(string) }},
	{"PEERHUB_ADMIN_USERNAME", "string", false,
		func(c *Config, v interface{}) { c.Server.Auth.AdminUsername = v.(string) }},
	{"PEERHUB_TRUSTED_PROXIES", "csv", false,
		func(c *Config, v interface{}) {
			c.Server.Auth.TrustedProxy.Proxies = v.([]string)
			c.Server.Auth.TrustedProxy.Enabled = len(v.([]string)) > 0
		}},
	{"PEERHUB_LOG_DIR", "string", false,
		func(c *Config, v interface{}) { c.Directories.Logs = v.(string) }},
	{"PEERHUB_GEOIP_DIR", "string", false,
		func(c *Config, v interface{}) { c.Directories.GeoIP = v.(string) }},
	{"PEERHUB_HISTORY_ENABLED", "bool", false,
		func(c *Config, v interface{}) { c.History.Enabled = v.(bool) }},
	{"PEERHUB_HISTORY_RETENTION_DAYS", "int", false,
		func(c *Config, v interface{}) { c.History.RetentionDays = v.(int) }},
}

func applyEnv(c *Config, lookup func(string) (string, bool), sensitive bool) error {
	for _, v := range _envTable {
		if v.sensitive != sensitive {
			continue
		}
		raw, ok := lookup(v.name)
		if !ok || raw == "" {
			continue
		}
		parsed, err := parseEnv(v.kind, raw)
		if err != nil {
			return errorf("env %s: %s", v.name, err)
		}
		v.apply(c, parsed)
	}
	return nil
}

func parseEnv(kind, raw string) (interface{}, error) {
	switch kind {
	case "int":
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errorf("not an integer: %q", raw)
		}
		return n, nil
	case "bool":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errorf("not a boolean: %q", raw)
		}
		return b, nil
	case "csv":
		parts := strings.Split(raw, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return []string(out), nil
	default:
		return raw, nil
	}
}

// envPrefixes maps client types to their bootstrap variable prefix.
var envPrefixes = map[core.ClientType]string{
	core.TypeAmule:       "AMULE",
	core.TypeQBittorrent: "QBITTORRENT",
	core.TypeRTorrent:    "RTORRENT",
}

func clientFromEnv(
	t core.ClientType, lookup func(string) (string, bool)) (ClientConfig, bool) {

	prefix := envPrefixes[t]
	host, ok := lookup(prefix + "_HOST")
	if !ok || host == "" {
		return ClientConfig{}, false
	}
	d := core.MustMeta(t).Defaults
	client := ClientConfig{
		Type:     t,
		Enabled:  true,
		Host:     host,
		Port:     d.Port,
		Username: d.Username,
		Source:   SourceEnv,
	}
	if raw, ok := lookup(prefix + "_PORT"); ok && raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			client.Port = n
		}
	}
	if username, ok := lookup(prefix + "_USERNAME"); ok && username != "" {
		client.Username = username
	}
	if password, ok := lookup(prefix + "_PASSWORD"); ok {
		client.Password = password
	}
	client.ID = core.GenerateInstanceID(t, client.Host, client.Port)
	return client, true
}

// bootstrapEnvClients merges environment-defined client instances into the
// client list. An env entry matching an existing instance (same
// type+host+port) only contributes its password; otherwise the whole entry
// is appended, marked source:"env".
func bootstrapEnvClients(c *Config, lookup func(string) (string, bool)) {
	for t := range envPrefixes {
		env, ok := clientFromEnv(t, lookup)
		if !ok {
			continue
		}
		merged := false
		for i := range c.Clients {
			existing := &c.Clients[i]
			if existing.Type == t && existing.Host == env.Host &&
				existing.Port == env.Port {

				if env.Password != "" {
					existing.Password = env.Password
				}
				merged = true
				break
			}
		}
		if !merged {
			c.Clients = append(c.Clients, env)
		}
	}
}

// matchesEnv reports whether an env-sourced entry still mirrors the current
// environment, in which case save drops it from the file.
func matchesEnv(client ClientConfig, lookup func(string) (string, bool)) bool {
	env, ok := clientFromEnv(client.Type, lookup)
	if !ok {
		return false
	}
	return client.Host == env.Host &&
		client.Port == env.Port &&
		client.Username == env.Username &&
		client.Password == env.Password
}
