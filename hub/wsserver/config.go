package wsserver

import (
	"time"

	"github.com/peerhub/peerhub/lib/auth"
)

// SessionCookie is the signed session cookie name.
const SessionCookie = auth.SessionCookie

// CloseSessionInvalid is the close code sent when a connection's session is
// destroyed while the socket is open.
const CloseSessionInvalid = 4001

// Config defines Server configuration.
type Config struct {
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	ValidationInterval time.Duration `yaml:"validation_interval"`
	OutboundBuffer     int           `yaml:"outbound_buffer"`
	InboundRate        float64       `yaml:"inbound_rate"`
	InboundBurst       int           `yaml:"inbound_burst"`
	BatchLimit         int           `yaml:"batch_limit"`
	CachedBatchMaxAge  time.Duration `yaml:"cached_batch_max_age"`
	RefreshSharedDelay time.Duration `yaml:"refresh_shared_delay"`
	ActionTimeout      time.Duration `yaml:"action_timeout"`

	// AuthDisabled treats every connection as an admin.
	AuthDisabled bool `yaml:"auth_disabled"`
}

func (c Config) applyDefaults() Config {
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ValidationInterval == 0 {
		c.ValidationInterval = 5 * time.Minute
	}
	if c.OutboundBuffer == 0 {
		c.OutboundBuffer = 64
	}
	if c.InboundRate == 0 {
		c.InboundRate = 20
	}
	if c.InboundBurst == 0 {
		c.InboundBurst = 40
	}
	if c.BatchLimit == 0 {
		c.BatchLimit = 1000
	}
	if c.CachedBatchMaxAge == 0 {
		c.CachedBatchMaxAge = time.Minute
	}
	if c.RefreshSharedDelay == 0 {
		c.RefreshSharedDelay = 500 * time.Millisecond
	}
	if c.ActionTimeout == 0 {
		c.ActionTimeout = 2 * time.Minute
	}
	return c
}
