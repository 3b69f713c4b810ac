package moveop

import "time"

// Config defines Manager configuration.
type Config struct {
	NumWorkers          int           `yaml:"num_workers"`
	QueueSize           int           `yaml:"queue_size"`
	RetryInterval       time.Duration `yaml:"retry_interval"`
	PollRetriesInterval time.Duration `yaml:"poll_retries_interval"`
	TaskTimeout         time.Duration `yaml:"task_timeout"`

	// Native move polling, for clients which relocate data themselves.
	NativeMovePollInterval time.Duration `yaml:"native_move_poll_interval"`
	NativeMovePollTimeout  time.Duration `yaml:"native_move_poll_timeout"`
}

func (c Config) applyDefaults() Config {
	if c.NumWorkers == 0 {
		c.NumWorkers = 2
	}
	if c.QueueSize == 0 {
		c.QueueSize = 100
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 5 * time.Minute
	}
	if c.PollRetriesInterval == 0 {
		c.PollRetriesInterval = 30 * time.Second
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = 30 * time.Minute
	}
	if c.NativeMovePollInterval == 0 {
		c.NativeMovePollInterval = 2 * time.Second
	}
	if c.NativeMovePollTimeout == 0 {
		c.NativeMovePollTimeout = 2 * time.Minute
	}
	return c
}
