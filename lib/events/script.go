package events

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"time"

	"github.com/peerhub/peerhub/utils/log"
)

// ScriptSink runs a configured shell command per event type. The event is
// passed through the environment, never interpolated into the command line.
// Publish never blocks: every run happens on its own goroutine with a hard
// timeout.
type ScriptSink struct {
	scripts map[string]string
	timeout time.Duration
}

// NewScriptSink creates a ScriptSink over an event-type-to-command map.
func NewScriptSink(scripts map[string]string, timeout time.Duration) *ScriptSink {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ScriptSink{scripts: scripts, timeout: timeout}
}

// Publish runs the command bound to e's type, if any.
func (s *ScriptSink) Publish(e Event) {
	command, ok := s.scripts[e.Type]
	if !ok || command == "" {
		return
	}
	go s.run(command, e)
}

func (s *ScriptSink) run(command string, e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	data, err := json.Marshal(e.Data)
	if err != nil {
		log.With("event", e.Type).Errorf("Marshal event data: %s", err)
		data = []byte("null")
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Env = append(os.Environ(),
		"PEERHUB_EVENT_TYPE="+e.Type,
		"PEERHUB_EVENT_DATA="+string(data),
		"PEERHUB_EVENT_AT="+e.At.Format(time.RFC3339),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		log.With("event", e.Type, "output", string(out)).
			Errorf("Event script: %s", err)
	}
}
