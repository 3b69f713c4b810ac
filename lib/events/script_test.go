package events

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peerhub/peerhub/utils/testutil"
)

func TestScriptSinkRunsBoundCommand(t *testing.T) {
	require := require.New(t)

	out := filepath.Join(t.TempDir(), "events.log")
	sink := NewScriptSink(map[string]string{
		TypeFileDeleted: `echo "$PEERHUB_EVENT_TYPE $PEERHUB_EVENT_DATA" >> ` + out,
	}, 5*time.Second)

	sink.Publish(Event{
		Type: TypeFileDeleted,
		Data: map[string]bool{"withData": true},
		At:   time.Now(),
	})

	require.NoError(testutil.PollUntilTrue(5*time.Second, func() bool {
		raw, err := ioutil.ReadFile(out)
		return err == nil && len(raw) > 0
	}))
	raw, err := ioutil.ReadFile(out)
	require.NoError(err)
	require.True(strings.HasPrefix(string(raw), TypeFileDeleted+" "))
	require.Contains(string(raw), `"withData":true`)
}

func TestScriptSinkIgnoresUnboundEvents(t *testing.T) {
	out := filepath.Join(t.TempDir(), "events.log")
	sink := NewScriptSink(map[string]string{
		TypeFileDeleted: "echo deleted >> " + out,
	}, 5*time.Second)

	sink.Publish(Event{Type: TypeDownloadAdded, At: time.Now()})

	time.Sleep(50 * time.Millisecond)
	_, err := os.Stat(out)
	require.True(t, os.IsNotExist(err))
}
