// Package testutil provides small helpers shared by fixture-heavy tests.
package testutil

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

// PollUntilTrue polls f every 10ms until it returns true, failing after
// timeout. Used to wait on background goroutines without racing them.
func PollUntilTrue(timeout time.Duration, f func() bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("condition not met within %s", timeout)
}

// Cleanup accumulates fixture teardown functions.
type Cleanup struct {
	funcs []func()
}

// Add registers teardown functions.
func (c *Cleanup) Add(f ...func()) {
	c.funcs = append(c.funcs, f...)
}

// Run runs the registered functions in reverse registration order.
func (c *Cleanup) Run() {
	for i := len(c.funcs) - 1; i >= 0; i-- {
		c.funcs[i]()
	}
}

// StartServer serves h on an ephemeral localhost port. Returns the listen
// address and a stop closure.
func StartServer(h http.Handler) (addr string, stop func()) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		panic(err)
	}
	s := &http.Server{Handler: h}
	go s.Serve(l)
	return l.Addr().String(), func() { s.Close() }
}
