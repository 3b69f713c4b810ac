package adapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/atomic"

	"github.com/peerhub/peerhub/core"
	"github.com/peerhub/peerhub/utils/log"
)

// ErrConnectionInProgress is returned by Init when another caller is already
// connecting. Callers treat it as a successful early return.
var ErrConnectionInProgress = errors.New("connection already in progress")

const (
	_reconnectInterval = 30 * time.Second
	_shutdownWait      = 5 * time.Second
)

// Base implements the identity and connection lifecycle shared by all
// adapters. Concrete adapters embed it and provide the dial function.
type Base struct {
	mu          sync.Mutex
	instanceID  string
	typ         core.ClientType
	displayName string

	enabled    atomic.Bool
	connected  atomic.Bool
	connecting atomic.Bool

	inflight sync.WaitGroup

	shutdownOnce sync.Once
	done         chan struct{}
}

// NewBase creates a Base in the enabled, disconnected state.
func NewBase() *Base {
	b := &Base{done: make(chan struct{})}
	b.enabled.Store(true)
	return b
}

// AttachIdentity records the identity triplet so downstream code can log it.
// Called by the registry on register.
func (b *Base) AttachIdentity(instanceID string, t core.ClientType, displayName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instanceID = instanceID
	b.typ = t
	b.displayName = displayName
}

// DetachIdentity clears the identity triplet. Called by the registry on
// unregister.
func (b *Base) DetachIdentity() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instanceID = ""
	b.displayName = ""
}

// InstanceID returns the attached instance id.
func (b *Base) InstanceID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.instanceID
}

// Type returns the attached client type.
func (b *Base) Type() core.ClientType {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.typ
}

// DisplayName returns the attached display name.
func (b *Base) DisplayName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.displayName
}

// IsConnected returns whether the backend connection is up.
func (b *Base) IsConnected() bool {
	return b.connected.Load()
}

// IsEnabled returns whether the instance is administratively enabled.
func (b *Base) IsEnabled() bool {
	return b.enabled.Load()
}

// SetEnabled flips the administrative state. Disabling marks the instance
// disconnected.
func (b *Base) SetEnabled(enabled bool) {
	b.enabled.Store(enabled)
	if !enabled {
		b.connected.Store(false)
	}
}

// SetConnected records the connection state.
func (b *Base) SetConnected(connected bool) {
	b.connected.Store(connected)
}

// GuardInit wraps a dial function with the connectionInProgress guard: if a
// connect is already underway the call returns ErrConnectionInProgress
// immediately, making Init idempotent against concurrent callers.
func (b *Base) GuardInit(dial func() error) error {
	if !b.enabled.Load() {
		return errors.New("instance disabled")
	}
	if b.connected.Load() {
		return nil
	}
	if !b.connecting.CAS(false, true) {
		return ErrConnectionInProgress
	}
	b.inflight.Add(1)
	defer func() {
		b.connecting.Store(false)
		b.inflight.Done()
	}()

	if b.Closed() {
		return errors.New("adapter shut down")
	}
	if err := dial(); err != nil {
		b.connected.Store(false)
		return err
	}
	b.connected.Store(true)
	return nil
}

// Closed returns true once Shutdown has been called.
func (b *Base) Closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Done exposes the shutdown channel to adapter background loops.
func (b *Base) Done() <-chan struct{} {
	return b.done
}

// Shutdown stops background work and waits for any in-flight connect to
// settle, bounded by a few seconds.
func (b *Base) Shutdown() {
	b.shutdownOnce.Do(func() {
		close(b.done)
		settled := make(chan struct{})
		go func() {
			b.inflight.Wait()
			close(settled)
		}()
		select {
		case <-settled:
		case <-time.After(_shutdownWait):
			log.With("instance", b.InstanceID()).Warn("Shutdown proceeding with connect still in flight")
		}
		b.connected.Store(false)
	})
}

// ScheduleReconnect runs init on a fixed interval until it succeeds or the
// adapter shuts down. Safe to call from a fetch path after a transport error;
// concurrent schedules collapse through the init guard.
func (b *Base) ScheduleReconnect(init func(ctx context.Context) error) {
	go func() {
		policy := backoff.NewConstantBackOff(_reconnectInterval)
		for {
			select {
			case <-b.done:
				return
			case <-time.After(policy.NextBackOff()):
			}
			if !b.enabled.Load() {
				return
			}
			if b.connected.Load() {
				return
			}
			err := init(context.Background())
			if err == nil || err == ErrConnectionInProgress {
				return
			}
			log.With("instance", b.InstanceID()).Infof("Reconnect failed, retrying: %s", err)
		}
	}()
}
