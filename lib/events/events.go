// Package events fans application events out to subscribed sinks. The
// websocket hub subscribes to push change notices to connected clients.
package events

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/peerhub/peerhub/core"
)

// Event types.
const (
	TypeDownloadAdded   = "downloadAdded"
	TypeFileMoved       = "fileMoved"
	TypeFileDeleted     = "fileDeleted"
	TypeCategoryChanged = "categoryChanged"
	TypeHistoryCleared  = "historyCleared"
	TypeSearchStarted   = "searchStarted"
	TypeSearchStopped   = "searchStopped"
	TypeInstanceStatus  = "instanceStatus"
)

// Event is a single application event.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	At   time.Time   `json:"at"`
}

// Sink receives published events. Publish must not block: slow consumers
// drop events rather than stalling the dispatcher.
type Sink interface {
	Publish(e Event)
}

// Dispatcher routes events to all subscribed sinks.
type Dispatcher struct {
	clk clock.Clock

	mu    sync.RWMutex
	sinks map[int]Sink
	next  int
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(clk clock.Clock) *Dispatcher {
	return &Dispatcher{clk: clk, sinks: make(map[int]Sink)}
}

// Subscribe registers s and returns a function removing the subscription.
func (d *Dispatcher) Subscribe(s Sink) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.next
	d.next++
	d.sinks[id] = s
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.sinks, id)
	}
}

// Publish stamps e and delivers it to every subscribed sink.
func (d *Dispatcher) Publish(e Event) {
	if e.At.IsZero() {
		e.At = d.clk.Now()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.sinks {
		s.Publish(e)
	}
}

// DownloadAdded reports a new download on an instance.
func (d *Dispatcher) DownloadAdded(instanceID, key string) {
	d.Publish(Event{Type: TypeDownloadAdded, Data: map[string]string{
		"instanceId": instanceID,
		"fileHash":   key,
	}})
}

// FileMoved satisfies the move manager's event hook.
func (d *Dispatcher) FileMoved(op *core.MoveOperation) {
	d.Publish(Event{Type: TypeFileMoved, Data: op})
}

// FileDeleted reports a removed download.
func (d *Dispatcher) FileDeleted(key string, withData bool) {
	d.Publish(Event{Type: TypeFileDeleted, Data: map[string]interface{}{
		"fileHash": key,
		"withData": withData,
	}})
}

// CategoryChanged reports category create, update, rename or delete.
func (d *Dispatcher) CategoryChanged(name string) {
	d.Publish(Event{Type: TypeCategoryChanged, Data: map[string]string{
		"name": name,
	}})
}

// HistoryCleared reports a wiped download history.
func (d *Dispatcher) HistoryCleared() {
	d.Publish(Event{Type: TypeHistoryCleared})
}

// InstanceStatus reports an instance connecting or disconnecting.
func (d *Dispatcher) InstanceStatus(instanceID string, connected bool) {
	d.Publish(Event{Type: TypeInstanceStatus, Data: map[string]interface{}{
		"instanceId": instanceID,
		"connected":  connected,
	}})
}
