package events

import (
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"github.com/peerhub/peerhub/core"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestDispatcherFanOut(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	d := NewDispatcher(clk)

	a := &recordingSink{}
	b := &recordingSink{}
	d.Subscribe(a)
	unsubscribeB := d.Subscribe(b)

	d.DownloadAdded("amule-host-4712", "amule-host-4712:ab12")
	require.Len(a.all(), 1)
	require.Len(b.all(), 1)
	require.Equal(TypeDownloadAdded, a.all()[0].Type)
	require.Equal(clk.Now(), a.all()[0].At)

	unsubscribeB()
	d.HistoryCleared()
	require.Len(a.all(), 2)
	require.Len(b.all(), 1)
}

func TestDispatcherFileMovedCarriesOperation(t *testing.T) {
	require := require.New(t)

	d := NewDispatcher(clock.NewMock())
	s := &recordingSink{}
	d.Subscribe(s)

	op := &core.MoveOperation{CompoundKey: "rtorrent-host-443:ff00", Status: core.MoveDone}
	d.FileMoved(op)

	got := s.all()
	require.Len(got, 1)
	require.Equal(TypeFileMoved, got[0].Type)
	require.Equal(op, got[0].Data)
}

func TestDispatcherNoSinks(t *testing.T) {
	d := NewDispatcher(clock.NewMock())
	d.FileDeleted("amule-host-4712:ab12", true)
}
