package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/peerhub/peerhub/utils/testutil"
)

type tickRecorder struct {
	mu    sync.Mutex
	count int
	errs  []error
}

func (r *tickRecorder) tick(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return err
	}
	return nil
}

func (r *tickRecorder) ticks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func TestSchedulerTicksSequentially(t *testing.T) {
	require := require.New(t)

	r := &tickRecorder{}
	s := New(Config{TickInterval: 5 * time.Millisecond}, tally.NoopScope,
		clock.New(), r.tick)
	require.NoError(s.Start())
	defer s.Stop()

	require.NoError(testutil.PollUntilTrue(5*time.Second, func() bool {
		return r.ticks() >= 3
	}))
}

func TestSchedulerContinuesAfterTickError(t *testing.T) {
	require := require.New(t)

	r := &tickRecorder{errs: []error{errors.New("backend down")}}
	s := New(Config{TickInterval: 5 * time.Millisecond}, tally.NoopScope,
		clock.New(), r.tick)
	require.NoError(s.Start())
	defer s.Stop()

	// The failing first tick does not stop the loop.
	require.NoError(testutil.PollUntilTrue(5*time.Second, func() bool {
		return r.ticks() >= 2
	}))
}

func TestSchedulerStopHaltsTicks(t *testing.T) {
	require := require.New(t)

	r := &tickRecorder{}
	s := New(Config{TickInterval: 5 * time.Millisecond}, tally.NoopScope,
		clock.New(), r.tick)
	require.NoError(s.Start())
	s.Stop()

	n := r.ticks()
	time.Sleep(50 * time.Millisecond)
	require.Equal(n, r.ticks())
}

func TestSchedulerRunsCleanups(t *testing.T) {
	require := require.New(t)

	var mu sync.Mutex
	var ran []string
	cleanup := func(name string, err error) Cleanup {
		return Cleanup{Name: name, Run: func() (int64, error) {
			mu.Lock()
			defer mu.Unlock()
			ran = append(ran, name)
			return 1, err
		}}
	}

	r := &tickRecorder{}
	s := New(Config{TickInterval: time.Hour}, tally.NoopScope, clock.New(),
		r.tick,
		cleanup("metrics", nil),
		cleanup("sessions", errors.New("locked")),
		cleanup("history", nil))
	require.NoError(s.Start())
	defer s.Stop()

	s.RunCleanupsNow()

	mu.Lock()
	defer mu.Unlock()
	// A failing job does not skip the ones after it.
	require.Equal([]string{"metrics", "sessions", "history"}, ran)
}

func TestSchedulerRejectsBadCleanupSchedule(t *testing.T) {
	s := New(Config{CleanupSchedule: "not a schedule"}, tally.NoopScope,
		clock.New(), (&tickRecorder{}).tick)
	require.Error(t, s.Start())
}
