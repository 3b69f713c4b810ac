// Package scheduler drives the periodic fetch tick and the daily cleanup
// jobs. Ticks run sequentially on a single loop: a slow tick delays the
// next one rather than overlapping it.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/robfig/cron"
	"github.com/uber-go/tally"

	"github.com/peerhub/peerhub/utils/log"
)

// Config defines Scheduler configuration.
type Config struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	TickTimeout     time.Duration `yaml:"tick_timeout"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
}

func (c Config) applyDefaults() Config {
	if c.TickInterval == 0 {
		c.TickInterval = 3 * time.Second
	}
	if c.TickTimeout == 0 {
		c.TickTimeout = time.Minute
	}
	if c.CleanupSchedule == "" {
		c.CleanupSchedule = "0 0 3 * * *"
	}
	return c
}

// Tick is the work performed each interval.
type Tick func(ctx context.Context) error

// Cleanup is a named maintenance job run on the daily schedule. It reports
// how many rows it removed.
type Cleanup struct {
	Name string
	Run  func() (int64, error)
}

// Scheduler runs the tick loop and the cron cleanups.
type Scheduler struct {
	config   Config
	stats    tally.Scope
	clk      clock.Clock
	tick     Tick
	cleanups []Cleanup
	cron     *cron.Cron

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates a Scheduler. Start begins execution.
func New(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	tick Tick,
	cleanups ...Cleanup) *Scheduler {

	return &Scheduler{
		config:   config.applyDefaults(),
		stats:    stats.Tagged(map[string]string{"module": "scheduler"}),
		clk:      clk,
		tick:     tick,
		cleanups: cleanups,
		cron:     cron.New(),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop and schedules the cleanups.
func (s *Scheduler) Start() error {
	var err error
	s.startOnce.Do(func() {
		if addErr := s.cron.AddFunc(s.config.CleanupSchedule, s.runCleanups); addErr != nil {
			err = fmt.Errorf("add cleanup job: %s", addErr)
			return
		}
		s.cron.Start()
		s.wg.Add(1)
		go s.tickLoop()
	})
	return err
}

// Stop halts the tick loop and the cron runner. It blocks until an in-flight
// tick finishes.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.cron.Stop()
	})
	s.wg.Wait()
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := s.clk.Ticker(s.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.runTick()
		}
	}
}

func (s *Scheduler) runTick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.TickTimeout)
	defer cancel()

	timer := s.stats.Timer("tick").Start()
	err := s.tick(ctx)
	timer.Stop()
	if err != nil {
		s.stats.Counter("tick_failure").Inc(1)
		log.Errorf("Scheduler tick: %s", err)
		return
	}
	s.stats.Counter("tick_success").Inc(1)
}

// RunCleanupsNow executes the cleanup jobs outside the daily schedule.
func (s *Scheduler) RunCleanupsNow() {
	s.runCleanups()
}

func (s *Scheduler) runCleanups() {
	for _, c := range s.cleanups {
		n, err := c.Run()
		if err != nil {
			s.stats.Counter("cleanup_failure").Inc(1)
			log.With("job", c.Name).Errorf("Cleanup: %s", err)
			continue
		}
		if n > 0 {
			log.With("job", c.Name).Infof("Cleanup removed %d rows", n)
		}
	}
}
