package scenesync

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// DefaultPublishInterval is the synchronization period when none is configured.
const DefaultPublishInterval = 50 * time.Second

// SchedulerStatus describes the periodic sync loop.
type SchedulerStatus struct {
	Interval time.Duration
	Runs     uint64
	LastRun  time.Time
	Last     SyncResult
}

// Scheduler runs a sync pass periodically and on demand.
type Scheduler struct {
	run    func(ctx context.Context) SyncResult
	logger logging.Logger

	reset   chan struct{}
	trigger chan struct{}
	workers *utils.StoppableWorkers

	mu       sync.Mutex
	interval time.Duration
	runs     uint64
	lastRun  time.Time
	last     SyncResult
}

// NewScheduler returns a stopped scheduler. A non-positive interval falls back
// to DefaultPublishInterval.
func NewScheduler(interval time.Duration, run func(ctx context.Context) SyncResult, logger logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	return &Scheduler{
		run:      run,
		logger:   logger,
		reset:    make(chan struct{}, 1),
		trigger:  make(chan struct{}, 1),
		interval: interval,
	}
}

// Start launches the background loop. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workers != nil {
		return
	}
	s.workers = utils.NewBackgroundStoppableWorkers(s.loop)
}

// Close stops the loop and waits for an in-flight pass to observe cancellation.
func (s *Scheduler) Close() {
	s.mu.Lock()
	workers := s.workers
	s.mu.Unlock()
	if workers != nil {
		workers.Stop()
	}
}

// SetInterval changes the period. The new period takes effect without waiting
// for the current tick.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return errors.Errorf("publish interval must be positive, got %s", d)
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
	select {
	case s.reset <- struct{}{}:
	default:
	}
	return nil
}

// Interval returns the current period.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Trigger requests an immediate pass. Requests made while one is pending
// coalesce.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// RunOnce performs a pass on the caller's goroutine and records it.
func (s *Scheduler) RunOnce(ctx context.Context) SyncResult {
	res := s.run(ctx)
	s.mu.Lock()
	s.runs++
	s.lastRun = time.Now()
	s.last = res
	s.mu.Unlock()
	if res.Err != nil {
		s.logger.Warnf("sync pass finished with errors: %v", res.Err)
	} else {
		s.logger.Debugf("sync pass: %d added, %d moved, %d held, %d filtered",
			len(res.Added), len(res.Moved), len(res.Held), len(res.Filtered))
	}
	return res
}

// Status returns loop counters.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStatus{Interval: s.interval, Runs: s.runs, LastRun: s.lastRun, Last: s.last}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.reset:
			ticker.Reset(s.Interval())
		case <-s.trigger:
			s.RunOnce(ctx)
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
