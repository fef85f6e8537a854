// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package labrador

import (
	"context"
	"fmt"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/hashicorp/labrador/helper"
	"github.com/hashicorp/labrador/labrador/structs"
)

// Task runs one pipeline iteration and returns the delay before the next
// invocation. Negative delays are treated as task failure.
type Task func(ctx context.Context) (time.Duration, error)

// Scheduler is the long-lived driver of the pipeline. It invokes its task,
// sleeps for whatever delay the task returned, and repeats until stopped.
// Task failures are absorbed: the scheduler logs, waits the error retry
// delay and continues. Only Stop terminates the loop.
type Scheduler struct {
	logger          hclog.Logger
	task            Task
	errorRetryDelay time.Duration

	mu           sync.Mutex
	running      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	taskCount    uint64
	startedAt    time.Time
	lastRanAt    time.Time
	totalRuntime time.Duration
}

// SchedulerStats is a point-in-time snapshot for operators.
type SchedulerStats struct {
	Running      bool          `json:"running"`
	TaskCount    uint64        `json:"taskCount"`
	StartedAt    time.Time     `json:"startedAt"`
	LastRanAt    time.Time     `json:"lastRanAt"`
	TotalRuntime time.Duration `json:"totalRuntime"`
}

// NewScheduler builds a scheduler around task. errorRetryDelay applies
// after a task error or an invalid delay.
func NewScheduler(task Task, errorRetryDelay time.Duration, logger hclog.Logger) *Scheduler {
	return &Scheduler{
		logger:          logger.Named("scheduler"),
		task:            task,
		errorRetryDelay: errorRetryDelay,
	}
}

// Start launches the timer loop. A second Start while running fails with
// ErrSchedulerRunning. The first iteration runs after a zero-delay hop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return structs.ErrSchedulerRunning
	}
	s.running = true
	s.startedAt = time.Now()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(s.stopCh, s.doneCh)
	s.logger.Info("scheduler started")
	return nil
}

// Stop cancels any pending wakeup and returns the scheduler to idle. An
// in-flight iteration is not cancelled; it completes first and its delay is
// discarded. Stopping an idle scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
	s.logger.Info("scheduler stopped")
}

// Running returns whether the loop is live.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats snapshots the scheduler counters.
func (s *Scheduler) Stats() *SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &SchedulerStats{
		Running:      s.running,
		TaskCount:    s.taskCount,
		StartedAt:    s.startedAt,
		LastRanAt:    s.lastRanAt,
		TotalRuntime: s.totalRuntime,
	}
}

// EmitStats publishes scheduler gauges until stopCh closes.
func (s *Scheduler) EmitStats(period time.Duration, stopCh <-chan struct{}) {
	timer, stop := helper.NewSafeTimer(period)
	defer stop()

	for {
		select {
		case <-timer.C:
			stats := s.Stats()
			metrics.SetGauge([]string{"labrador", "scheduler", "task_count"}, float32(stats.TaskCount))
			running := float32(0)
			if stats.Running {
				running = 1
			}
			metrics.SetGauge([]string{"labrador", "scheduler", "running"}, running)
			timer.Reset(period)
		case <-stopCh:
			return
		}
	}
}

// run owns the single-shot timer. Every path back to the top of the loop
// waits on the timer channel, so a zero delay is an asynchronous hop and
// never a tight loop.
func (s *Scheduler) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	timer, stop := helper.NewSafeTimer(0)
	defer stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}

		start := time.Now()
		delay, err := s.invoke()
		elapsed := time.Since(start)

		s.mu.Lock()
		s.taskCount++
		s.lastRanAt = start
		s.totalRuntime += elapsed
		s.mu.Unlock()

		metrics.MeasureSince([]string{"labrador", "scheduler", "task"}, start)

		if err != nil {
			s.logger.Error("task failed, retrying after error delay",
				"error", err, "retry_delay", s.errorRetryDelay)
			metrics.IncrCounter([]string{"labrador", "scheduler", "task_error"}, 1)
			delay = s.errorRetryDelay
		}

		select {
		case <-stopCh:
			return
		default:
		}
		timer.Reset(delay)
	}
}

// invoke shields the loop from the task: errors and panics both surface as
// ordinary failures, and a negative delay counts as one too.
func (s *Scheduler) invoke() (delay time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	delay, err = s.task(context.Background())
	if err != nil {
		return 0, err
	}
	if delay < 0 {
		return 0, fmt.Errorf("task returned invalid delay %s", delay)
	}
	return delay, nil
}
