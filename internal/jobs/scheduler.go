// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jobs provides a named periodic background job scheduler with
// retry-with-backoff and a connectivity precondition.
package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

// =============================================================================
// CONNECTIVITY
// =============================================================================

// ConnectivityTier orders network reachability levels.
type ConnectivityTier int

const (
	TierOffline ConnectivityTier = iota
	TierCellular
	TierWiFi
)

// Connectivity reports the current network reachability tier. The host
// platform supplies the real implementation.
type Connectivity interface {
	Tier() ConnectivityTier
}

// AlwaysOnline is the default Connectivity for environments without a
// reachability signal.
type AlwaysOnline struct{}

func (AlwaysOnline) Tier() ConnectivityTier { return TierWiFi }

// =============================================================================
// JOB DEFINITION
// =============================================================================

// Retry tuning for failed runs.
const (
	retryBaseDelay  = 2 * time.Second
	retryMaxDelay   = 3600 * time.Second
	defaultMaxTries = 10
)

// Job is one named periodic unit of work.
type Job struct {
	// ID identifies the job. Scheduling a job cancels any pending job with
	// the same id first.
	ID string

	// Period between successful (or exhausted) runs. The first run happens
	// immediately on scheduling.
	Period time.Duration

	// MinTier is the minimum connectivity required before attempting a run.
	MinTier ConnectivityTier

	// MaxAttempts bounds retries per scheduled run (default 10).
	MaxAttempts int

	// Run performs the work.
	Run func(ctx context.Context) error
}

// =============================================================================
// SCHEDULER
// =============================================================================

// Scheduler owns the background jobs. One goroutine per job; all of them
// stop on Stop.
type Scheduler struct {
	conn Connectivity

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler using the given connectivity source
// (AlwaysOnline when nil).
func NewScheduler(conn Connectivity) *Scheduler {
	if conn == nil {
		conn = AlwaysOnline{}
	}
	return &Scheduler{conn: conn, cancels: make(map[string]context.CancelFunc)}
}

// Schedule registers the job and starts its loop: one immediate run, then
// one run per period. A pending job with the same id is cancelled first.
func (s *Scheduler) Schedule(job Job) {
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = defaultMaxTries
	}

	s.mu.Lock()
	if cancel, ok := s.cancels[job.ID]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancels[job.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(ctx, job)
	}()
	log.Printf("[Jobs] scheduled %q every %s", job.ID, job.Period)
}

// Cancel stops a scheduled job.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
}

// Stop cancels every job and waits for their loops to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// runLoop executes the job immediately, then on every period tick.
func (s *Scheduler) runLoop(ctx context.Context, job Job) {
	s.attempt(ctx, job)

	ticker := time.NewTicker(job.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.attempt(ctx, job)
		}
	}
}

// attempt runs the job with exponential backoff retries. After MaxAttempts
// failures the run is abandoned until the next scheduled period.
func (s *Scheduler) attempt(ctx context.Context, job Job) {
	for try := 0; try < job.MaxAttempts; try++ {
		if try > 0 {
			delay := backoffDelay(try - 1)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		if s.conn.Tier() < job.MinTier {
			log.Printf("[Jobs] %q waiting for connectivity (attempt %d)", job.ID, try+1)
			continue
		}

		err := job.Run(ctx)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Printf("[Jobs] %q attempt %d failed: %v", job.ID, try+1, err)
	}
	log.Printf("[Jobs] %q gave up after %d attempts, deferring to next period", job.ID, job.MaxAttempts)
}

// backoffDelay returns the exponential backoff delay for a retry: 2s, 4s,
// 8s, ... capped at one hour.
func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay || delay <= 0 {
		delay = retryMaxDelay
	}
	return delay
}
