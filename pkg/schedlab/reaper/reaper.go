// Package reaper waits for worker processes and harvests their resource
// accounting.
package reaper

import (
	"fmt"
	"sync"

	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
	"github.com/jamesainslie/schedlab/pkg/schedlab/monoclock"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

// Reaper tracks outstanding workers and reaps each exactly once.
type Reaper struct {
	platform sysproc.Platform
	clock    monoclock.Clock

	mu          sync.Mutex
	outstanding map[int]types.WorkerHandle
}

// New returns a Reaper.
func New(platform sysproc.Platform, clock monoclock.Clock) *Reaper {
	return &Reaper{
		platform:    platform,
		clock:       clock,
		outstanding: make(map[int]types.WorkerHandle),
	}
}

// Track registers a freshly spawned worker.
func (r *Reaper) Track(h types.WorkerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outstanding[h.PID] = h
}

// Outstanding returns the number of tracked workers not yet reaped.
func (r *Reaper) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outstanding)
}

// Reap blocks until the worker behind h exits. Real time is measured from
// h.Start to the moment the wait returns. Reaping an untracked or already
// reaped handle fails with types.ErrNotOutstanding without blocking.
func (r *Reaper) Reap(h types.WorkerHandle) (types.ExitStatus, types.ResourceUsage, error) {
	r.mu.Lock()
	tracked, ok := r.outstanding[h.PID]
	if ok && tracked.ID == h.ID {
		delete(r.outstanding, h.PID)
	}
	r.mu.Unlock()

	if !ok || tracked.ID != h.ID {
		return types.ExitStatus{}, types.ResourceUsage{}, fmt.Errorf("worker %d (pid %d): %w", h.ID, h.PID, types.ErrNotOutstanding)
	}

	ws, u, err := r.platform.WaitWithUsage(h.PID)
	end := r.clock.Now()
	if err != nil {
		return types.ExitStatus{}, types.ResourceUsage{}, fmt.Errorf("%w %d (pid %d): %w", types.ErrReap, h.ID, h.PID, err)
	}

	elapsed := end.Sub(tracked.Start)
	if elapsed < 0 {
		elapsed = 0
	}

	status := types.ExitStatus{Code: ws.ExitCode, Signaled: ws.Signaled, Signal: ws.Signal}
	usage := types.ResourceUsage{
		Real:                elapsed,
		User:                u.User,
		Sys:                 u.Sys,
		MaxRSSKiB:           u.MaxRSSKiB,
		VoluntarySwitches:   u.VoluntarySwitches,
		InvoluntarySwitches: u.InvoluntarySwitches,
	}

	logging.Get("reaper").Debug("reaped",
		"worker", h.ID,
		"pid", h.PID,
		"status", status.String(),
		"real", usage.Real,
		"user", usage.User,
		"sys", usage.Sys,
	)
	return status, usage, nil
}
