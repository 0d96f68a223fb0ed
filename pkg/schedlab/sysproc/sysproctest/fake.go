// Package sysproctest provides an in-memory sysproc.Platform driven by a
// manual clock.
package sysproctest

import (
	"errors"
	"sync"
	"time"

	"k8s.io/utils/cpuset"

	"github.com/jamesainslie/schedlab/pkg/schedlab/monoclock"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc"
)

// ErrNoChild is returned when waiting on a pid that is unknown or was
// already reaped.
var ErrNoChild = errors.New("no such child")

// Fake simulates workers that each need Work of CPU time. Unless Parallel
// is set, workers share one CPU in spawn order and each one pays
// SwitchCost for every other worker still running when it was spawned.
// Waiting on a worker advances the clock to its finish time.
type Fake struct {
	Work       time.Duration
	SwitchCost time.Duration
	Parallel   bool

	// SpawnErr, when set, is consulted before every spawn with the
	// 1-based call count.
	SpawnErr func(call int, cmd sysproc.Command) error

	// StartErr, when set, is returned alongside the pid of a worker that
	// did start.
	StartErr func(call int, pid int) error

	// ExitCode, when set, chooses the exit code of each worker.
	ExitCode func(cmd sysproc.Command) int

	mu      sync.Mutex
	clock   *monoclock.Manual
	nextPID int
	calls   int
	cpuFree monoclock.Instant
	procs   map[int]*proc

	spawned  []sysproc.Command
	killed   []int
	reaped   []int
	affinity map[int]cpuset.CPUSet
	priority map[int]int
}

type proc struct {
	cmd    sysproc.Command
	finish monoclock.Instant
	killed bool
	reaped bool
}

var _ sysproc.Platform = (*Fake)(nil)

// New returns a Fake driven by clock.
func New(clock *monoclock.Manual, work time.Duration) *Fake {
	return &Fake{
		Work:     work,
		clock:    clock,
		nextPID:  1000,
		procs:    make(map[int]*proc),
		affinity: make(map[int]cpuset.CPUSet),
		priority: make(map[int]int),
	}
}

// Spawn records cmd and schedules its completion.
func (f *Fake) Spawn(cmd sysproc.Command) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.SpawnErr != nil {
		if err := f.SpawnErr(f.calls, cmd); err != nil {
			return 0, err
		}
	}

	now := f.clock.Peek()
	live := 0
	for _, p := range f.procs {
		if !p.reaped && !p.killed && p.finish > now {
			live++
		}
	}

	start := now
	if !f.Parallel && f.cpuFree > start {
		start = f.cpuFree
	}
	finish := start.Add(f.Work + time.Duration(live)*f.SwitchCost)
	if !f.Parallel {
		f.cpuFree = finish
	}

	pid := f.nextPID
	f.nextPID++
	f.procs[pid] = &proc{cmd: cmd, finish: finish}
	f.spawned = append(f.spawned, cmd)
	if f.StartErr != nil {
		return pid, f.StartErr(f.calls, pid)
	}
	return pid, nil
}

// SetAffinity records the mask for pid.
func (f *Fake) SetAffinity(pid int, cpus cpuset.CPUSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.affinity[pid] = cpus
	return nil
}

// SetPriority accumulates delta for pid.
func (f *Fake) SetPriority(pid int, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priority[pid] += delta
	return nil
}

// WaitWithUsage advances the clock to the worker's finish time.
func (f *Fake) WaitWithUsage(pid int) (sysproc.WaitStatus, sysproc.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.procs[pid]
	if !ok || p.reaped {
		return sysproc.WaitStatus{}, sysproc.Usage{}, ErrNoChild
	}
	p.reaped = true
	f.reaped = append(f.reaped, pid)

	if p.killed {
		return sysproc.WaitStatus{ExitCode: -1, Signaled: true, Signal: "killed"}, sysproc.Usage{}, nil
	}

	f.clock.AdvanceTo(p.finish)
	status := sysproc.WaitStatus{}
	if f.ExitCode != nil {
		status.ExitCode = f.ExitCode(p.cmd)
	}
	return status, sysproc.Usage{User: f.Work, MaxRSSKiB: 2048, InvoluntarySwitches: 1}, nil
}

// Kill marks pid as terminated by SIGKILL.
func (f *Fake) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.procs[pid]
	if !ok {
		return ErrNoChild
	}
	p.killed = true
	f.killed = append(f.killed, pid)
	return nil
}

// Spawned returns the commands started so far.
func (f *Fake) Spawned() []sysproc.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sysproc.Command(nil), f.spawned...)
}

// Killed returns the pids killed so far.
func (f *Fake) Killed() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.killed...)
}

// Reaped returns the pids reaped so far, in order.
func (f *Fake) Reaped() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.reaped...)
}

// Outstanding returns the number of spawned workers not yet reaped.
func (f *Fake) Outstanding() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.procs {
		if !p.reaped {
			n++
		}
	}
	return n
}

// Affinity returns the last mask applied to pid.
func (f *Fake) Affinity(pid int) (cpuset.CPUSet, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.affinity[pid]
	return c, ok
}

// Priority returns the accumulated nice delta of pid.
func (f *Fake) Priority(pid int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priority[pid]
}
