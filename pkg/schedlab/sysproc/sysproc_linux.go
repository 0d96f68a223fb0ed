//go:build linux

package sysproc

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
	"k8s.io/utils/cpuset"

	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
)

// Linux implements Platform with raw system calls.
type Linux struct{}

// New returns the platform implementation for this OS.
func New() Platform {
	return Linux{}
}

// Spawn starts cmd without the os/exec machinery so that the child is
// waited on by pid alone.
func (Linux) Spawn(cmd Command) (int, error) {
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devnull.Close()

	stdout, stderr := cmd.Stdout, cmd.Stderr
	if stdout == nil {
		stdout = devnull
	}
	if stderr == nil {
		stderr = devnull
	}

	proc, err := os.StartProcess(cmd.Path, append([]string{cmd.Path}, cmd.Args...), &os.ProcAttr{
		Env:   cmd.Env,
		Files: []*os.File{devnull, stdout, stderr},
	})
	if err != nil {
		return 0, err
	}
	pid := proc.Pid
	// The child is reaped through wait4 on its pid, so a failed release
	// only leaks the handle and must not hide a running worker.
	if err := proc.Release(); err != nil {
		logging.Get("sysproc").Warn("release process handle", "pid", pid, "error", err)
	}
	return pid, nil
}

// SetAffinity applies the mask to every thread of pid. Threads that exit
// while the mask is applied are ignored.
func (Linux) SetAffinity(pid int, cpus cpuset.CPUSet) error {
	if cpus.IsEmpty() {
		return errors.New("empty cpu set")
	}
	var mask unix.CPUSet
	mask.Zero()
	for _, cpu := range cpus.List() {
		mask.Set(cpu)
	}

	tids, err := threads(pid)
	if err != nil {
		return err
	}
	for _, tid := range tids {
		if err := unix.SchedSetaffinity(tid, &mask); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("sched_setaffinity tid %d: %w", tid, err)
		}
	}
	return nil
}

// SetPriority shifts the niceness of every thread of pid by delta.
func (Linux) SetPriority(pid int, delta int) error {
	tids, err := threads(pid)
	if err != nil {
		return err
	}
	for _, tid := range tids {
		// The raw getpriority syscall reports 20 - nice.
		raw, err := unix.Getpriority(unix.PRIO_PROCESS, tid)
		if err != nil {
			if errors.Is(err, unix.ESRCH) {
				continue
			}
			return fmt.Errorf("getpriority tid %d: %w", tid, err)
		}
		nice := clampNice(20 - raw + delta)
		if err := unix.Setpriority(unix.PRIO_PROCESS, tid, nice); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("setpriority tid %d to %d: %w", tid, nice, err)
		}
	}
	return nil
}

// WaitWithUsage blocks in wait4 on pid, retrying on EINTR.
func (Linux) WaitWithUsage(pid int) (WaitStatus, Usage, error) {
	var ws unix.WaitStatus
	var ru unix.Rusage
	for {
		_, err := unix.Wait4(pid, &ws, 0, &ru)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return WaitStatus{}, Usage{}, fmt.Errorf("wait4 pid %d: %w", pid, err)
		}
		break
	}

	status := WaitStatus{ExitCode: ws.ExitStatus()}
	if ws.Signaled() {
		status.Signaled = true
		status.Signal = ws.Signal().String()
	}

	usage := Usage{
		User:                time.Duration(ru.Utime.Nano()),
		Sys:                 time.Duration(ru.Stime.Nano()),
		MaxRSSKiB:           int64(ru.Maxrss),
		VoluntarySwitches:   int64(ru.Nvcsw),
		InvoluntarySwitches: int64(ru.Nivcsw),
	}
	return status, usage, nil
}

// Kill sends SIGKILL to pid.
func (Linux) Kill(pid int) error {
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}

// threads lists the thread ids of pid, or of the caller for Self.
// Affinity and niceness are per-thread attributes on Linux.
func threads(pid int) ([]int, error) {
	dir := "/proc/self/task"
	if pid != Self {
		dir = "/proc/" + strconv.Itoa(pid) + "/task"
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if pid == Self {
			return []int{unix.Gettid()}, nil
		}
		return nil, fmt.Errorf("list threads of %d: %w", pid, err)
	}
	tids := make([]int, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	return tids, nil
}
