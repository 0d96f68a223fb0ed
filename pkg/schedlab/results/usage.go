package results

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

// usageColumns is the number of fields in a usage row:
// nproc worker pid exit real user sys maxrss_kib nvcsw nivcsw.
const usageColumns = 10

// ExitToken encodes an exit status as one field: the exit code, or
// "signal:<name>" with spaces replaced by underscores.
func ExitToken(e types.ExitStatus) string {
	if e.Signaled {
		return "signal:" + strings.ReplaceAll(e.Signal, " ", "_")
	}
	return strconv.Itoa(e.Code)
}

// ParseExitToken reverses ExitToken.
func ParseExitToken(s string) (types.ExitStatus, error) {
	if name, ok := strings.CutPrefix(s, "signal:"); ok {
		return types.ExitStatus{Code: -1, Signaled: true, Signal: strings.ReplaceAll(name, "_", " ")}, nil
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return types.ExitStatus{}, malformed("exit %q", s)
	}
	return types.ExitStatus{Code: code}, nil
}

// FormatUsage renders one usage row. Times are in seconds.
func FormatUsage(u types.WorkerUsage) string {
	fields := []string{
		strconv.Itoa(u.NProc),
		strconv.Itoa(u.WorkerID),
		strconv.Itoa(u.PID),
		ExitToken(u.Exit),
		FormatFloat(u.Usage.RealSeconds()),
		FormatFloat(u.Usage.UserSeconds()),
		FormatFloat(u.Usage.SysSeconds()),
		strconv.FormatInt(u.Usage.MaxRSSKiB, 10),
		strconv.FormatInt(u.Usage.VoluntarySwitches, 10),
		strconv.FormatInt(u.Usage.InvoluntarySwitches, 10),
	}
	return strings.Join(fields, "\t")
}

// AppendUsage appends one usage row to path.
func AppendUsage(path string, u types.WorkerUsage) error {
	if err := appendLine(path, FormatUsage(u)); err != nil {
		return fmt.Errorf("record usage of worker %d: %w", u.WorkerID, err)
	}
	return nil
}

// DecodeUsage parses usage rows, skipping malformed ones.
func DecodeUsage(r io.Reader, source string) ([]types.WorkerUsage, ReadStats, error) {
	var rows []types.WorkerUsage
	stats, err := scanRows(r, source, func(f []string) error {
		if err := wantFields(f, usageColumns); err != nil {
			return err
		}
		var ints [3]int
		for i := range ints {
			v, err := strconv.Atoi(f[i])
			if err != nil {
				return malformed("column %d %q", i+1, f[i])
			}
			ints[i] = v
		}
		exit, err := ParseExitToken(f[3])
		if err != nil {
			return err
		}
		var secs [3]time.Duration
		for i := range secs {
			v, err := strconv.ParseFloat(f[4+i], 64)
			if err != nil || v < 0 {
				return malformed("column %d %q", 5+i, f[4+i])
			}
			secs[i] = time.Duration(v * float64(time.Second))
		}
		var counters [3]int64
		for i := range counters {
			v, err := strconv.ParseInt(f[7+i], 10, 64)
			if err != nil {
				return malformed("column %d %q", 8+i, f[7+i])
			}
			counters[i] = v
		}
		rows = append(rows, types.WorkerUsage{
			NProc:    ints[0],
			WorkerID: ints[1],
			PID:      ints[2],
			Exit:     exit,
			Usage: types.ResourceUsage{
				Real:                secs[0],
				User:                secs[1],
				Sys:                 secs[2],
				MaxRSSKiB:           counters[0],
				VoluntarySwitches:   counters[1],
				InvoluntarySwitches: counters[2],
			},
		})
		return nil
	})
	return rows, stats, err
}

// ReadUsage loads the usage table at path.
func ReadUsage(path string) ([]types.WorkerUsage, ReadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ReadStats{}, fmt.Errorf("open usage table: %w", err)
	}
	defer f.Close()
	return DecodeUsage(f, path)
}
