package results

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

// FormatMetric renders m as "<nproc>\t<avg_turnaround>\t<throughput>".
func FormatMetric(m types.ConcurrencyMetric) string {
	return strconv.Itoa(m.NProc) + "\t" + FormatFloat(m.AvgTurnaround) + "\t" + FormatFloat(m.Throughput)
}

// EncodeSweep writes one line per metric.
func EncodeSweep(w io.Writer, metrics []types.ConcurrencyMetric) error {
	for _, m := range metrics {
		if _, err := io.WriteString(w, FormatMetric(m)+"\n"); err != nil {
			return fmt.Errorf("write sweep row %d: %w", m.NProc, err)
		}
	}
	return nil
}

// DecodeSweep parses sweep rows, skipping any line without exactly three
// numeric fields. TotalReal is not stored and is left zero.
func DecodeSweep(r io.Reader, source string) ([]types.ConcurrencyMetric, ReadStats, error) {
	var metrics []types.ConcurrencyMetric
	stats, err := scanRows(r, source, func(f []string) error {
		if err := wantFields(f, 3); err != nil {
			return err
		}
		n, err := strconv.Atoi(f[0])
		if err != nil || n < 1 {
			return malformed("nproc %q", f[0])
		}
		tat, err := strconv.ParseFloat(f[1], 64)
		if err != nil {
			return malformed("turnaround %q", f[1])
		}
		tp, err := strconv.ParseFloat(f[2], 64)
		if err != nil {
			return malformed("throughput %q", f[2])
		}
		metrics = append(metrics, types.ConcurrencyMetric{NProc: n, AvgTurnaround: tat, Throughput: tp})
		return nil
	})
	return metrics, stats, err
}

// AppendMetric appends one row to the sweep table at path. Rows recorded
// before a later failure stay on disk.
func AppendMetric(path string, m types.ConcurrencyMetric) error {
	if err := appendLine(path, FormatMetric(m)); err != nil {
		return fmt.Errorf("record level %d: %w", m.NProc, err)
	}
	return nil
}

// ResetSweep replaces the sweep table at path with an empty one.
func ResetSweep(path string) error {
	err := writeFileAtomic(path, func(io.Writer) error { return nil })
	if err != nil {
		return fmt.Errorf("reset sweep table: %w", err)
	}
	return nil
}

// ReadSweep loads the sweep table at path.
func ReadSweep(path string) ([]types.ConcurrencyMetric, ReadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ReadStats{}, fmt.Errorf("open sweep table: %w", err)
	}
	defer f.Close()
	return DecodeSweep(f, path)
}
