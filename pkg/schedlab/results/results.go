// Package results reads and writes the flat text files a run leaves
// behind: one progress record per worker, a resource-usage table per run
// and the sweep table of per-level metrics. Files are whitespace-separated
// columns, one row per line, readable by any plotting tool.
//
// Readers skip lines they cannot parse and report how many they skipped.
package results

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

// File names inside a run directory.
const (
	RecordExt  = ".data"
	SweepFile  = "cpuperf.data"
	UsageFile  = "usage.data"
	MetaFile   = "run.json"
	DoneMarker = "DONE"
)

// ReadStats summarises a tolerant read.
type ReadStats struct {
	// Rows is the number of lines parsed.
	Rows int

	// Skipped is the number of non-blank lines that could not be parsed.
	Skipped int
}

func (s *ReadStats) add(o ReadStats) {
	s.Rows += o.Rows
	s.Skipped += o.Skipped
}

// FormatFloat renders v with the fewest digits that parse back to v.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// scanRows calls fn with the fields of every non-blank, non-comment line.
// Lines fn rejects are counted as skipped.
func scanRows(r io.Reader, source string, fn func(fields []string) error) (ReadStats, error) {
	var stats ReadStats
	logger := logging.Get("results")

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(strings.Fields(line)); err != nil {
			stats.Skipped++
			logger.Debug("skipping line", "source", source, "line", lineNo, "error", err)
			continue
		}
		stats.Rows++
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("reading %s: %w", source, err)
	}
	return stats, nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{types.ErrMalformedLine}, args...)...)
}

func wantFields(fields []string, n int) error {
	if len(fields) != n {
		return malformed("%d fields, want %d", len(fields), n)
	}
	return nil
}

// writeFileAtomic writes data to a temporary sibling and renames it into
// place, so readers never observe a partial file.
func writeFileAtomic(path string, write func(w io.Writer) error) error {
	dir, base := filepath.Split(path)
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("flush %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// appendLine appends one line to path, creating it if needed.
func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := io.WriteString(f, line+"\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return f.Close()
}
