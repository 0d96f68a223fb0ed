package results

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

// ProgressPath returns the record path of worker id inside dir.
func ProgressPath(dir string, id int) string {
	return filepath.Join(dir, strconv.Itoa(id)+RecordExt)
}

// ParseProgressName returns the worker id encoded in a record file name
// such as "3.data".
func ParseProgressName(name string) (int, bool) {
	stem, ok := strings.CutSuffix(name, RecordExt)
	if !ok || stem == "" {
		return 0, false
	}
	id, err := strconv.Atoi(stem)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// EncodeProgress writes one "<elapsed_ms>\t<index>" line per checkpoint.
func EncodeProgress(w io.Writer, rec types.ProgressRecord) error {
	for _, s := range rec.Samples {
		if _, err := fmt.Fprintf(w, "%s\t%d\n", FormatFloat(s.ElapsedMs), s.Index); err != nil {
			return fmt.Errorf("write checkpoint %d: %w", s.Index, err)
		}
	}
	return nil
}

// DecodeProgress parses checkpoint lines, skipping malformed ones.
func DecodeProgress(r io.Reader, source string) ([]types.Checkpoint, ReadStats, error) {
	var samples []types.Checkpoint
	stats, err := scanRows(r, source, func(f []string) error {
		if err := wantFields(f, 2); err != nil {
			return err
		}
		elapsed, err := strconv.ParseFloat(f[0], 64)
		if err != nil {
			return malformed("elapsed %q", f[0])
		}
		idx, err := strconv.Atoi(f[1])
		if err != nil || idx < 0 {
			return malformed("index %q", f[1])
		}
		samples = append(samples, types.Checkpoint{ElapsedMs: elapsed, Index: idx})
		return nil
	})
	return samples, stats, err
}

// WriteProgress persists rec as <dir>/<worker id>.data. The file appears
// atomically.
func WriteProgress(dir string, rec types.ProgressRecord) error {
	path := ProgressPath(dir, rec.WorkerID)
	if err := writeFileAtomic(path, func(w io.Writer) error {
		return EncodeProgress(w, rec)
	}); err != nil {
		return fmt.Errorf("write progress record: %w", err)
	}
	return nil
}

// ReadProgress loads a record written by WriteProgress. The worker id is
// taken from the file name.
func ReadProgress(path string) (types.ProgressRecord, ReadStats, error) {
	id, ok := ParseProgressName(filepath.Base(path))
	if !ok {
		return types.ProgressRecord{}, ReadStats{}, fmt.Errorf("%s is not a progress record", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return types.ProgressRecord{}, ReadStats{}, fmt.Errorf("open progress record: %w", err)
	}
	defer f.Close()

	samples, stats, err := DecodeProgress(f, path)
	if err != nil {
		return types.ProgressRecord{}, stats, err
	}
	return types.ProgressRecord{WorkerID: id, Samples: samples}, stats, nil
}

// EncodeCombined writes "<worker>\t<elapsed_ms>\t<index>" for every
// checkpoint of every record, in record order.
func EncodeCombined(w io.Writer, recs []types.ProgressRecord) error {
	for _, rec := range recs {
		for _, s := range rec.Samples {
			if _, err := fmt.Fprintf(w, "%d\t%s\t%d\n", rec.WorkerID, FormatFloat(s.ElapsedMs), s.Index); err != nil {
				return fmt.Errorf("write combined row: %w", err)
			}
		}
	}
	return nil
}

// WriteCombined writes EncodeCombined output to path.
func WriteCombined(path string, recs []types.ProgressRecord) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		return EncodeCombined(w, recs)
	})
}
