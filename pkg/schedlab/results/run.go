package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

// Kind names the experiment that produced a run.
type Kind string

const (
	KindSched     Kind = "sched"
	KindNice      Kind = "nice"
	KindMultiload Kind = "multiload"
	KindCPUPerf   Kind = "cpuperf"
)

// levelPrefix prefixes per-level subdirectories, e.g. "level-004".
const levelPrefix = "level-"

// Meta describes a run. It is written as run.json when the run starts and
// rewritten when it finishes.
type Meta struct {
	ID          string                  `json:"id" yaml:"id"`
	Kind        Kind                    `json:"kind" yaml:"kind"`
	Mode        string                  `json:"mode" yaml:"mode"`
	MaxNProc    int                     `json:"max_nproc" yaml:"max_nproc"`
	Checkpoints int                     `json:"checkpoints" yaml:"checkpoints"`
	CPU         int                     `json:"cpu" yaml:"cpu"`
	Nice        *int                    `json:"nice,omitempty" yaml:"nice,omitempty"`
	Calibration types.CalibrationResult `json:"calibration" yaml:"calibration"`
	Host        string                  `json:"host,omitempty" yaml:"host,omitempty"`
	Version     string                  `json:"version,omitempty" yaml:"version,omitempty"`
	StartedAt   time.Time               `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time               `json:"finished_at,omitzero" yaml:"finished_at,omitempty"`
}

// LevelDir returns the directory holding the records of level nproc.
func LevelDir(runDir string, nproc int) string {
	return filepath.Join(runDir, fmt.Sprintf("%s%03d", levelPrefix, nproc))
}

// ParseLevelDir returns the nproc encoded in a level directory name.
func ParseLevelDir(name string) (int, bool) {
	s, ok := strings.CutPrefix(name, levelPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// WriteMeta writes run.json into dir.
func WriteMeta(dir string, m Meta) error {
	return writeFileAtomic(filepath.Join(dir, MetaFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encode run metadata: %w", err)
		}
		return nil
	})
}

// ReadMeta reads run.json from dir.
func ReadMeta(dir string) (Meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return Meta{}, fmt.Errorf("read run metadata: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("decode run metadata: %w", err)
	}
	return m, nil
}

// MarkDone writes the completion marker. A run directory without it was
// interrupted or failed.
func MarkDone(dir string, at time.Time) error {
	return writeFileAtomic(filepath.Join(dir, DoneMarker), func(w io.Writer) error {
		_, err := io.WriteString(w, at.UTC().Format(time.RFC3339Nano)+"\n")
		return err
	})
}

// IsDone reports whether dir carries the completion marker.
func IsDone(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, DoneMarker))
	return err == nil
}

// Level holds everything recorded for one concurrency level.
type Level struct {
	NProc   int                    `json:"nproc" yaml:"nproc"`
	Records []types.ProgressRecord `json:"records" yaml:"records"`
	Usage   []types.WorkerUsage    `json:"usage" yaml:"usage"`
}

// Run is a run directory loaded back into memory.
type Run struct {
	Dir      string                    `json:"dir" yaml:"dir"`
	Meta     Meta                      `json:"meta" yaml:"meta"`
	Complete bool                      `json:"complete" yaml:"complete"`
	Levels   []Level                   `json:"levels" yaml:"levels"`
	Metrics  []types.ConcurrencyMetric `json:"metrics" yaml:"metrics"`
	Stats    ReadStats                 `json:"stats" yaml:"stats"`
}

// ErrNotRun indicates a directory without run metadata.
var ErrNotRun = errors.New("not a run directory")

// LoadRun reads every file of the run in dir. Missing tables are treated
// as empty; malformed lines are skipped and counted in Stats.
func LoadRun(dir string) (*Run, error) {
	meta, err := ReadMeta(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotRun, dir)
		}
		return nil, err
	}

	run := &Run{Dir: dir, Meta: meta, Complete: IsDone(dir)}

	records, err := findRecords(dir)
	if err != nil {
		return nil, err
	}

	levels := make(map[int]*Level)
	level := func(n int) *Level {
		l, ok := levels[n]
		if !ok {
			l = &Level{NProc: n}
			levels[n] = l
		}
		return l
	}

	for _, rf := range records {
		rec, stats, err := ReadProgress(rf.path)
		if err != nil {
			return nil, err
		}
		run.Stats.add(stats)
		l := level(rf.nproc)
		l.Records = append(l.Records, rec)
	}

	usage, stats, err := ReadUsage(filepath.Join(dir, UsageFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	run.Stats.add(stats)
	for _, u := range usage {
		l := level(u.NProc)
		l.Usage = append(l.Usage, u)
	}

	metrics, stats, err := ReadSweep(filepath.Join(dir, SweepFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	run.Stats.add(stats)
	run.Metrics = metrics

	for _, l := range levels {
		sort.Slice(l.Records, func(i, j int) bool { return l.Records[i].WorkerID < l.Records[j].WorkerID })
		sort.Slice(l.Usage, func(i, j int) bool { return l.Usage[i].WorkerID < l.Usage[j].WorkerID })
		run.Levels = append(run.Levels, *l)
	}
	sort.Slice(run.Levels, func(i, j int) bool { return run.Levels[i].NProc < run.Levels[j].NProc })

	return run, nil
}

type recordFile struct {
	path  string
	nproc int
}

// findRecords walks dir for level-*/<id>.data files. fastwalk invokes the
// callback from several goroutines.
func findRecords(dir string) ([]recordFile, error) {
	var (
		mu    sync.Mutex
		found []recordFile
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if _, ok := ParseLevelDir(d.Name()); !ok {
				return fs.SkipDir
			}
			return nil
		}
		if _, ok := ParseProgressName(d.Name()); !ok {
			return nil
		}
		nproc, ok := ParseLevelDir(filepath.Base(filepath.Dir(path)))
		if !ok {
			return nil
		}
		mu.Lock()
		found = append(found, recordFile{path: path, nproc: nproc})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].path < found[j].path })
	return found, nil
}
