// Package history keeps a catalog of finished runs in Badger DB.
//
// The catalog is an index over run directories: the measurement data
// itself stays in the flat text files each run wrote, and the catalog can
// always be rebuilt from them with Reindex.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
	"github.com/jamesainslie/schedlab/pkg/schedlab/results"
)

// Key prefixes for different data types.
const (
	prefixRun  = "r:" // run entries keyed by id
	prefixMeta = "m:" // metadata
)

// ErrNotFound indicates an id with no catalog entry.
var ErrNotFound = errors.New("run not found")

// Entry summarises one finished run.
type Entry struct {
	ID          string       `json:"id" yaml:"id"`
	Kind        results.Kind `json:"kind" yaml:"kind"`
	Mode        string       `json:"mode" yaml:"mode"`
	Dir         string       `json:"dir" yaml:"dir"`
	MaxNProc    int          `json:"max_nproc" yaml:"max_nproc"`
	Checkpoints int          `json:"checkpoints" yaml:"checkpoints"`
	Nice        *int         `json:"nice,omitempty" yaml:"nice,omitempty"`
	LoopsPerMs  uint64       `json:"loops_per_ms" yaml:"loops_per_ms"`
	StartedAt   time.Time    `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time    `json:"finished_at" yaml:"finished_at"`

	// Levels is the number of concurrency levels with a metric row.
	Levels int `json:"levels" yaml:"levels"`

	// Workers is the number of reaped workers.
	Workers int `json:"workers" yaml:"workers"`

	// Failed counts workers that did not exit with status 0.
	Failed int `json:"failed" yaml:"failed"`

	// PeakThroughput is the highest throughput of any level.
	PeakThroughput float64 `json:"peak_throughput" yaml:"peak_throughput"`
}

// EntryFromRun summarises a loaded run.
func EntryFromRun(run *results.Run) *Entry {
	e := &Entry{
		ID:          run.Meta.ID,
		Kind:        run.Meta.Kind,
		Mode:        run.Meta.Mode,
		Dir:         run.Dir,
		MaxNProc:    run.Meta.MaxNProc,
		Checkpoints: run.Meta.Checkpoints,
		Nice:        run.Meta.Nice,
		LoopsPerMs:  run.Meta.Calibration.LoopsPerMs,
		StartedAt:   run.Meta.StartedAt,
		FinishedAt:  run.Meta.FinishedAt,
		Levels:      len(run.Metrics),
	}
	for _, l := range run.Levels {
		for _, u := range l.Usage {
			e.Workers++
			if !u.Exit.Success() {
				e.Failed++
			}
		}
	}
	for _, m := range run.Metrics {
		e.PeakThroughput = max(e.PeakThroughput, m.Throughput)
	}
	return e
}

// NewRunID creates a unique id like "cpuperf-2026-06-15T10-30-00-1b4e28ba".
func NewRunID(kind results.Kind, now time.Time) string {
	ts := now.UTC().Format("2006-01-02T15-04-05")
	return fmt.Sprintf("%s-%s-%s", kind, ts, uuid.NewString()[:8])
}

// Store is the run catalog backed by Badger DB.
type Store struct {
	db *badger.DB
}

// Open opens or creates a catalog at the given directory.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	s := &Store{db: db}
	if s.GetSchema() == nil {
		if err := s.SetSchema(&Schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now()}); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores an entry, replacing any entry with the same id.
func (s *Store) Put(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixRun+entry.ID), data)
	})
}

// Get retrieves an entry by id.
func (s *Store) Get(id string) (*Entry, error) {
	var entry Entry

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixRun + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns entries newest first. A non-empty pattern keeps only ids
// matching the glob; limit <= 0 returns everything.
func (s *Store) List(limit int, pattern string) ([]Entry, error) {
	var match glob.Glob
	if pattern != "" {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		match = g
	}

	entries := []Entry{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixRun)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					logging.Get("history").Debug("skipping unreadable entry", "key", string(it.Item().Key()), "error", err)
					return nil
				}
				if match != nil && !match.Match(e.ID) {
					return nil
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartedAt.After(entries[j].StartedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Delete removes an entry. Deleting a missing id is not an error.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixRun + id))
	})
}

// Cleanup removes entries that finished before now minus retention and
// returns them. With removeDirs the run directories are deleted too.
func (s *Store) Cleanup(retention time.Duration, now time.Time, removeDirs bool) ([]Entry, error) {
	entries, err := s.List(0, "")
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-retention)
	var removed []Entry
	for _, e := range entries {
		if !e.FinishedAt.Before(cutoff) {
			continue
		}
		if removeDirs && e.Dir != "" {
			if err := os.RemoveAll(e.Dir); err != nil {
				return removed, fmt.Errorf("remove %s: %w", e.Dir, err)
			}
		}
		if err := s.Delete(e.ID); err != nil {
			return removed, err
		}
		removed = append(removed, e)
	}
	return removed, nil
}
