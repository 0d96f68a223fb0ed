package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
	"github.com/jamesainslie/schedlab/pkg/schedlab/results"
)

// ReindexStats reports what Reindex found.
type ReindexStats struct {
	// Indexed is the number of complete runs written to the catalog.
	Indexed int

	// Incomplete is the number of run directories without a DONE marker.
	Incomplete int

	// Failed is the number of run directories that could not be loaded.
	Failed int
}

// Reindex replaces the catalog with the complete runs found under
// resultsDir.
func (s *Store) Reindex(resultsDir string) (ReindexStats, error) {
	var stats ReindexStats
	logger := logging.Get("history")

	var dirs []string
	if _, err := os.Stat(resultsDir); err == nil {
		dirs, err = findRuns(resultsDir)
		if err != nil {
			return stats, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return stats, fmt.Errorf("stat %s: %w", resultsDir, err)
	}

	if err := s.db.DropPrefix([]byte(prefixRun)); err != nil {
		return stats, fmt.Errorf("clear catalog: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, dir := range dirs {
		if !results.IsDone(dir) {
			stats.Incomplete++
			logger.Debug("skipping incomplete run", "dir", dir)
			continue
		}
		run, err := results.LoadRun(dir)
		if err != nil {
			stats.Failed++
			logger.Warn("failed to load run", "dir", dir, "error", err)
			continue
		}
		if err := putBatch(wb, EntryFromRun(run)); err != nil {
			return stats, err
		}
		stats.Indexed++
	}

	if err := wb.Flush(); err != nil {
		return stats, fmt.Errorf("write catalog: %w", err)
	}
	if err := s.SetSchema(&Schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now()}); err != nil {
		return stats, err
	}

	logger.Info("reindexed history", "root", resultsDir, "runs", stats.Indexed,
		"incomplete", stats.Incomplete, "failed", stats.Failed)
	return stats, nil
}

func putBatch(wb *badger.WriteBatch, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return wb.Set([]byte(prefixRun+e.ID), data)
}

// findRuns returns every directory under root holding run metadata.
// Level directories are not descended into.
func findRuns(root string) ([]string, error) {
	var (
		mu   sync.Mutex
		dirs []string
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if d.IsDir() {
			if _, ok := results.ParseLevelDir(d.Name()); ok {
				return fs.SkipDir
			}
			return nil
		}
		if d.Name() != results.MetaFile {
			return nil
		}
		mu.Lock()
		dirs = append(dirs, filepath.Dir(path))
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Strings(dirs)
	return dirs, nil
}
