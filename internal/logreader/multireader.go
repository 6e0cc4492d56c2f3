package logreader

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/coffersTech/grandoutput/internal/storage"
)

// MultiLogReader tracks a growing set of segment files. Files are scanned
// once when added and scanned again when they changed on disk.
type MultiLogReader struct {
	mu     sync.Mutex
	files  map[string]*RawLogFile
	order  []string
	logger *slog.Logger
}

// NewMultiLogReader creates an empty reader.
func NewMultiLogReader(logger *slog.Logger) *MultiLogReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiLogReader{files: make(map[string]*RawLogFile), logger: logger}
}

// Add scans the given files and returns how many were new or rescanned.
// Unreadable files are kept with their error and excluded from merges.
func (m *MultiLogReader) Add(paths ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, p := range paths {
		p = filepath.Clean(p)
		known, ok := m.files[p]
		if ok && !known.changed() {
			continue
		}
		f := ScanFile(p)
		if f.Error != nil {
			m.logger.Warn("invalid segment file", "file", p, "error", f.Error)
		}
		if !ok {
			m.order = append(m.order, p)
		}
		m.files[p] = f
		n++
	}
	return n
}

// AddDirectory adds the segment files found in dir. Temporary files of
// active writers are included when includeActive is set.
func (m *MultiLogReader) AddDirectory(dir string, recursive, includeActive bool) (int, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == dir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if p != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, storage.SegmentExt) || (includeActive && strings.HasSuffix(name, ".tmp")) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	// Completed files first, oldest first, so ties keep a stable order.
	sort.Slice(paths, func(i, j int) bool {
		mi, _, oki := storage.ParseSegmentName(paths[i])
		mj, _, okj := storage.ParseSegmentName(paths[j])
		if oki != okj {
			return oki
		}
		if mi != mj {
			return mi < mj
		}
		return paths[i] < paths[j]
	})
	return m.Add(paths...), nil
}

// Remove forgets files.
func (m *MultiLogReader) Remove(paths ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range paths {
		p = filepath.Clean(p)
		if _, ok := m.files[p]; !ok {
			continue
		}
		delete(m.files, p)
		m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == p })
	}
}

// RemoveMissing forgets the files deleted from disk and returns how many
// were removed.
func (m *MultiLogReader) RemoveMissing() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.order)
	m.order = slices.DeleteFunc(m.order, func(p string) bool {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			delete(m.files, p)
			return true
		}
		return false
	})
	return n - len(m.order)
}

// GetActivityMap returns a snapshot of the known files and monitors.
func (m *MultiLogReader) GetActivityMap() *ActivityMap {
	m.mu.Lock()
	files := make([]*RawLogFile, 0, len(m.order))
	for _, p := range m.order {
		files = append(files, m.files[p])
	}
	m.mu.Unlock()
	return newActivityMap(files, m.logger)
}
