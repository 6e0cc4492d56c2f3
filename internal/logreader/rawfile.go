// Package logreader merges segment files into per-monitor timelines.
//
// A MultiLogReader scans files into an ActivityMap snapshot. For each
// Monitor, a MultiFileReader merges the files the monitor appears in,
// dropping entries duplicated by overlapping files, and a LivePage pages
// through the result, synthesizing the entries the structure implies but
// the files lack.
package logreader

import (
	"os"
	"time"

	"github.com/coffersTech/grandoutput/internal/model"
	"github.com/coffersTech/grandoutput/internal/storage"
)

// FileVersion is the segment format version understood by the reader.
const FileVersion = 1

// MonitorOccurrence summarizes the entries of one monitor in one file.
type MonitorOccurrence struct {
	MonitorID      model.MonitorID
	File           *RawLogFile
	EntryCount     int
	FirstEntryTime model.LogTime
	LastEntryTime  model.LogTime
	FirstDepth     int
	LastDepth      int
	FirstOffset    int64
	LastOffset     int64
	Tags           map[string]int
}

// RawLogFile is the scan result of one segment file.
type RawLogFile struct {
	Path            string
	Version         int
	Compression     storage.Compression
	Error           error
	TotalEntryCount int
	FirstEntryTime  model.LogTime
	LastEntryTime   model.LogTime
	Truncated       bool
	// Monitors in order of first appearance.
	Monitors []*MonitorOccurrence

	size    int64
	modTime time.Time
}

// IsValid reports whether the file can take part in a merge.
func (f *RawLogFile) IsValid() bool {
	return f.Error == nil && f.TotalEntryCount > 0
}

// Monitor returns the occurrence of a monitor, or nil.
func (f *RawLogFile) Monitor(id model.MonitorID) *MonitorOccurrence {
	for _, occ := range f.Monitors {
		if occ.MonitorID == id {
			return occ
		}
	}
	return nil
}

// ScanFile reads a whole segment file. Errors are reported in the Error
// field of the result.
func ScanFile(path string) *RawLogFile {
	f := &RawLogFile{Path: path, Version: FileVersion}
	if info, err := os.Stat(path); err == nil {
		f.size, f.modTime = info.Size(), info.ModTime()
	}

	r, err := storage.OpenSegment(path)
	if err != nil {
		f.Error = err
		return f
	}
	defer r.Close()
	f.Compression = r.Compression()

	byID := make(map[model.MonitorID]*MonitorOccurrence)
	for r.Next() {
		e := r.Entry()
		if f.TotalEntryCount == 0 || e.Time < f.FirstEntryTime {
			f.FirstEntryTime = e.Time
		}
		if e.Time > f.LastEntryTime {
			f.LastEntryTime = e.Time
		}
		f.TotalEntryCount++

		occ, ok := byID[e.MonitorID]
		if !ok {
			occ = &MonitorOccurrence{
				MonitorID:      e.MonitorID,
				File:           f,
				FirstEntryTime: e.Time,
				FirstDepth:     e.Depth,
				FirstOffset:    r.Offset(),
				Tags:           make(map[string]int),
			}
			byID[e.MonitorID] = occ
			f.Monitors = append(f.Monitors, occ)
		}
		occ.EntryCount++
		if e.Time > occ.LastEntryTime {
			occ.LastEntryTime = e.Time
		}
		occ.LastDepth = e.Depth
		occ.LastOffset = r.Offset()
		for _, tag := range e.Tags {
			occ.Tags[tag]++
		}
	}
	f.Error = r.Error()
	f.Truncated = r.Truncated()
	return f
}

// changed reports whether the file on disk differs from the scan.
func (f *RawLogFile) changed() bool {
	info, err := os.Stat(f.Path)
	if err != nil {
		return true
	}
	return info.Size() != f.size || !info.ModTime().Equal(f.modTime)
}

func mergeTags(dst, src map[string]int) {
	for tag, n := range src {
		dst[tag] += n
	}
}
