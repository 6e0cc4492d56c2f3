package logreader

import (
	"log/slog"
	"maps"
	"sort"

	"github.com/coffersTech/grandoutput/internal/model"
)

// ActivityMap is an immutable snapshot of files and monitors.
type ActivityMap struct {
	files    []*RawLogFile
	monitors map[model.MonitorID]*Monitor
	sorted   []*Monitor
	first    model.LogTime
	last     model.LogTime
}

func newActivityMap(files []*RawLogFile, logger *slog.Logger) *ActivityMap {
	a := &ActivityMap{files: files, monitors: make(map[model.MonitorID]*Monitor)}
	for order, f := range files {
		if !f.IsValid() {
			continue
		}
		if !a.first.IsKnown() || f.FirstEntryTime < a.first {
			a.first = f.FirstEntryTime
		}
		if f.LastEntryTime > a.last {
			a.last = f.LastEntryTime
		}
		for _, occ := range f.Monitors {
			m, ok := a.monitors[occ.MonitorID]
			if !ok {
				m = &Monitor{ID: occ.MonitorID, tags: make(map[string]int), logger: logger}
				a.monitors[occ.MonitorID] = m
				a.sorted = append(a.sorted, m)
			}
			m.add(occ, order)
		}
	}
	for _, m := range a.sorted {
		m.sortOccurrences()
	}
	sort.SliceStable(a.sorted, func(i, j int) bool {
		return a.sorted[i].FirstEntryTime < a.sorted[j].FirstEntryTime
	})
	return a
}

// Files returns every known file, valid or not.
func (a *ActivityMap) Files() []*RawLogFile {
	return a.files
}

// ValidFiles returns the files taking part in merges.
func (a *ActivityMap) ValidFiles() []*RawLogFile {
	var out []*RawLogFile
	for _, f := range a.files {
		if f.IsValid() {
			out = append(out, f)
		}
	}
	return out
}

// Monitors returns the monitors ordered by first entry time.
func (a *ActivityMap) Monitors() []*Monitor {
	return a.sorted
}

// FindMonitor returns a monitor, or nil.
func (a *ActivityMap) FindMonitor(id model.MonitorID) *Monitor {
	return a.monitors[id]
}

// FirstEntryTime returns the oldest entry time over valid files.
func (a *ActivityMap) FirstEntryTime() model.LogTime { return a.first }

// LastEntryTime returns the newest entry time over valid files.
func (a *ActivityMap) LastEntryTime() model.LogTime { return a.last }

// Monitor gathers the occurrences of one monitor across files.
type Monitor struct {
	ID             model.MonitorID
	FirstEntryTime model.LogTime
	LastEntryTime  model.LogTime
	FirstDepth     int
	LastDepth      int

	occurrences []*MonitorOccurrence
	fileOrder   map[*MonitorOccurrence]int
	tags        map[string]int
	logger      *slog.Logger
}

func (m *Monitor) add(occ *MonitorOccurrence, order int) {
	if len(m.occurrences) == 0 || occ.FirstEntryTime < m.FirstEntryTime {
		m.FirstEntryTime, m.FirstDepth = occ.FirstEntryTime, occ.FirstDepth
	}
	if len(m.occurrences) == 0 || occ.LastEntryTime > m.LastEntryTime {
		m.LastEntryTime, m.LastDepth = occ.LastEntryTime, occ.LastDepth
	}
	if m.fileOrder == nil {
		m.fileOrder = make(map[*MonitorOccurrence]int)
	}
	m.fileOrder[occ] = order
	m.occurrences = append(m.occurrences, occ)
	mergeTags(m.tags, occ.Tags)
}

func (m *Monitor) sortOccurrences() {
	sort.SliceStable(m.occurrences, func(i, j int) bool {
		return m.occurrences[i].FirstEntryTime < m.occurrences[j].FirstEntryTime
	})
}

// Occurrences returns the monitor's occurrences ordered by first entry
// time.
func (m *Monitor) Occurrences() []*MonitorOccurrence {
	return m.occurrences
}

// Tags returns how many entries carry each tag.
func (m *Monitor) Tags() map[string]int {
	return maps.Clone(m.tags)
}

// OpenReader opens a merged reader over the entries at or after from.
func (m *Monitor) OpenReader(from model.LogTime) (*MultiFileReader, error) {
	return newMultiFileReader(m, from)
}

// ReadFirstPage reads the first page of the monitor's timeline.
func (m *Monitor) ReadFirstPage(pageLength int) (*LivePage, error) {
	return m.ReadFirstPageFrom(model.UnknownTime, pageLength)
}

// ReadFirstPageFrom reads the first page of entries at or after from. The
// page must be closed.
func (m *Monitor) ReadFirstPageFrom(from model.LogTime, pageLength int) (*LivePage, error) {
	r, err := m.OpenReader(from)
	if err != nil {
		return nil, err
	}
	p := newLivePage(r, pageLength)
	if _, err := p.ForwardPage(); err != nil {
		m.logger.Warn("segment read error", "monitor", m.ID, "error", err)
	}
	return p, nil
}
