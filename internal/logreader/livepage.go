package logreader

import (
	"errors"

	"github.com/coffersTech/grandoutput/internal/model"
)

// MissingKind tells which entry a placeholder stands for.
type MissingKind uint8

const (
	NotMissing MissingKind = iota
	MissingLine
	MissingOpenGroup
	MissingCloseGroup
)

func (k MissingKind) String() string {
	switch k {
	case MissingLine:
		return "missing line"
	case MissingOpenGroup:
		return "missing open group"
	case MissingCloseGroup:
		return "missing close group"
	default:
		return "present"
	}
}

// ParentedLogEntry is an entry of a reconstructed timeline. Parent is the
// group enclosing the entry, nil at the top level.
type ParentedLogEntry struct {
	Entry       model.Entry
	Parent      *ParentedLogEntry
	IsMissing   bool
	MissingKind MissingKind
}

// LivePage pages through the timeline of a monitor. Its buffer is reused
// by every ForwardPage call: entries returned by Entries are only valid
// until the next call. Parent pointers stay valid.
type LivePage struct {
	reader  *MultiFileReader
	entries []ParentedLogEntry

	// pending holds the entries produced but not yet paged.
	pending []ParentedLogEntry
	// path is the stack of open groups.
	path []*ParentedLogEntry

	started  bool
	prevTime model.LogTime
	eof      bool
	reported int
}

func newLivePage(r *MultiFileReader, pageLength int) *LivePage {
	if pageLength <= 0 {
		pageLength = 1
	}
	return &LivePage{reader: r, entries: make([]ParentedLogEntry, 0, pageLength)}
}

// PageLength returns the capacity of a page.
func (p *LivePage) PageLength() int {
	return cap(p.entries)
}

// Entries returns the current page.
func (p *LivePage) Entries() []ParentedLogEntry {
	return p.entries
}

// Depth returns the number of groups open after the current page.
func (p *LivePage) Depth() int {
	return len(p.path)
}

// ForwardPage replaces the page content with the next entries and returns
// how many it holds; zero means the timeline is exhausted. The error
// reports files that failed since the previous call: their remaining
// entries are missing but the page is still usable.
func (p *LivePage) ForwardPage() (int, error) {
	p.entries = p.entries[:0]
	for len(p.entries) < cap(p.entries) {
		if len(p.pending) == 0 {
			if p.eof || !p.reader.Next() {
				p.eof = true
				break
			}
			p.push(p.reader.Entry())
		}
		p.entries = append(p.entries, p.pending[0])
		p.pending[0] = ParentedLogEntry{}
		p.pending = p.pending[1:]
	}
	var err error
	if errs := p.reader.errs; len(errs) > p.reported {
		err = errors.Join(errs[p.reported:]...)
		p.reported = len(errs)
	}
	return len(p.entries), err
}

// push reconstructs the structure around e and queues the result.
func (p *LivePage) push(e *model.Entry) {
	target := e.Depth
	if e.Type == model.EntryCloseGroup {
		// A close carries the depth of its opener, which is still open.
		target++
	}

	// 1. A predecessor we never saw, unless the missing groups below
	// account for it.
	predecessorMissing := p.started && e.HasPrevious() && e.PreviousTime != p.prevTime
	if predecessorMissing {
		explained := (e.PreviousType == model.EntryOpenGroup && target > len(p.path)) ||
			(e.PreviousType == model.EntryCloseGroup && target < len(p.path))
		if !explained {
			p.queue(model.Entry{
				Type:  model.EntryLine,
				Time:  e.PreviousTime,
				Depth: len(p.path),
			}, MissingLine, e)
		}
	}

	// 2. Close the groups the entry is out of.
	for len(p.path) > target {
		t := model.UnknownTime
		if len(p.path) == target+1 && predecessorMissing && e.PreviousType == model.EntryCloseGroup {
			t = e.PreviousTime
		}
		p.queue(model.Entry{
			Type:  model.EntryCloseGroup,
			Time:  t,
			Depth: len(p.path) - 1,
		}, MissingCloseGroup, e)
	}

	// 3. Open the groups the entry is in. Only the innermost one can be
	// dated, by the predecessor hint.
	for len(p.path) < target {
		t := model.UnknownTime
		if len(p.path) == target-1 && e.PreviousType == model.EntryOpenGroup && (!p.started || e.PreviousTime != p.prevTime) {
			t = e.PreviousTime
		}
		p.queue(model.Entry{
			Type:  model.EntryOpenGroup,
			Time:  t,
			Depth: len(p.path),
		}, MissingOpenGroup, e)
	}

	p.queue(*e, NotMissing, e)
	p.started = true
	p.prevTime = e.Time
}

// queue appends one entry to pending and maintains the group path.
func (p *LivePage) queue(e model.Entry, kind MissingKind, from *model.Entry) {
	if kind != NotMissing {
		e.MonitorID = from.MonitorID
		e.Level = model.LevelNone
	}
	if e.Type == model.EntryCloseGroup && len(p.path) > 0 {
		p.path[len(p.path)-1] = nil
		p.path = p.path[:len(p.path)-1]
	}
	pe := ParentedLogEntry{
		Entry:       e,
		IsMissing:   kind != NotMissing,
		MissingKind: kind,
	}
	if len(p.path) > 0 {
		pe.Parent = p.path[len(p.path)-1]
	}
	p.pending = append(p.pending, pe)
	if e.Type == model.EntryOpenGroup {
		group := pe
		p.path = append(p.path, &group)
	}
}

// Close releases the files of the page.
func (p *LivePage) Close() error {
	return p.reader.Close()
}
