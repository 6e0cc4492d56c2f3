package logreader

import (
	"container/heap"
	"errors"
	"fmt"
	"slices"

	"github.com/coffersTech/grandoutput/internal/model"
	"github.com/coffersTech/grandoutput/internal/storage"
)

// cursor reads the entries of one monitor in one file.
type cursor struct {
	r     *storage.SegmentReader
	occ   *MonitorOccurrence
	order int
	head  model.Entry
}

// advance moves to the next entry of the monitor. It returns false at the
// end of the occurrence.
func (c *cursor) advance() bool {
	for c.r.Next() {
		if c.r.Offset() > c.occ.LastOffset {
			return false
		}
		e := c.r.Entry()
		if e.MonitorID == c.occ.MonitorID {
			c.head = *e
			return true
		}
	}
	return false
}

type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }
func (h cursorHeap) Less(i, j int) bool {
	if h[i].head.Time != h[j].head.Time {
		return h[i].head.Time < h[j].head.Time
	}
	return h[i].order < h[j].order
}
func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x any)   { *h = append(*h, x.(*cursor)) }
func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

// MultiFileReader merges the files of one monitor into a single time
// ordered stream.
//
// Entries of different files with the same time that describe the same
// logical entry (same type, depth, level and text) are returned once. A
// time alone is not enough: when one file holds A and B at time T and
// another holds A again, the merge yields exactly two entries at T.
type MultiFileReader struct {
	monitorID model.MonitorID
	heap      cursorHeap
	current   model.Entry
	errs      []error
}

func newMultiFileReader(m *Monitor, from model.LogTime) (_ *MultiFileReader, err error) {
	r := &MultiFileReader{monitorID: m.ID}
	defer func() {
		if err != nil {
			r.Close()
		}
	}()

	for _, occ := range m.occurrences {
		if occ.LastEntryTime < from {
			continue
		}
		sr, err := storage.OpenSegmentAt(occ.File.Path, occ.FirstOffset)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", occ.File.Path, err)
		}
		c := &cursor{r: sr, occ: occ, order: m.fileOrder[occ]}
		found := false
		for c.advance() {
			if c.head.Time >= from {
				found = true
				break
			}
		}
		if !found {
			r.release(c)
			continue
		}
		r.heap = append(r.heap, c)
	}
	heap.Init(&r.heap)
	return r, nil
}

// Next moves to the next entry.
func (r *MultiFileReader) Next() bool {
	if len(r.heap) == 0 {
		return false
	}
	top := r.heap[0]
	r.current = top.head
	r.step(0)

	// Skip the copies of the current entry in the other files. Advancing a
	// file can reveal another copy, hence the loop.
	for dup := true; dup; {
		dup = false
		for i := 0; i < len(r.heap); i++ {
			c := r.heap[i]
			if c.head.Time == r.current.Time && sameEntry(&c.head, &r.current) {
				r.step(i)
				dup = true
				break
			}
		}
	}
	return true
}

// step advances the cursor at index i of the heap, dropping it when it is
// exhausted.
func (r *MultiFileReader) step(i int) {
	c := r.heap[i]
	if c.advance() {
		heap.Fix(&r.heap, i)
		return
	}
	heap.Remove(&r.heap, i)
	r.release(c)
}

func (r *MultiFileReader) release(c *cursor) {
	if err := c.r.Error(); err != nil {
		r.errs = append(r.errs, err)
	}
	c.r.Close()
}

// Entry returns the current entry. It is overwritten by Next.
func (r *MultiFileReader) Entry() *model.Entry {
	return &r.current
}

// Err returns the errors met on the files exhausted so far. A failing file
// ends early but does not stop the merge.
func (r *MultiFileReader) Err() error {
	return errors.Join(r.errs...)
}

// Close releases every file.
func (r *MultiFileReader) Close() error {
	for _, c := range slices.Backward(r.heap) {
		c.r.Close()
	}
	r.heap = nil
	return nil
}

func sameEntry(a, b *model.Entry) bool {
	return a.Time == b.Time &&
		a.Type == b.Type &&
		a.Depth == b.Depth &&
		a.Level == b.Level &&
		a.Text == b.Text
}
