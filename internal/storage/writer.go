package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/coffersTech/grandoutput/internal/model"
)

// SegmentExt is the extension of completed segment files.
const SegmentExt = ".gseg"

// DefaultMaxEntriesPerFile is the rotation threshold used when none is
// configured.
const DefaultMaxEntriesPerFile = 20000

// ErrWriterClosed is returned by Write after Close.
var ErrWriterClosed = errors.New("segment writer closed")

// WriterOptions configures a SegmentWriter.
type WriterOptions struct {
	Dir               string
	Compression       Compression
	MaxEntriesPerFile int
	Logger            *slog.Logger
}

// SegmentWriter appends entries to a temporary segment file (seg_*.tmp)
// and renames it to its final name when it is rotated or closed:
//
//	log_{minTime}_{maxTime}_{seq}.gseg
type SegmentWriter struct {
	mu     sync.Mutex
	opts   WriterOptions
	closed bool
	seq    int

	file    *os.File
	stream  streamWriter
	tmpPath string
	count   int
	minTime model.LogTime
	maxTime model.LogTime

	completed []string
	lenBuf    [4]byte
}

// NewSegmentWriter creates the directory if needed. No file is created
// before the first Write.
func NewSegmentWriter(opts WriterOptions) (*SegmentWriter, error) {
	if opts.Dir == "" {
		return nil, errors.New("segment writer: empty directory")
	}
	if opts.MaxEntriesPerFile <= 0 {
		opts.MaxEntriesPerFile = DefaultMaxEntriesPerFile
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("segment writer: %w", err)
	}
	return &SegmentWriter{opts: opts}, nil
}

// Write appends one entry, rotating the file when it is full.
func (w *SegmentWriter) Write(e *model.Entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if w.file == nil {
		if err := w.open(); err != nil {
			return err
		}
	}

	// Format: [Len uint32][CBOR Bytes]
	binary.LittleEndian.PutUint32(w.lenBuf[:], uint32(len(data)))
	if _, err := w.stream.Write(w.lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.stream.Write(data); err != nil {
		return err
	}

	if w.count == 0 || e.Time < w.minTime {
		w.minTime = e.Time
	}
	if w.count == 0 || e.Time > w.maxTime {
		w.maxTime = e.Time
	}
	w.count++
	if w.count >= w.opts.MaxEntriesPerFile {
		return w.rotate()
	}
	return nil
}

func (w *SegmentWriter) open() error {
	w.seq++
	f, err := os.CreateTemp(w.opts.Dir, "seg_*.tmp")
	if err != nil {
		return err
	}
	w.tmpPath = f.Name()
	header := append(append([]byte(nil), Magic...), byte(w.opts.Compression))
	if _, err := f.Write(header); err != nil {
		f.Close()
		return err
	}
	stream, err := newStreamWriter(f, w.opts.Compression)
	if err != nil {
		f.Close()
		return err
	}
	w.file, w.stream, w.count = f, stream, 0
	return nil
}

// Flush pushes buffered frames to the operating system. Readers see the
// flushed entries of the temporary file.
func (w *SegmentWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stream == nil {
		return nil
	}
	return w.stream.Flush()
}

// Rotate completes the current file, if any.
func (w *SegmentWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotate()
}

func (w *SegmentWriter) rotate() error {
	if w.file == nil {
		return nil
	}
	// 1. Finish the compressed stream
	err := w.stream.Close()
	// 2. Sync and close the file
	if err == nil {
		err = w.file.Sync()
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file, w.stream = nil, nil
	if err != nil {
		return fmt.Errorf("complete segment %s: %w", w.tmpPath, err)
	}

	// 3. Atomic rename to the final name
	final := w.finalPath()
	if err := os.Rename(w.tmpPath, final); err != nil {
		return fmt.Errorf("rename segment: %w", err)
	}
	w.completed = append(w.completed, final)
	w.opts.Logger.Debug("segment completed", "file", filepath.Base(final), "entries", w.count)
	return nil
}

func (w *SegmentWriter) finalPath() string {
	for seq := w.seq; ; seq++ {
		p := filepath.Join(w.opts.Dir, SegmentName(w.minTime, w.maxTime, seq))
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}
	}
}

// Completed returns the paths of the files completed by this writer.
func (w *SegmentWriter) Completed() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.completed...)
}

// Close completes the current file. Further writes fail.
func (w *SegmentWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.rotate()
}

// SegmentName returns the file name of a completed segment.
func SegmentName(minTime, maxTime model.LogTime, seq int) string {
	return fmt.Sprintf("log_%d_%d_%d%s", minTime, maxTime, seq, SegmentExt)
}

// ParseSegmentName extracts the time range of a completed segment from its
// file name.
func ParseSegmentName(name string) (minTime, maxTime model.LogTime, ok bool) {
	// log_1735230000000000000_1735233600000000000_3.gseg
	base, found := strings.CutSuffix(filepath.Base(name), SegmentExt)
	if !found {
		return 0, 0, false
	}
	parts := strings.Split(base, "_")
	if len(parts) != 4 || parts[0] != "log" {
		return 0, 0, false
	}
	minTs, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	maxTs, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if _, err := strconv.Atoi(parts[3]); err != nil {
		return 0, 0, false
	}
	return model.LogTime(minTs), model.LogTime(maxTs), true
}
