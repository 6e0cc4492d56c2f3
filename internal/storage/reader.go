package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/coffersTech/grandoutput/internal/model"
)

// SegmentReader iterates over the records of one segment file.
//
// A file whose last frame is incomplete (the writer was interrupted or has
// not flushed yet) ends early with Truncated set; Error stays nil. Any
// other read or decoding problem stops the iteration with an error.
type SegmentReader struct {
	path        string
	file        *os.File
	compression Compression
	stream      io.Reader
	release     func()

	pos       int64
	offset    int64
	entry     model.Entry
	buf       []byte
	lenBuf    [4]byte
	truncated bool
	err       error
}

// OpenSegment opens a segment file positioned before its first record.
func OpenSegment(path string) (*SegmentReader, error) {
	return OpenSegmentAt(path, 0)
}

// OpenSegmentAt opens a segment file positioned before the record found at
// offset, as returned by Offset.
func OpenSegmentAt(path string, offset int64) (*SegmentReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &SegmentReader{path: path, file: f}
	if err := r.init(offset); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func (r *SegmentReader) init(offset int64) error {
	// 1. Validate Header
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r.file, header); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	if !bytes.Equal(header[:len(Magic)], Magic) {
		return ErrInvalidHeader
	}
	r.compression = Compression(header[len(Magic)])

	// 2. Position the uncompressed stream
	if r.compression == CompressionNone && offset > 0 {
		if _, err := r.file.Seek(headerSize+offset, io.SeekStart); err != nil {
			return err
		}
	}
	stream, release, err := newStreamReader(r.file, r.compression)
	if err != nil {
		return err
	}
	r.stream, r.release = stream, release
	if r.compression != CompressionNone && offset > 0 {
		if _, err := io.CopyN(io.Discard, r.stream, offset); err != nil {
			release()
			return fmt.Errorf("seek to offset %d: %w", offset, err)
		}
	}
	r.pos = offset
	return nil
}

// Next reads the next record. It returns false at the end of the file or
// on error.
func (r *SegmentReader) Next() bool {
	if r.err != nil || r.stream == nil {
		return false
	}
	start := r.pos
	if _, err := io.ReadFull(r.stream, r.lenBuf[:]); err != nil {
		r.endOnReadError(start, err)
		return false
	}
	length := binary.LittleEndian.Uint32(r.lenBuf[:])
	if length == 0 || length > maxRecordSize {
		r.err = fmt.Errorf("%w: frame length %d at offset %d", ErrCorruptRecord, length, start)
		return false
	}
	if cap(r.buf) < int(length) {
		r.buf = make([]byte, length)
	}
	r.buf = r.buf[:length]
	if _, err := io.ReadFull(r.stream, r.buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		r.endOnReadError(start, err)
		return false
	}
	if err := decodeEntry(r.buf, &r.entry); err != nil {
		r.err = fmt.Errorf("offset %d: %w", start, err)
		return false
	}
	r.offset = start
	r.pos = start + 4 + int64(length)
	return true
}

// endOnReadError ends the iteration. A clean end of stream is not an
// error and a stream cut in the middle of a frame is a torn tail. Anything
// else (decompression or I/O failure) invalidates the file.
func (r *SegmentReader) endOnReadError(start int64, err error) {
	r.stream = nil
	switch {
	case errors.Is(err, io.EOF):
	case errors.Is(err, io.ErrUnexpectedEOF):
		r.truncated = true
	default:
		r.err = fmt.Errorf("offset %d: %w", start, err)
	}
}

// Entry returns the current record. The value is overwritten by Next.
func (r *SegmentReader) Entry() *model.Entry {
	return &r.entry
}

// Offset returns the offset of the current record.
func (r *SegmentReader) Offset() int64 {
	return r.offset
}

// Compression returns the compression of the file.
func (r *SegmentReader) Compression() Compression {
	return r.compression
}

// Path returns the file path.
func (r *SegmentReader) Path() string {
	return r.path
}

// Truncated reports whether the file ended in the middle of a frame.
func (r *SegmentReader) Truncated() bool {
	return r.truncated
}

// Error returns the error that stopped the iteration, if any.
func (r *SegmentReader) Error() error {
	return r.err
}

func (r *SegmentReader) Close() error {
	if r.release != nil {
		r.release()
		r.release = nil
	}
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
