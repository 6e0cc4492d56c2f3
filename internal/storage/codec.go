// Package storage persists log entries in segment files and reads them
// back.
//
// A segment file starts with an 8 byte magic and a compression byte. The
// rest of the file is a stream, compressed as a whole, of frames:
//
//	[uint32 little endian length][CBOR record]
//
// The offset of a record is its position in the uncompressed frame stream,
// so a reader can resume at a record whatever the compression.
package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/coffersTech/grandoutput/internal/model"
)

// Magic starts every segment file.
var Magic = []byte("GOSEG001")

// headerSize is the magic plus the compression byte.
const headerSize = 9

// maxRecordSize bounds a frame length read from disk.
const maxRecordSize = 16 << 20

var (
	ErrInvalidHeader = errors.New("invalid segment header")
	ErrCorruptRecord = errors.New("corrupt segment record")
)

// Compression is the stream compression of a segment file. Values are
// stored on disk.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
	CompressionLZ4  Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// record is the on-disk form of a model.Entry.
type record struct {
	Type         uint8    `cbor:"1,keyasint"`
	Monitor      []byte   `cbor:"2,keyasint"`
	Time         int64    `cbor:"3,keyasint"`
	Depth        int      `cbor:"4,keyasint"`
	PreviousType uint8    `cbor:"5,keyasint,omitempty"`
	PreviousTime int64    `cbor:"6,keyasint,omitempty"`
	Tags         []string `cbor:"7,keyasint,omitempty"`
	Level        uint8    `cbor:"8,keyasint"`
	Text         string   `cbor:"9,keyasint,omitempty"`
	Exception    string   `cbor:"10,keyasint,omitempty"`
	File         string   `cbor:"11,keyasint,omitempty"`
	Line         int      `cbor:"12,keyasint,omitempty"`
	Conclusions  []string `cbor:"13,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 1 << 16}.DecMode()
	if err != nil {
		panic("storage: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeEntry(e *model.Entry) ([]byte, error) {
	return encMode.Marshal(record{
		Type:         uint8(e.Type),
		Monitor:      e.MonitorID[:],
		Time:         int64(e.Time),
		Depth:        e.Depth,
		PreviousType: uint8(e.PreviousType),
		PreviousTime: int64(e.PreviousTime),
		Tags:         e.Tags,
		Level:        uint8(e.Level),
		Text:         e.Text,
		Exception:    e.Exception,
		File:         e.File,
		Line:         e.Line,
		Conclusions:  e.Conclusions,
	})
}

func decodeEntry(data []byte, e *model.Entry) error {
	var r record
	if err := decMode.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	id, err := uuid.FromBytes(r.Monitor)
	if err != nil {
		return fmt.Errorf("%w: monitor id: %w", ErrCorruptRecord, err)
	}
	if r.Type == uint8(model.EntryNone) || r.Type > uint8(model.EntryCloseGroup) {
		return fmt.Errorf("%w: entry type %d", ErrCorruptRecord, r.Type)
	}
	*e = model.Entry{
		Type:         model.EntryType(r.Type),
		MonitorID:    id,
		Time:         model.LogTime(r.Time),
		Depth:        r.Depth,
		PreviousType: model.EntryType(r.PreviousType),
		PreviousTime: model.LogTime(r.PreviousTime),
		Tags:         r.Tags,
		Level:        model.Level(r.Level),
		Text:         r.Text,
		Exception:    r.Exception,
		File:         r.File,
		Line:         r.Line,
		Conclusions:  r.Conclusions,
	}
	return nil
}

// streamWriter is the compressed side of a segment being written.
type streamWriter interface {
	io.Writer
	Flush() error
	Close() error
}

type rawWriter struct {
	*bufio.Writer
}

func (w rawWriter) Close() error { return w.Flush() }

func newStreamWriter(w io.Writer, c Compression) (streamWriter, error) {
	switch c {
	case CompressionNone:
		return rawWriter{bufio.NewWriter(w)}, nil
	case CompressionZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}

// newStreamReader returns the uncompressed view of r and a function
// releasing decoder resources.
func newStreamReader(r io.Reader, c Compression) (io.Reader, func(), error) {
	switch c {
	case CompressionNone:
		return bufio.NewReader(r), func() {}, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unsupported compression %s", ErrInvalidHeader, c)
	}
}
