package storage

import (
	"fmt"
	"log/slog"

	"github.com/coffersTech/grandoutput/internal/action"
	"github.com/coffersTech/grandoutput/internal/handler"
	"github.com/coffersTech/grandoutput/internal/model"
)

// SinkKind is the leaf kind of segment sinks.
const SinkKind = "segment"

// SinkOptions are the options of a segment leaf.
type SinkOptions struct {
	Dir               string
	Compression       Compression
	MaxEntriesPerFile int
	// SkipCommonSinkEvents drops events that the common sink already
	// receives during the same dispatch.
	SkipCommonSinkEvents bool
}

// Sink is a handler writing every event entry to segment files.
type Sink struct {
	opts   SinkOptions
	logger *slog.Logger
	writer *SegmentWriter
}

// NewSink creates a sink. Files are only opened by Initialize.
func NewSink(opts SinkOptions, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{opts: opts, logger: logger}
}

// RegisterSink registers the segment kind. Leaf options must be a
// SinkOptions or a *SinkOptions.
func RegisterSink(reg *handler.Registry, logger *slog.Logger) error {
	return reg.Register(SinkKind, func(leaf *action.Leaf) (handler.Handler, error) {
		switch o := leaf.Options.(type) {
		case SinkOptions:
			return NewSink(o, logger), nil
		case *SinkOptions:
			if o == nil {
				break
			}
			return NewSink(*o, logger), nil
		}
		return nil, fmt.Errorf("segment sink: unexpected options %T", leaf.Options)
	})
}

func (s *Sink) Initialize() error {
	w, err := NewSegmentWriter(WriterOptions{
		Dir:               s.opts.Dir,
		Compression:       s.opts.Compression,
		MaxEntriesPerFile: s.opts.MaxEntriesPerFile,
		Logger:            s.logger,
	})
	if err != nil {
		return err
	}
	s.writer = w
	return nil
}

func (s *Sink) Handle(ev *model.Event, sendToCommonSink bool) error {
	if sendToCommonSink && s.opts.SkipCommonSinkEvents {
		return nil
	}
	return s.writer.Write(&ev.Entry)
}

// Flush pushes buffered entries to the current file.
func (s *Sink) Flush() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Flush()
}

func (s *Sink) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
