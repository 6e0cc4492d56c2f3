// Package textsink writes events as human readable lines.
package textsink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/coffersTech/grandoutput/internal/action"
	"github.com/coffersTech/grandoutput/internal/handler"
	"github.com/coffersTech/grandoutput/internal/model"
)

// Kind is the leaf kind of text sinks.
const Kind = "text"

// Options configure a text sink.
type Options struct {
	// Path of the output file, opened in append mode. Empty means Writer,
	// or standard output when Writer is nil.
	Path     string
	Writer   io.Writer
	MinLevel model.Level
}

// Sink writes one line per entry, indented by depth:
//
//	2026-01-02T15:04:05.000000000Z INFO  0f8e.. orders |  > opening
type Sink struct {
	opts Options
	file *os.File
	w    *bufio.Writer
}

// New creates a sink. The output is opened by Initialize.
func New(opts Options) *Sink {
	return &Sink{opts: opts}
}

// Register registers the text kind. Leaf options must be an Options, a
// *Options or nil.
func Register(reg *handler.Registry) error {
	return reg.Register(Kind, func(leaf *action.Leaf) (handler.Handler, error) {
		switch o := leaf.Options.(type) {
		case nil:
			return New(Options{}), nil
		case Options:
			return New(o), nil
		case *Options:
			if o != nil {
				return New(*o), nil
			}
		}
		return nil, fmt.Errorf("text sink: unexpected options %T", leaf.Options)
	})
}

func (s *Sink) Initialize() error {
	out := s.opts.Writer
	if s.opts.Path != "" {
		f, err := os.OpenFile(s.opts.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		s.file = f
		out = f
	}
	if out == nil {
		out = os.Stdout
	}
	s.w = bufio.NewWriter(out)
	return nil
}

func (s *Sink) Handle(ev *model.Event, _ bool) error {
	e := &ev.Entry
	if e.Level < s.opts.MinLevel {
		return nil
	}
	if _, err := io.WriteString(s.w, Format(ev)); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *Sink) Close() error {
	var err error
	if s.w != nil {
		err = s.w.Flush()
	}
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Format renders one event as a line, newline included.
func Format(ev *model.Event) string {
	e := &ev.Entry
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %.8s", e.Time, e.Level, e.MonitorID.String())
	if ev.Topic != "" {
		fmt.Fprintf(&b, " %s", ev.Topic)
	}
	b.WriteString(" |")
	b.WriteString(strings.Repeat("  ", e.Depth))
	switch e.Type {
	case model.EntryOpenGroup:
		b.WriteString(" > ")
	case model.EntryCloseGroup:
		b.WriteString(" < ")
	default:
		b.WriteString(" ")
	}
	b.WriteString(e.Text)
	if len(e.Tags) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Tags, ","))
	}
	if len(e.Conclusions) > 0 {
		fmt.Fprintf(&b, " => %s", strings.Join(e.Conclusions, "; "))
	}
	if e.Exception != "" {
		fmt.Fprintf(&b, "\n%s", e.Exception)
	}
	b.WriteByte('\n')
	return b.String()
}
