// Package slogbridge is a log/slog handler shipping records to a
// GrandOutput server as entries of one monitor.
//
// Records logged with OpenGroup and CloseGroup become group entries, every
// other record becomes a line nested in the open groups:
//
//	h := slogbridge.NewHandler(slogbridge.Options{
//		Transport: &slogbridge.HTTPTransport{ServerURL: "http://localhost:8088", APIKey: key},
//		Topic:     "billing",
//	})
//	defer h.Shutdown()
//	logger := slog.New(h)
//	slogbridge.OpenGroup(ctx, logger, slog.LevelInfo, "invoice run")
//	logger.Info("sent", "count", 12)
//	slogbridge.CloseGroup(ctx, logger, "done")
package slogbridge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// GroupKey is the attribute marking group records. Its value is "open" or
// "close". GroupLevelKey carries the level of an open group.
const (
	GroupKey      = "grandoutput.group"
	GroupLevelKey = "grandoutput.level"
)

// groupRecordLevel is above any handler threshold: group records are
// always handled so that opens and closes stay paired.
const groupRecordLevel = slog.LevelError + 8

// Options configure a Handler.
type Options struct {
	Transport Transport
	Topic     string
	// Level is the minimum level handled, slog.LevelInfo when nil.
	Level         slog.Leveler
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
	// OnError receives transport errors. They are printed to stderr when
	// nil.
	OnError func(error)
}

// Handler converts records to entries and sends them in batches from a
// background goroutine. Records are dropped when the queue is full.
type Handler struct {
	core   *core
	tags   []string
	prefix string
}

type core struct {
	opts    Options
	monitor string
	queue   chan Entry
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64

	mu       sync.Mutex
	groups   []string
	prevType string
	prevTime int64
}

// NewHandler starts the sender goroutine. Shutdown must be called to
// flush pending records.
func NewHandler(opts Options) *Handler {
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 10000
	}
	if opts.OnError == nil {
		opts.OnError = func(err error) {
			fmt.Fprintf(os.Stderr, "GrandOutput send failed: %v\n", err)
		}
	}
	c := &core{
		opts:    opts,
		monitor: uuid.New().String(),
		queue:   make(chan Entry, opts.QueueSize),
		done:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.runLoop()
	return &Handler{core: c}
}

// Monitor returns the monitor identifier of the entries.
func (h *Handler) Monitor() string {
	return h.core.monitor
}

// Dropped returns the number of records lost because the queue was full.
func (h *Handler) Dropped() uint64 {
	return h.core.dropped.Load()
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.core.opts.Level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	e := Entry{
		Topic:   h.core.opts.Topic,
		Monitor: h.core.monitor,
		Type:    "line",
		Level:   levelName(r.Level),
		Text:    r.Message,
		Tags:    slices.Clone(h.tags),
	}
	if r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		e.File = f.File
		e.Line = f.Line
	}
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case GroupKey:
			e.Type = a.Value.String()
		case GroupLevelKey:
			if a.Value.Kind() == slog.KindInt64 {
				e.Level = levelName(slog.Level(a.Value.Int64()))
			}
		default:
			h.addAttr(&e, h.prefix, a)
		}
		return true
	})
	if !h.core.stamp(&e, r.Time) {
		return nil
	}

	select {
	case h.core.queue <- e:
	default:
		h.core.dropped.Add(1)
	}
	return nil
}

// addAttr maps an attribute to the entry. The first error fills the
// exception, everything else becomes a "key=value" tag.
func (h *Handler) addAttr(e *Entry, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			h.addAttr(e, p, ga)
		}
		return
	}
	if err, ok := a.Value.Any().(error); ok && e.Exception == "" {
		e.Exception = err.Error()
		return
	}
	e.Tags = append(e.Tags, prefix+a.Key+"="+a.Value.String())
}

// stamp sets depth, time and the previous entry hint. It reports false for
// a close without open group.
func (c *core) stamp(e *Entry, t time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Type {
	case "open":
		e.Depth = len(c.groups)
		c.groups = append(c.groups, e.Level)
	case "close":
		if len(c.groups) == 0 {
			return false
		}
		last := len(c.groups) - 1
		e.Depth = last
		e.Level = c.groups[last]
		c.groups = c.groups[:last]
		if e.Text != "" {
			e.Conclusions = append(e.Conclusions, e.Text)
			e.Text = ""
		}
	default:
		e.Type = "line"
		e.Depth = len(c.groups)
	}

	if t.IsZero() {
		t = time.Now()
	}
	e.Time = max(t.UnixNano(), c.prevTime+1)
	e.PreviousType = c.prevType
	e.PreviousTime = c.prevTime
	c.prevType = e.Type
	c.prevTime = e.Time
	return true
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	var e Entry
	e.Tags = slices.Clone(h.tags)
	for _, a := range attrs {
		h2.addAttr(&e, h.prefix, a)
	}
	h2.tags = e.Tags
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func (c *core) runLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	var batch []Entry
	send := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.opts.Transport.Send(ctx, batch); err != nil {
			c.opts.OnError(err)
		}
		batch = nil
	}

	for {
		select {
		case e := <-c.queue:
			batch = append(batch, e)
			if len(batch) >= c.opts.BatchSize {
				send()
			}
		case <-ticker.C:
			send()
		case <-c.done:
			for {
				select {
				case e := <-c.queue:
					batch = append(batch, e)
				default:
					send()
					return
				}
			}
		}
	}
}

// Shutdown sends the pending records and stops the sender goroutine.
func (h *Handler) Shutdown() {
	h.core.once.Do(func() { close(h.core.done) })
	h.core.wg.Wait()
}

// OpenGroup logs an open group record at level. Records logged until the
// matching CloseGroup are nested in it. Group records bypass the level
// threshold of the handler.
func OpenGroup(ctx context.Context, l *slog.Logger, level slog.Level, msg string, args ...any) {
	l.Log(ctx, groupRecordLevel, msg, append(args, slog.String(GroupKey, "open"), slog.Int(GroupLevelKey, int(level)))...)
}

// CloseGroup closes the innermost group. The close takes the level of its
// group; a non empty conclusion is attached to it.
func CloseGroup(ctx context.Context, l *slog.Logger, conclusion string, args ...any) {
	l.Log(ctx, groupRecordLevel, conclusion, append(args, slog.String(GroupKey, "close"))...)
}

func levelName(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "debug"
	case l < slog.LevelWarn:
		return "info"
	case l < slog.LevelError:
		return "warn"
	case l < slog.LevelError+4:
		return "error"
	default:
		return "fatal"
	}
}
