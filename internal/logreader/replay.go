package logreader

import (
	"github.com/coffersTech/grandoutput/internal/handler"
	"github.com/coffersTech/grandoutput/internal/model"
)

// DefaultReplayPageLength is the page size used by Replay.
const DefaultReplayPageLength = 256

// ReplayTarget receives a replayed timeline.
type ReplayTarget interface {
	Replay(e *ParentedLogEntry) error
}

// ReplayFunc adapts a function to a ReplayTarget.
type ReplayFunc func(e *ParentedLogEntry) error

func (f ReplayFunc) Replay(e *ParentedLogEntry) error { return f(e) }

// HandlerTarget replays into a handler, as events of one topic.
type HandlerTarget struct {
	Handler handler.Handler
	Topic   string
}

func (t HandlerTarget) Replay(e *ParentedLogEntry) error {
	return t.Handler.Handle(&model.Event{Topic: t.Topic, Entry: e.Entry}, false)
}

// Replay feeds the whole reconstructed timeline to target. Placeholders
// are given the Debug level and a text naming what is missing. Replay
// stops at the first target error.
func (m *Monitor) Replay(target ReplayTarget) error {
	return m.ReplayFrom(model.UnknownTime, target)
}

// ReplayFrom replays the timeline from a given time.
func (m *Monitor) ReplayFrom(from model.LogTime, target ReplayTarget) error {
	page, err := m.ReadFirstPageFrom(from, DefaultReplayPageLength)
	if err != nil {
		return err
	}
	defer page.Close()

	for len(page.Entries()) > 0 {
		for i := range page.Entries() {
			e := &page.Entries()[i]
			if e.IsMissing {
				e.Entry.Level = model.LevelDebug
				e.Entry.Text = "<" + e.MissingKind.String() + ">"
			}
			if err := target.Replay(e); err != nil {
				return err
			}
		}
		if _, err := page.ForwardPage(); err != nil {
			m.logger.Warn("replay read error", "monitor", m.ID, "error", err)
		}
	}
	return nil
}
