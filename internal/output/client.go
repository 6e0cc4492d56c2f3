package output

import (
	"sync"
	"time"

	"github.com/coffersTech/grandoutput/internal/model"
)

// Sender accepts entries for routing. GrandOutput is a Sender.
type Sender interface {
	Handle(topic string, e *model.Entry) bool
}

// Client is one monitor: it stamps the entries it emits with its
// identifier, the current group depth, the previous entry hint and a
// strictly increasing time.
type Client struct {
	sender Sender
	topic  string
	id     model.MonitorID
	now    func() time.Time

	mu       sync.Mutex
	groups   []model.Level
	prevType model.EntryType
	prevTime model.LogTime
}

// NewClient creates a monitor emitting under topic.
func NewClient(s Sender, topic string) *Client {
	return &Client{sender: s, topic: topic, id: model.NewMonitorID(), now: time.Now}
}

// NewClient creates a monitor bound to g.
func (g *GrandOutput) NewClient(topic string) *Client {
	return NewClient(g, topic)
}

// ID returns the monitor identifier.
func (c *Client) ID() model.MonitorID {
	return c.id
}

// Depth returns the number of open groups.
func (c *Client) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.groups)
}

// Line emits a line entry.
func (c *Client) Line(level model.Level, text string, tags ...string) bool {
	return c.emit(model.Entry{Type: model.EntryLine, Level: level, Text: text, Tags: tags})
}

// Error emits a line entry carrying err as exception text.
func (c *Client) Error(err error, text string, tags ...string) bool {
	e := model.Entry{Type: model.EntryLine, Level: model.LevelError, Text: text, Tags: tags}
	if err != nil {
		e.Exception = err.Error()
		if text == "" {
			e.Text = e.Exception
		}
	}
	return c.emit(e)
}

// OpenGroup emits an open group entry. Following entries are nested in it
// until CloseGroup.
func (c *Client) OpenGroup(level model.Level, text string, tags ...string) bool {
	return c.emit(model.Entry{Type: model.EntryOpenGroup, Level: level, Text: text, Tags: tags})
}

// CloseGroup closes the innermost group. It does nothing when no group is
// open.
func (c *Client) CloseGroup(conclusions ...string) bool {
	return c.emit(model.Entry{Type: model.EntryCloseGroup, Conclusions: conclusions})
}

// Send emits a caller built entry. Type, level, texts, tags, file and
// line are kept, the monitor fields are overwritten.
func (c *Client) Send(e model.Entry) bool {
	return c.emit(e)
}

func (c *Client) emit(e model.Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch e.Type {
	case model.EntryOpenGroup:
		e.Depth = len(c.groups)
		c.groups = append(c.groups, e.Level)
	case model.EntryCloseGroup:
		if len(c.groups) == 0 {
			return false
		}
		last := len(c.groups) - 1
		if e.Level == model.LevelNone {
			e.Level = c.groups[last]
		}
		c.groups = c.groups[:last]
		e.Depth = last
	default:
		e.Type = model.EntryLine
		e.Depth = len(c.groups)
	}
	e.MonitorID = c.id
	e.Time = c.nextTime()
	e.PreviousType = c.prevType
	e.PreviousTime = c.prevTime
	c.prevType = e.Type
	c.prevTime = e.Time
	// Handle does not block, holding the lock keeps the monitor's
	// entries in emission order.
	return c.sender.Handle(c.topic, &e)
}

// nextTime returns the current time, bumped past the previous entry when
// the clock did not move forward.
func (c *Client) nextTime() model.LogTime {
	t := model.TimeOf(c.now())
	if t <= c.prevTime {
		t = c.prevTime + 1
	}
	return t
}
