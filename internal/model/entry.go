// Package model holds the log entry types shared by the routing pipeline
// and the segment reader.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntryType is the structural kind of an entry.
type EntryType uint8

const (
	EntryNone EntryType = iota
	EntryLine
	EntryOpenGroup
	EntryCloseGroup
)

func (t EntryType) String() string {
	switch t {
	case EntryLine:
		return "line"
	case EntryOpenGroup:
		return "open"
	case EntryCloseGroup:
		return "close"
	default:
		return "none"
	}
}

// ParseEntryType converts a type name produced by String. Unknown names map
// to EntryNone.
func ParseEntryType(s string) EntryType {
	switch s {
	case "line":
		return EntryLine
	case "open":
		return EntryOpenGroup
	case "close":
		return EntryCloseGroup
	default:
		return EntryNone
	}
}

// LogTime is a timestamp in nanoseconds since the Unix epoch.
// The zero value is the Unknown time.
type LogTime int64

// UnknownTime marks a timestamp that could not be determined.
const UnknownTime LogTime = 0

// TimeOf converts t to a LogTime.
func TimeOf(t time.Time) LogTime {
	return LogTime(t.UnixNano())
}

// IsKnown reports whether the timestamp carries a value.
func (t LogTime) IsKnown() bool {
	return t != UnknownTime
}

// Time converts the timestamp back to a time.Time in UTC.
func (t LogTime) Time() time.Time {
	return time.Unix(0, int64(t)).UTC()
}

func (t LogTime) String() string {
	if !t.IsKnown() {
		return "unknown"
	}
	return t.Time().Format(time.RFC3339Nano)
}

// MonitorID identifies one logical logging session.
type MonitorID = uuid.UUID

// NewMonitorID returns a fresh random monitor identifier.
func NewMonitorID() MonitorID {
	return uuid.New()
}

// Entry is one log occurrence as emitted by a monitor and persisted in
// segment files.
//
// Depth is the number of groups open around the entry. A CloseGroup entry
// carries the depth of the OpenGroup it closes. PreviousType and
// PreviousTime describe the entry physically emitted just before this one
// by the same monitor; PreviousType is EntryNone when unknown.
type Entry struct {
	Type         EntryType
	MonitorID    MonitorID
	Time         LogTime
	Depth        int
	PreviousType EntryType
	PreviousTime LogTime
	Tags         []string
	Level        Level
	Text         string
	Exception    string
	File         string
	Line         int
	Conclusions  []string
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s %s d=%d %s %q", e.Time, e.Type, e.Depth, e.Level, e.Text)
}

// HasPrevious reports whether the entry carries a predecessor hint.
func (e *Entry) HasPrevious() bool {
	return e.PreviousType != EntryNone
}

// Event is a routed log occurrence: the entry plus the topic used to pick
// the route.
type Event struct {
	Topic string
	Entry Entry
}
