package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fastjson"

	"github.com/coffersTech/grandoutput/internal/model"
)

// handleIngest processes POST /api/ingest. The body is one entry object or
// an array of them:
//
//	{"topic": "orders", "monitor": "<uuid>", "type": "open", "time": 1700000000000000000,
//	 "depth": 0, "previous_type": "line", "previous_time": 1699999999000000000,
//	 "level": "info", "text": "checkout", "tags": ["db"]}
//
// Every entry is validated before any is routed.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.logger.Warn("read ingest body", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	p := s.parser.Get()
	defer s.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	var values []*fastjson.Value
	if v.Type() == fastjson.TypeArray {
		values, _ = v.Array()
	} else {
		values = []*fastjson.Value{v}
	}

	now := model.TimeOf(time.Now())
	topics := make([]string, len(values))
	entries := make([]model.Entry, len(values))
	for i, val := range values {
		if topics[i], err = parseEntry(val, now, &entries[i]); err != nil {
			http.Error(w, fmt.Sprintf("entry %d: %v", i, err), http.StatusBadRequest)
			return
		}
	}

	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	var accepted, rejected int
	for i := range entries {
		if s.ingester.Handle(topics[i], &entries[i]) {
			s.live.Observe(topics[i], remote, &entries[i])
			accepted++
		} else {
			rejected++
		}
	}
	s.accepted.Add(uint64(accepted))
	s.rejected.Add(uint64(rejected))
	writeJSON(w, map[string]int{"accepted": accepted, "rejected": rejected})
}

// parseEntry fills e from one JSON object and returns its topic. A missing
// time is replaced by now, a missing type means a line.
func parseEntry(v *fastjson.Value, now model.LogTime, e *model.Entry) (string, error) {
	if v.Type() != fastjson.TypeObject {
		return "", fmt.Errorf("expected an object, got %s", v.Type())
	}
	id, err := parseMonitorID(string(v.GetStringBytes("monitor")))
	if err != nil {
		return "", err
	}
	e.MonitorID = id

	e.Type = model.EntryLine
	if t := v.GetStringBytes("type"); len(t) > 0 {
		if e.Type = model.ParseEntryType(string(t)); e.Type == model.EntryNone {
			return "", fmt.Errorf("unknown type %q", t)
		}
	}
	if t := v.GetStringBytes("previous_type"); len(t) > 0 {
		if e.PreviousType = model.ParseEntryType(string(t)); e.PreviousType == model.EntryNone {
			return "", fmt.Errorf("unknown previous_type %q", t)
		}
		e.PreviousTime = model.LogTime(v.GetInt64("previous_time"))
	}

	e.Time = model.LogTime(v.GetInt64("time"))
	if !e.Time.IsKnown() {
		e.Time = now
	}
	if e.Depth = v.GetInt("depth"); e.Depth < 0 {
		return "", fmt.Errorf("negative depth %d", e.Depth)
	}
	e.Level = model.LevelInfo
	if l := v.GetStringBytes("level"); len(l) > 0 {
		e.Level = model.ParseLevel(string(l))
	}

	e.Text = string(v.GetStringBytes("text"))
	if e.Text == "" {
		e.Text = string(v.GetStringBytes("message"))
	}
	e.Exception = string(v.GetStringBytes("exception"))
	e.File = string(v.GetStringBytes("file"))
	e.Line = v.GetInt("line")
	e.Tags = stringArray(v, "tags")
	e.Conclusions = stringArray(v, "conclusions")

	return string(v.GetStringBytes("topic")), nil
}

func stringArray(v *fastjson.Value, key string) []string {
	arr := v.GetArray(key)
	if len(arr) == 0 {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if b, err := item.StringBytes(); err == nil {
			out = append(out, string(b))
		}
	}
	return out
}

func parseMonitorID(s string) (model.MonitorID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.MonitorID{}, errors.New("missing monitor")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return model.MonitorID{}, fmt.Errorf("invalid monitor %q: %w", s, err)
	}
	return id, nil
}
