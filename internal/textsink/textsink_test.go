package textsink

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/grandoutput/internal/action"
	"github.com/coffersTech/grandoutput/internal/handler"
	"github.com/coffersTech/grandoutput/internal/model"
)

func TestFormat(t *testing.T) {
	id := model.NewMonitorID()
	ev := &model.Event{Topic: "orders", Entry: model.Entry{
		Type:        model.EntryOpenGroup,
		MonitorID:   id,
		Time:        model.LogTime(1_700_000_000_000_000_000),
		Depth:       2,
		Level:       model.LevelWarn,
		Text:        "checkout",
		Tags:        []string{"db", "slow"},
		Conclusions: []string{"done"},
	}}
	got := Format(ev)
	assert.Contains(t, got, "2023-11-14T22:13:20Z WARN  "+id.String()[:8]+" orders |     > checkout [db,slow] => done\n")
}

func TestSink_MinLevelAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	reg := handler.NewRegistry()
	require.NoError(t, Register(reg))

	h, err := reg.New(action.NewLeaf("text", Kind, Options{Path: path, MinLevel: model.LevelInfo}))
	require.NoError(t, err)
	require.NoError(t, h.Initialize())
	require.NoError(t, h.Handle(&model.Event{Entry: model.Entry{Type: model.EntryLine, Level: model.LevelDebug, Text: "hidden"}}, false))
	require.NoError(t, h.Handle(&model.Event{Entry: model.Entry{Type: model.EntryLine, Level: model.LevelError, Text: "shown"}}, false))
	require.NoError(t, h.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestSink_Writer(t *testing.T) {
	var buf bytes.Buffer
	s := New(Options{Writer: &buf})
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Handle(&model.Event{Entry: model.Entry{Type: model.EntryLine, Level: model.LevelInfo, Text: "hello"}}, true))
	assert.Contains(t, buf.String(), "| hello\n")
	require.NoError(t, s.Close())

	reg := handler.NewRegistry()
	require.NoError(t, Register(reg))
	_, err := reg.New(action.NewLeaf("bad", Kind, 42))
	assert.Error(t, err)
}
