package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/grandoutput/internal/model"
	"github.com/coffersTech/grandoutput/internal/route"
)

func TestParseTime(t *testing.T) {
	lt, err := parseTime("")
	require.NoError(t, err)
	assert.Equal(t, model.UnknownTime, lt)

	lt, err = parseTime("1700000000000000000")
	require.NoError(t, err)
	assert.Equal(t, model.LogTime(1_700_000_000_000_000_000), lt)

	lt, err = parseTime("2026-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, model.TimeOf(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)), lt)

	_, err = parseTime("yesterday")
	assert.Error(t, err)
}

func TestFormatTags(t *testing.T) {
	assert.Equal(t, "a:2,b:1", formatTags(map[string]int{"b": 1, "a": 2}))
	assert.Empty(t, formatTags(nil))
}

func TestConsoleRoutes(t *testing.T) {
	res, err := route.Resolve(consoleRoutes("warn"))
	require.NoError(t, err)
	assert.Equal(t, []string{"console"}, res.ActionNames())

	res, err = route.Resolve(consoleRoutes("none"))
	require.NoError(t, err)
	assert.Empty(t, res.ActionNames())
}

func TestRun_UnknownCommand(t *testing.T) {
	assert.Error(t, run(nil))
	assert.ErrorContains(t, run([]string{"bogus"}), "unknown command")
	assert.Error(t, run([]string{"hash-token"}))
	assert.ErrorContains(t, run([]string{"replay", "--data", t.TempDir()}), "--monitor is required")
}
