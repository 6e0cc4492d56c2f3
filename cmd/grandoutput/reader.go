package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/coffersTech/grandoutput/internal/logreader"
	"github.com/coffersTech/grandoutput/internal/model"
	"github.com/coffersTech/grandoutput/internal/textsink"
)

func openActivity(dir string, active bool) (*logreader.ActivityMap, error) {
	r := logreader.NewMultiLogReader(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if _, err := r.AddDirectory(dir, true, active); err != nil {
		return nil, err
	}
	return r.GetActivityMap(), nil
}

func listMonitors(args []string) error {
	flags := pflag.NewFlagSet("monitors", pflag.ContinueOnError)
	dir := flags.String("data", "data", "directory of segment files")
	active := flags.Bool("active", false, "include segments still being written")
	if err := flags.Parse(args); err != nil {
		return err
	}

	amap, err := openActivity(*dir, *active)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MONITOR\tFIRST\tLAST\tFILES\tTAGS")
	for _, m := range amap.Monitors() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", m.ID, m.FirstEntryTime, m.LastEntryTime, len(m.Occurrences()), formatTags(m.Tags()))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if invalid := len(amap.Files()) - len(amap.ValidFiles()); invalid > 0 {
		fmt.Fprintf(os.Stderr, "%d invalid segment files skipped\n", invalid)
	}
	return nil
}

func formatTags(tags map[string]int) string {
	parts := make([]string, 0, len(tags))
	for tag, n := range tags {
		parts = append(parts, tag+":"+strconv.Itoa(n))
	}
	slices.Sort(parts)
	return strings.Join(parts, ",")
}

func replay(args []string) error {
	flags := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	dir := flags.String("data", "data", "directory of segment files")
	monitor := flags.String("monitor", "", "monitor id")
	from := flags.String("from", "", "start time, RFC 3339 or nanoseconds since the epoch")
	level := flags.String("level", "none", "minimum level printed")
	active := flags.Bool("active", false, "include segments still being written")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *monitor == "" {
		return errors.New("--monitor is required")
	}
	id, err := uuid.Parse(*monitor)
	if err != nil {
		return fmt.Errorf("invalid --monitor: %w", err)
	}
	start, err := parseTime(*from)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}

	amap, err := openActivity(*dir, *active)
	if err != nil {
		return err
	}
	m := amap.FindMonitor(id)
	if m == nil {
		return fmt.Errorf("monitor %s not found in %s", id, *dir)
	}

	sink := textsink.New(textsink.Options{Writer: os.Stdout, MinLevel: model.ParseLevel(*level)})
	if err := sink.Initialize(); err != nil {
		return err
	}
	if err := m.ReplayFrom(start, logreader.HandlerTarget{Handler: sink}); err != nil {
		sink.Close()
		return err
	}
	return sink.Close()
}

func parseTime(s string) (model.LogTime, error) {
	if s == "" {
		return model.UnknownTime, nil
	}
	if ns, err := strconv.ParseInt(s, 10, 64); err == nil {
		return model.LogTime(ns), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return model.UnknownTime, err
	}
	return model.TimeOf(t), nil
}
