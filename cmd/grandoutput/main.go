// grandoutput runs the GrandOutput daemon and reads its segment files.
//
//	grandoutput serve [--config file] [--listen addr] [--data dir]
//	grandoutput monitors [--data dir] [--active]
//	grandoutput replay --monitor id [--data dir] [--from time] [--level level]
//	grandoutput hash-token token
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/coffersTech/grandoutput/internal/action"
	"github.com/coffersTech/grandoutput/internal/config"
	"github.com/coffersTech/grandoutput/internal/model"
	"github.com/coffersTech/grandoutput/internal/output"
	"github.com/coffersTech/grandoutput/internal/registry"
	"github.com/coffersTech/grandoutput/internal/route"
	"github.com/coffersTech/grandoutput/internal/server"
	"github.com/coffersTech/grandoutput/internal/storage"
	"github.com/coffersTech/grandoutput/internal/textsink"
)

const usage = `usage: grandoutput <command> [flags]

commands:
  serve       run the ingest daemon
  monitors    list the monitors found in segment files
  replay      print the reconstructed timeline of a monitor
  hash-token  print the bcrypt hash of a bearer token
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "serve":
		return serve(args)
	case "monitors":
		return listMonitors(args)
	case "replay":
		return replay(args)
	case "hash-token":
		if len(args) != 1 {
			return errors.New("usage: grandoutput hash-token <token>")
		}
		hash, err := server.HashToken(args[0])
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func serve(args []string) error {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	configPath := flags.String("config", "", "YAML configuration file")
	listen := flags.String("listen", "", "HTTP address to listen on (overrides the file)")
	dataDir := flags.String("data", "", "directory of segment files (overrides the file)")
	retention := flags.Duration("retention", 0, "segment retention, e.g. 72h (overrides the file)")
	consoleLevel := flags.String("console-level", "warn", `minimum level echoed to stdout, "none" to disable`)
	logLevel := flags.String("log-level", "info", "level of the daemon's own logs")
	liveTimeout := flags.Duration("live-timeout", 10*time.Minute, "delay after which a silent monitor leaves /api/live")
	if err := flags.Parse(args); err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if flags.Changed("listen") {
		cfg.Listen = *listen
	}
	if flags.Changed("data") {
		cfg.DataDir = *dataDir
	}
	if flags.Changed("retention") {
		cfg.Retention = *retention
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	strategy, err := cfg.Strategy()
	if err != nil {
		return err
	}
	common := storage.NewSink(storage.SinkOptions{
		Dir:               cfg.DataDir,
		Compression:       cfg.Compression(),
		MaxEntriesPerFile: cfg.Segment.MaxEntriesPerFile,
	}, logger)
	g, err := output.New(
		output.WithLogger(logger),
		output.WithRegisterer(reg),
		output.WithStrategy(strategy),
		output.WithLostEventsCooldown(cfg.Dispatcher.LostEventsCooldown),
		output.WithCommonSink(common),
	)
	if err != nil {
		return err
	}
	if err := g.ApplyConfiguration(consoleRoutes(*consoleLevel)); err != nil {
		g.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Retention > 0 {
		go storage.RunCleaner(ctx, cfg.DataDir, cfg.Retention, cfg.CleanInterval, logger)
	}

	live := registry.NewStore()
	live.StartCleanupLoop(ctx, time.Minute, *liveTimeout)

	srv := server.New(server.Options{
		Ingester: g,
		Registry: live,
		DataDir:  cfg.DataDir,
		Tokens:   cfg.Tokens,
		Gatherer: reg,
		Logger:   logger,
	})
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen, "data", cfg.DataDir, "retention", cfg.Retention)
		errc <- srv.Start(cfg.Listen)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errc:
		logger.Error("server stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Error("server shutdown", "error", serr)
	}
	if cerr := g.Close(); cerr != nil {
		logger.Error("closing output", "error", cerr)
	}
	logger.Info("exited", "dispatched", g.Dispatched(), "dropped", g.Dropped())
	return err
}

// consoleRoutes is the route configuration of the daemon: every entry at
// or above level is echoed to stdout, on top of the common segment sink.
func consoleRoutes(level string) *route.Configuration {
	cfg := route.New("root")
	if level == "none" {
		return cfg
	}
	return cfg.AddAction(action.NewLeaf("console", textsink.Kind, textsink.Options{
		Writer:   os.Stdout,
		MinLevel: model.ParseLevel(level),
	}))
}
