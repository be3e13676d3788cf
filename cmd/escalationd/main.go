//go:build unix

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/natefinch/lumberjack"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hmyuuu/escalationd/internal/config"
	"github.com/hmyuuu/escalationd/internal/lifecycle"
	"github.com/hmyuuu/escalationd/internal/liveness"
	"github.com/hmyuuu/escalationd/internal/notifier"
	"github.com/hmyuuu/escalationd/internal/scheduler"
	"github.com/hmyuuu/escalationd/internal/session"
)

var (
	sockFile             = flag.String("sock-file", "", "path to the escalation domain socket")
	logFile              = flag.String("log-file", "", "path to the rotating log file")
	notifierPath         = flag.String("notifier-path", "", "path to the notifier binary")
	pidCheckInterval     = flag.Duration("pid-check-interval", config.DefaultPIDCheckInterval, "how often to sweep for dead session PIDs")
	foreground           = flag.Bool("foreground", false, "log human-readable to stderr instead of the log file")
	enableVerboseLogging = flag.Bool("v", false, "enables verbose logging")
	versionFlag          = flag.Bool("version", false, "build version")
	metricsEnable        = flag.Bool("metrics-enable", false, "Enable prometheus metrics")
	metricsAddr          = flag.String("metrics-addr", "localhost:0", "Address to listen on for prometheus metrics")

	// set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("build: %s\n", commit)
		fmt.Printf("version: %s\n", version)
		fmt.Printf("date: %s\n", date)
		os.Exit(0)
	}

	cfg := config.Default()
	if *sockFile != "" {
		cfg.SocketPath = *sockFile
	}
	if *logFile != "" {
		cfg.LogPath = *logFile
	}
	if *notifierPath != "" {
		cfg.NotifierPath = *notifierPath
	}
	cfg.PIDCheckInterval = *pidCheckInterval

	if err := cfg.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create runtime directories: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogPath, *foreground, *enableVerboseLogging)
	slog.SetDefault(logger)

	if *metricsEnable {
		go func() {
			listener, err := net.Listen("tcp", *metricsAddr)
			if err != nil {
				slog.Error("Failed to start prometheus metrics listener", "error", err)
				os.Exit(1)
			}
			http.Handle("/metrics", promhttp.Handler())

			slog.Info("prometheus metrics server started", "address", listener.Addr().String())
			if err := http.Serve(listener, nil); err != nil {
				slog.Error("prometheus metrics server exited", "error", err)
			}
		}()
	}

	sink := notifier.New(cfg.NotifierPath, notifier.WithLogger(logger))
	prober := liveness.New(liveness.WithLogger(logger))
	defer prober.Close()

	// The sweeper may empty the registry on its own; that clears the running
	// flag the same way an unregister of the last session does.
	var supervisor *lifecycle.Supervisor
	registry := session.New(
		session.WithLogger(logger),
		session.WithOnEmpty(func() { supervisor.RequestShutdown() }),
	)

	engine := scheduler.New(
		scheduler.WithSessionLookup(registry),
		scheduler.WithBusyChecker(prober),
		scheduler.WithSink(sink),
		scheduler.WithLogger(logger),
	)

	supervisor = lifecycle.New(lifecycle.Deps{
		SocketPath:       cfg.SocketPath,
		Engine:           engine,
		Sessions:         registry,
		Prober:           prober,
		PIDCheckInterval: cfg.PIDCheckInterval,
		Logger:           logger,
	})

	if err := supervisor.Run(context.Background()); err != nil {
		slog.Error("runtime error", "error", err)
		os.Exit(1)
	}
}

// newLogger builds the daemon's logger: a rotating JSON file when
// daemonized, a colorized stderr handler when run in the foreground.
func newLogger(logPath string, foreground, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	if foreground || logPath == "" {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}

	out := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    1, // megabytes
		MaxBackups: 3,
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}
