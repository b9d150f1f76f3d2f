package serverrun

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/edgepulse/pulse/internal/config"
	"github.com/edgepulse/pulse/internal/event"
	"github.com/edgepulse/pulse/internal/monitor"
	"github.com/edgepulse/pulse/internal/runtime"
	httpserver "github.com/edgepulse/pulse/internal/server/http"
	logpkg "github.com/edgepulse/pulse/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing; replaced by os.Getenv at build time
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	ConfigPath string
	HTTPAddr   string
	Config     cfgpkg.Config
	// Sink delivers finished batches; nil leaves delivery to subscribers.
	Sink event.Sink
	// Connections feeds the connection health checks; optional.
	Connections monitor.ConnectionSource
}

// Run starts the runtime and HTTP server and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context
	// or if signal delivery needs to be observed here. We layer a
	// local signal context over the provided one.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if opts.ConfigPath != "" {
		loaded, err := cfgpkg.Load(opts.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfgpkg.FromEnv(&cfg)
	if opts.HTTPAddr != "" {
		cfg.HTTPAddr = opts.HTTPAddr
	}

	// Build process-wide logger using env/ApplyConfig; defaults: level=info, format=text
	lcfg := &logpkg.Config{
		Level:  getenvDefault("PULSE_LOG_LEVEL", cfg.Log.Level),
		Format: getenvDefault("PULSE_LOG_FORMAT", cfg.Log.Format),
	}
	procLogger, err := logpkg.ApplyConfig(lcfg)
	if err != nil {
		// Fallback to a sane default
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(lcfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormat(logpkg.FormatText))
	}

	rt, err := runtime.Open(runtime.Options{
		Config:      cfg,
		Logger:      procLogger,
		Sink:        opts.Sink,
		Connections: opts.Connections,
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.Start(sctx)

	procLogger.Info("Starting Pulse server",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("strategy", string(cfg.Batch.Strategy)),
		logpkg.Str("level", lcfg.Level),
		logpkg.Str("format", lcfg.Format),
	)

	hsrv := httpserver.New(rt, procLogger.With(logpkg.Component("http")))

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		if err := hsrv.ListenAndServe(gctx, cfg.HTTPAddr); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})

	<-gctx.Done()
	return g.Wait()
}
