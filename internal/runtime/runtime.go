package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/edgepulse/pulse/internal/batcher"
	cfgpkg "github.com/edgepulse/pulse/internal/config"
	"github.com/edgepulse/pulse/internal/event"
	"github.com/edgepulse/pulse/internal/metrics"
	"github.com/edgepulse/pulse/internal/monitor"
	logpkg "github.com/edgepulse/pulse/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
	// Sink delivers finished batches; nil leaves delivery to an external
	// consumer of batch-ready notifications.
	Sink event.Sink
	// Connections feeds the connection health checks; optional.
	Connections monitor.ConnectionSource
}

// Runtime owns the core components for a single-node instance.
type Runtime struct {
	cfg     cfgpkg.Config
	logger  logpkg.Logger
	batcher *batcher.Batcher
	engine  *metrics.Engine
	monitor *monitor.Monitor

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open validates the configuration and constructs the wired components.
func Open(opts Options) (*Runtime, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}

	b, err := batcher.New(opts.Config.Batch, logger)
	if err != nil {
		return nil, err
	}
	engine := metrics.NewEngine(opts.Config.Metrics, logger)
	mon := monitor.New(engine, b, logger, monitor.Options{
		Sink:                opts.Sink,
		Connections:         opts.Connections,
		DeliveryPolicy:      opts.Config.Delivery.OnFailure,
		HealthCheckInterval: time.Duration(opts.Config.Monitor.HealthCheckIntervalMs) * time.Millisecond,
	})

	return &Runtime{cfg: opts.Config, logger: logger, batcher: b, engine: engine, monitor: mon}, nil
}

// Start launches the periodic loops. They stop when ctx is cancelled or
// Close is called.
func (r *Runtime) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.batcher.Start()
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.engine.Run(ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.monitor.Run(ctx)
	}()
}

// Close drains the batcher and stops all periodic loops.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.batcher.Shutdown()
		r.wg.Wait()
		r.logger.Info("runtime closed")
	})
}

// Batcher returns the batching core.
func (r *Runtime) Batcher() *batcher.Batcher { return r.batcher }

// Engine returns the metrics engine.
func (r *Runtime) Engine() *metrics.Engine { return r.engine }

// Monitor returns the composition layer.
func (r *Runtime) Monitor() *monitor.Monitor { return r.monitor }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.cfg }
