// Package daemon runs the sampling scheduler, the build listener and the control socket.
package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/msageha/cistatsd/internal/config"
	"github.com/msageha/cistatsd/internal/events"
	"github.com/msageha/cistatsd/internal/lock"
	"github.com/msageha/cistatsd/internal/model"
	"github.com/msageha/cistatsd/internal/statsd"
	"github.com/msageha/cistatsd/internal/uds"
)

// Daemon is the long-running cistatsd process for one .cistatsd directory.
type Daemon struct {
	baseDir string
	store   *config.Store
	level   zap.AtomicLevel
	logger  *zap.Logger
	logFile io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	bus      *events.Bus
	metrics  *MetricsHandler
	promSrv  *metricsServer

	hosts     HostFactory
	sender    statsd.Sender
	pipeline  *Pipeline
	scheduler *Scheduler
	listener  *BuildListener

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
	done     chan struct{}
}

// New creates a Daemon logging to baseDir/logs/daemon.log.
func New(baseDir string, store *config.Store) (*Daemon, error) {
	logPath := filepath.Join(baseDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(baseDir, store, logFile, logFile), nil
}

func newDaemon(baseDir string, store *config.Store, w io.Writer, closer io.Closer) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := store.Current()

	level := zap.NewAtomicLevelAt(parseLogLevel(cfg.Logging.Level))
	logger := newLogger(w, level)

	return &Daemon{
		baseDir:  baseDir,
		store:    store,
		level:    level,
		logger:   logger,
		logFile:  closer,
		fileLock: lock.NewFileLock(filepath.Join(baseDir, "locks", "daemon.lock")),
		server:   uds.NewServer(filepath.Join(baseDir, uds.DefaultSocketName), logger.Named("uds")),
		bus:      events.NewBus(100, logger.Named("events")),
		metrics:  NewMetricsHandler(baseDir, logger.Named("state")),
		hosts:    JenkinsHosts(),
		sender:   statsd.NewTransport(logger.Named("transport")),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// SetHostFactory replaces the Jenkins host. Must be called before Run.
func (d *Daemon) SetHostFactory(f HostFactory) {
	d.hosts = f
}

// SetSender replaces the UDP transport. Must be called before Run.
func (d *Daemon) SetSender(s statsd.Sender) {
	d.sender = s
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := d.start(); err != nil {
		return err
	}
	d.waitSignals()
	<-d.done
	return nil
}

func (d *Daemon) start() error {
	for _, dir := range []string{"state", "locks", "logs"} {
		if err := os.MkdirAll(filepath.Join(d.baseDir, dir), 0755); err != nil {
			return fmt.Errorf("ensure dir %s: %w", dir, err)
		}
	}

	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.logger.Info("daemon starting", zap.Int("pid", os.Getpid()), zap.String("dir", d.baseDir))

	if err := d.metrics.Load(); err != nil {
		d.logger.Warn("could not restore counters", zap.Error(err))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher
	if err := watcher.Add(filepath.Dir(d.store.Path())); err != nil {
		d.cleanup()
		return fmt.Errorf("watch %s: %w", filepath.Dir(d.store.Path()), err)
	}

	d.pipeline = NewPipeline(d.store, d.hosts, d.sender, d.metrics, d.bus, d.logger.Named("tick"))
	d.scheduler = NewScheduler(
		func() time.Duration { return d.store.Current().Schedule.Interval() },
		func(ctx context.Context) { d.pipeline.Tick(ctx) },
		d.metrics.RecordSkipped,
		d.logger.Named("scheduler"),
	)
	d.listener = NewBuildListener(d.store, d.sender, d.metrics, d.logger.Named("listener"))
	d.listener.Subscribe(d.ctx, d.bus)

	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.logger.Info("UDS server listening", zap.String("socket", filepath.Join(d.baseDir, uds.DefaultSocketName)))

	if addr := d.store.Current().Daemon.MetricsListen; addr != "" {
		srv, err := newMetricsServer(addr, d.metrics)
		if err != nil {
			d.server.Stop()
			d.cleanup()
			return fmt.Errorf("start metrics endpoint: %w", err)
		}
		d.promSrv = srv
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := srv.serve(); err != nil {
				d.logger.Error("metrics endpoint stopped", zap.Error(err))
			}
		}()
		d.logger.Info("metrics endpoint listening", zap.String("addr", srv.Addr()))
	}

	d.wg.Add(2)
	go d.watchLoop()
	go func() {
		defer d.wg.Done()
		d.scheduler.Run(d.ctx)
	}()

	d.logger.Info("daemon ready")
	return nil
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.CmdPing, func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(uds.PingReply{Status: "ok", Pid: os.Getpid()})
	})

	d.server.Handle(uds.CmdTick, func(req *uds.Request) *uds.Response {
		summary, ran := d.Tick()
		if !ran {
			return uds.ErrorResponse(uds.ErrCodeBusy, "a tick is already running")
		}
		return uds.SuccessResponse(summary)
	})

	d.server.Handle(uds.CmdStatus, func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(d.metrics.Snapshot())
	})

	d.server.Handle(uds.CmdBuildCompleted, d.handleBuildCompleted)

	d.server.Handle(uds.CmdShutdown, func(req *uds.Request) *uds.Response {
		d.logger.Info("shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

func (d *Daemon) handleBuildCompleted(req *uds.Request) *uds.Response {
	var p uds.BuildCompletedParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if p.Job == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "job is required")
	}
	if p.DurationMs < 0 {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("duration_ms must not be negative, got %d", p.DurationMs))
	}

	ev := events.BuildCompleted{
		JobFullName: p.Job,
		Result:      p.Result,
		Duration:    time.Duration(p.DurationMs) * time.Millisecond,
	}
	if !d.bus.Publish(events.EventBuildCompleted, ev) {
		return uds.ErrorResponse(uds.ErrCodeBackpressure, "build event queue is full")
	}
	return uds.SuccessResponse(map[string]string{"status": "accepted"})
}

// watchLoop reloads the configuration whenever config.yaml changes.
func (d *Daemon) watchLoop() {
	defer d.wg.Done()

	target := filepath.Clean(d.store.Path())
	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			d.logger.Debug("config file event", zap.String("op", event.Op.String()))
			d.reloadConfig()
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("fsnotify error", zap.Error(err))
		}
	}
}

func (d *Daemon) reloadConfig() {
	cfg, err := d.store.Reload()
	if err != nil {
		d.logger.Warn("config reload failed, keeping previous config", zap.Error(err))
		return
	}
	d.level.SetLevel(parseLogLevel(cfg.Logging.Level))
	d.logger.Info("config reloaded",
		zap.Bool("statsd_configured", cfg.Statsd.Configured()),
		zap.Duration("interval", cfg.Schedule.Interval()),
		zap.String("level", d.level.Level().String()))
}

// waitSignals blocks until a shutdown signal arrives or shutdown was requested another way.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		go func() {
			select {
			case <-sigCh:
				d.logger.Warn("received second signal, forcing exit")
				os.Exit(1)
			case <-d.done:
			}
		}()
		d.Shutdown()
	case <-d.ctx.Done():
	}
}

// Shutdown performs graceful shutdown. Safe to call more than once.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		defer close(d.done)
		d.logger.Info("shutdown started")

		d.cancel()

		if d.watcher != nil {
			d.watcher.Close()
		}
		d.server.Stop()

		timeout := time.Duration(d.store.Current().Daemon.ShutdownTimeoutSec) * time.Second
		if d.promSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			if err := d.promSrv.srv.Shutdown(ctx); err != nil {
				d.logger.Warn("metrics endpoint shutdown", zap.Error(err))
			}
			cancel()
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			d.logger.Info("all goroutines drained")
		case <-time.After(timeout):
			d.logger.Warn("shutdown timeout, some operations may be incomplete", zap.Duration("timeout", timeout))
		}

		d.bus.Close()
		if err := d.metrics.Flush(time.Now()); err != nil {
			d.logger.Warn("persist state on shutdown", zap.Error(err))
		}

		d.logger.Info("daemon stopped")
		d.cleanup()
	})
}

// cleanup releases resources. It also runs when start fails part way.
func (d *Daemon) cleanup() {
	d.cancel()
	if d.watcher != nil {
		d.watcher.Close()
	}
	d.bus.Close()
	os.Remove(filepath.Join(d.baseDir, uds.DefaultSocketName))
	d.fileLock.Unlock()
	_ = d.logger.Sync()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

// Tick runs one tick outside the schedule, as the tick command does.
func (d *Daemon) Tick() (model.TickSummary, bool) {
	var summary model.TickSummary
	ran := d.scheduler.TryRun(d.ctx, func(ctx context.Context) {
		summary = d.pipeline.Tick(ctx)
	})
	return summary, ran
}
