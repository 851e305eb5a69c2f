package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"jobwatch/internal/config"
	"jobwatch/internal/control"
	"jobwatch/internal/dedup"
	"jobwatch/internal/domain"
	"jobwatch/internal/eventbus"
	"jobwatch/internal/notify"
	"jobwatch/internal/notify/popup"
	"jobwatch/internal/notify/rabbitmq"
	"jobwatch/internal/notify/telegram"
	"jobwatch/internal/scheduler"
	"jobwatch/internal/service"
	"jobwatch/internal/source/upwork"
	"jobwatch/internal/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor and its local control server",
	RunE:  runMonitor,
}

var (
	runClamp  bool
	runWatch  bool
	runResume bool
)

func init() {
	runCmd.Flags().BoolVar(&runClamp, "clamp-interval", false, "raise a poll interval below the minimum instead of rejecting it")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "reload the config file when it changes")
	runCmd.Flags().BoolVar(&runResume, "resume", true, "continue a run interrupted by a restart")
	rootCmd.AddCommand(runCmd)
}

// startSnapshot holds the config used by autostart, reloads and start
// requests that carry no body.
type startSnapshot struct {
	mu  sync.RWMutex
	cfg *config.Config
}

func (s *startSnapshot) set(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *startSnapshot) defaults() control.Defaults {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return control.Defaults{
		Config:     s.cfg.FilterConfig(),
		Credential: s.cfg.Credential(),
		Clamp:      runClamp || s.cfg.Monitor.ClampInterval,
	}
}

func startOptions(clamp bool) []scheduler.StartOption {
	if clamp {
		return []scheduler.StartOption{scheduler.WithClampInterval()}
	}
	return nil
}

func runMonitor(_ *cobra.Command, _ []string) error {
	logger := setupLogger("info")

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}
	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	kv, err := storage.Open(ctx, cfg.StorageConfig())
	if err != nil {
		logger.Error("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		return err
	}
	defer kv.Close()
	logger.Info("storage ready", "driver", cfg.Storage.Driver)

	dispatcher, closeChannels, err := buildDispatcher(cfg, logger)
	if err != nil {
		logger.Error("failed to set up notification channels", "error", err)
		return err
	}
	defer closeChannels()

	store := dedup.NewStore(kv, logger)
	source := upwork.New(cfg.SourceConfig(), logger)
	ticks := service.NewTickService(source, store, dispatcher, logger)
	engine := scheduler.NewEngine(ticks, store, dispatcher, kv, eventbus.New(), logger)

	snap := &startSnapshot{cfg: cfg}
	server := control.New(engine, snap.defaults, cfg.ControlConfig(), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return server.ListenAndServe(gctx, cfg.Control.Addr) })
	if runWatch {
		g.Go(func() error {
			return config.Watch(gctx, configPath, logger, func(next *config.Config) {
				reload(gctx, engine, snap, next, logger)
			})
		})
	}

	resumed := false
	if runResume {
		resumed, err = engine.Resume(ctx, cfg.Credential())
		if err != nil {
			logger.Warn("could not resume previous run", "error", err)
		}
	}
	if !resumed && cfg.Monitor.Autostart {
		d := snap.defaults()
		if err := engine.Start(ctx, d.Config, d.Credential, startOptions(d.Clamp)...); err != nil {
			logger.Error("autostart failed", "error", err)
		}
	}

	<-gctx.Done()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("engine shutdown timed out", "error", err)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("monitor stopped with error", "error", err)
		return err
	}
	logger.Info("monitor stopped")
	return nil
}

// reload swaps the start snapshot. A running engine is restarted with the
// new config, which begins a fresh baseline.
func reload(ctx context.Context, engine *scheduler.Engine, snap *startSnapshot, next *config.Config, logger *slog.Logger) {
	if err := next.Validate(); err != nil {
		logger.Warn("ignoring invalid config", "error", err)
		return
	}
	snap.set(next)

	if !engine.IsRunning() {
		return
	}
	if err := engine.Stop(); err != nil {
		logger.Warn("stop before reload", "error", err)
	}
	d := snap.defaults()
	if err := engine.Start(ctx, d.Config, d.Credential, startOptions(d.Clamp)...); err != nil {
		logger.Error("restart after reload failed", "error", err)
	}
}

// buildDispatcher registers each channel that has the settings it needs.
// The broker channel dials only when a monitor run can use it.
func buildDispatcher(cfg *config.Config, logger *slog.Logger) (*notify.Dispatcher, func(), error) {
	d := notify.NewDispatcher(cfg.DispatcherConfig(), logger)
	closers := []func() error{}
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	d.Register(domain.ChannelLocalPopup, popup.New(os.Stderr, popup.Config{Bell: cfg.Notify.Popup.Bell}), notify.PopupRenderer{})

	if cfg.Notify.Telegram.Token != "" {
		tg, err := telegram.New(cfg.TelegramConfig(), logger)
		if err != nil {
			return nil, closeAll, fmt.Errorf("telegram: %w", err)
		}
		d.Register(domain.ChannelExternalMessaging, tg, notify.MarkdownRenderer{})
	}

	if cfg.FilterConfig().HasChannel(domain.ChannelBroker) {
		pub, err := rabbitmq.New(cfg.RabbitMQConfig(), logger)
		if err != nil {
			return nil, closeAll, fmt.Errorf("rabbitmq: %w", err)
		}
		closers = append(closers, pub.Close)
		d.Register(domain.ChannelBroker, pub, notify.MarkdownRenderer{})
	}

	for _, kind := range cfg.FilterConfig().NotifyChannels {
		if !d.Registered(kind) {
			logger.Warn("notify channel enabled but not configured", "channel", kind)
		}
	}

	return d, closeAll, nil
}
