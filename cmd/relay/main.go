package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/noticerelay/internal/config"
	"github.com/hamed0406/noticerelay/internal/httpapi"
	apimw "github.com/hamed0406/noticerelay/internal/httpapi/middleware"
	"github.com/hamed0406/noticerelay/internal/logging"
	"github.com/hamed0406/noticerelay/internal/notify"
	"github.com/hamed0406/noticerelay/internal/queue"
	"github.com/hamed0406/noticerelay/internal/render"
	"github.com/hamed0406/noticerelay/internal/repo"
	"github.com/hamed0406/noticerelay/internal/repo/file"
	"github.com/hamed0406/noticerelay/internal/repo/postgres"
	"github.com/hamed0406/noticerelay/internal/repo/sqlite"
	"github.com/hamed0406/noticerelay/internal/scheduler"
	"github.com/hamed0406/noticerelay/internal/source"
	"github.com/hamed0406/noticerelay/internal/tracker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfgPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.NewLogger(logging.Options{Dir: cfg.Log.Dir, Level: cfg.Log.Level, Console: cfg.Log.Console})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("relay_exit", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps := cfg.Competitions()
	banner(logger, cfg)

	notifier, err := openNotifier(cfg)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	renderer, err := render.New(cfg.Notify.Timezone)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(notifier, renderer, cfg.Notify.RatePerSec, cfg.Notify.Timeout)

	mailbox, err := openMailbox(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("mailbox: %w", err)
	}

	q := queue.New(mailbox, dispatcher, logger, queue.Options{Tick: cfg.Queue.Tick, MaxRetries: cfg.Queue.MaxRetries})
	if n, err := q.LoadFromDisk(ctx); err != nil {
		// a bad mailbox never blocks startup
		logger.Error("mailbox_load_failed", zap.Error(err), zap.Int("reloaded", n),
			zap.Bool("startup_load_error", queue.IsStartupLoadError(err)))
	} else if n > 0 {
		logger.Info("mailbox_reloaded", zap.Int("count", n))
	}

	tr := tracker.New()
	src := source.NewHTTPSource(cfg.Platform.BaseURL, cfg.Platform.Timeout, cfg.Platform.InsecureTLS, logger)
	poller := scheduler.NewPoller(logger, src, tr, dispatcher, q, comps, cfg.Platform.BaseURL, cfg.PollInterval())

	var api *http.Server
	if cfg.API.Addr != "" {
		srv := httpapi.NewServer(logger, q, tr, poller, comps)
		keys := apimw.Keys{Public: cfg.API.PublicKeys, Admin: cfg.API.AdminKeys}
		api = &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           srv.Router(keys, cfg.API.AllowedOrigins, cfg.API.RPM, cfg.API.Burst),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("api_listen", zap.String("addr", cfg.API.Addr))
			if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("api_listen_error", zap.Error(err))
			}
		}()
	}

	q.Start(ctx)

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("poller_exit", zap.Error(err))
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	logger.Info("relay_started")

	<-ctx.Done()
	logger.Info("relay_stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	<-pollDone

	var errs error
	if api != nil {
		errs = multierr.Append(errs, api.Shutdown(sctx))
	}
	errs = multierr.Append(errs, q.Shutdown(sctx))
	errs = multierr.Append(errs, mailbox.Close())
	if errs != nil {
		return fmt.Errorf("shutdown: %w", errs)
	}
	logger.Info("relay_stopped")
	return nil
}

func banner(logger *zap.Logger, cfg config.Config) {
	comps := cfg.Competitions()
	names := make([]string, 0, len(comps))
	for _, c := range comps {
		names = append(names, fmt.Sprintf("%d:%s", c.ID, c.DisplayName()))
	}
	logger.Info("relay_config",
		zap.String("platform", cfg.Platform.BaseURL),
		zap.Duration("poll_interval", cfg.PollInterval()),
		zap.Strings("competitions", names),
		zap.String("notifier", cfg.Notify.Kind),
		zap.String("queue_driver", cfg.Queue.Driver),
	)
}

func openNotifier(cfg config.Config) (notify.Notifier, error) {
	n := cfg.Notify
	switch n.Kind {
	case "discord":
		return notify.NewDiscord(n.Discord.WebhookURL, n.Discord.Username), nil
	case "slack":
		return notify.NewSlack(n.Slack.WebhookURL), nil
	case "telegram":
		return notify.NewTelegram(n.Telegram.Token, n.Telegram.ChatID, n.Telegram.APIURL, n.Timeout)
	}
	return nil, fmt.Errorf("unknown notifier %q", n.Kind)
}

func openMailbox(ctx context.Context, cfg config.Config, logger *zap.Logger) (repo.Mailbox, error) {
	switch cfg.Queue.Driver {
	case "", "file":
		st, err := file.New(cfg.Queue.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("mailbox_file", zap.String("path", st.Path()))
		return st, nil
	case "sqlite":
		return sqlite.New(ctx, cfg.Queue.Path)
	case "postgres":
		return postgres.New(ctx, cfg.Queue.DSN, logger)
	}
	return nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
}
